package whatsapp

import (
	"context"
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/ChatWarden/internal/models"
	"github.com/BTreeMap/ChatWarden/internal/store"
)

// archiveTimeout bounds the archive write done on the whatsmeow event goroutine.
const archiveTimeout = 5 * time.Second

func (c *Client) handleEvent(raw interface{}) {
	switch v := raw.(type) {
	case *events.Message:
		c.onMessage(v)
	case *events.GroupInfo:
		for _, evt := range translateGroupInfo(v) {
			c.emit(evt)
		}
	case *events.PairSuccess:
		slog.Info("WhatsApp pairing succeeded", "id", v.ID.String())
		c.emit(&models.SessionEvent{Type: models.SessionAuthenticated})
	case *events.OfflineSyncPreview:
		c.emit(&models.SessionEvent{Type: models.SessionLoading})
	case *events.Connected:
		slog.Info("WhatsApp client connected successfully")
		c.persistQR("")
		c.emit(&models.SessionEvent{Type: models.SessionReady})
	case *events.Disconnected:
		slog.Warn("WhatsApp disconnected")
		c.emit(&models.SessionEvent{Type: models.SessionDisconnected, Reason: "connection lost"})
	case *events.LoggedOut:
		slog.Warn("WhatsApp session logged out", "reason", v.Reason)
		c.emit(&models.SessionEvent{Type: models.SessionDisconnected, Reason: "logged out"})
	case *events.StreamReplaced:
		slog.Warn("WhatsApp stream replaced by another client")
		c.emit(&models.SessionEvent{Type: models.SessionDisconnected, Reason: "stream replaced"})
	}
}

func (c *Client) onMessage(v *events.Message) {
	evt, archived := translateMessage(v)
	if evt == nil {
		return
	}
	if archived != nil && c.cfg.Archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		inserted, err := c.cfg.Archive.SaveMessage(ctx, *archived)
		cancel()
		if err != nil {
			slog.Warn("WhatsApp failed to archive message", "error", err, "id", archived.MessageID)
		} else if !inserted {
			slog.Debug("WhatsApp dropping redelivered message", "id", archived.MessageID, "chat", archived.ChatID)
			return
		}
	}
	c.emit(evt)
}

// translateMessage converts a whatsmeow message event. The archive record is
// non-nil only for regular inbound messages.
func translateMessage(v *events.Message) (models.Event, *store.ArchivedMessage) {
	msg := v.Message
	if msg == nil {
		return nil, nil
	}
	chatID := chatIdentity(v.Info.Chat)
	sender := identityOf(v.Info.Sender)
	ts := v.Info.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	if pm := msg.GetProtocolMessage(); pm != nil {
		switch pm.GetType() {
		case waE2E.ProtocolMessage_REVOKE:
			return &models.MessageDeleted{
				ChatID:    chatID,
				MessageID: pm.GetKey().GetID(),
				Sender:    sender,
				PushName:  v.Info.PushName,
				Timestamp: ts,
			}, nil
		case waE2E.ProtocolMessage_MESSAGE_EDIT:
			return &models.MessageEdited{
				ChatID:    chatID,
				MessageID: pm.GetKey().GetID(),
				Sender:    sender,
				PushName:  v.Info.PushName,
				NewBody:   messageText(pm.GetEditedMessage()),
				Timestamp: ts,
			}, nil
		}
		return nil, nil
	}

	if pu := msg.GetPollUpdateMessage(); pu != nil {
		return &models.PollVote{
			ChatID:        chatID,
			Voter:         sender,
			PollMessageID: pu.GetPollCreationMessageKey().GetID(),
			Timestamp:     ts,
		}, nil
	}

	in := &models.InboundMessage{
		ID:        v.Info.ID,
		ChatID:    chatID,
		Sender:    sender,
		PushName:  v.Info.PushName,
		Body:      messageText(msg),
		ChatType:  models.ChatDirect,
		Media:     mediaOf(msg),
		FromMe:    v.Info.IsFromMe,
		Timestamp: ts,
	}
	if v.Info.IsGroup {
		in.ChatType = models.ChatGroup
	}
	if ci := contextInfoOf(msg); ci != nil {
		if q := ci.GetQuotedMessage(); q != nil && ci.GetStanzaID() != "" {
			in.Quoted = &models.QuotedMessage{
				ID:     ci.GetStanzaID(),
				Author: models.NormalizeIdentity(ci.GetParticipant()),
				Body:   messageText(q),
				Media:  mediaOf(q),
			}
		}
		for _, m := range ci.GetMentionedJID() {
			in.Mentions = append(in.Mentions, models.NormalizeIdentity(m))
		}
	}

	archived := &store.ArchivedMessage{
		ChatID:    chatID,
		MessageID: in.ID,
		Sender:    sender,
		PushName:  in.PushName,
		Body:      in.Body,
		SentAt:    ts,
	}
	if in.Media != nil {
		archived.MediaKind = in.Media.Kind
		archived.MimeType = in.Media.MimeType
		if raw, err := proto.Marshal(msg); err == nil {
			archived.Raw = raw
		} else {
			slog.Warn("WhatsApp failed to serialise media message", "error", err, "id", in.ID)
		}
	}
	return in, archived
}

func translateGroupInfo(v *events.GroupInfo) []models.Event {
	groupID := chatIdentity(v.JID)
	actor := ""
	if v.Sender != nil {
		actor = identityOf(*v.Sender)
	}
	ts := v.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var out []models.Event
	changes := []struct {
		action models.ParticipantAction
		jids   []types.JID
	}{
		{models.ParticipantJoined, v.Join},
		{models.ParticipantLeft, v.Leave},
	}
	for _, ch := range changes {
		if len(ch.jids) == 0 {
			continue
		}
		ids := make([]string, 0, len(ch.jids))
		for _, j := range ch.jids {
			ids = append(ids, identityOf(j))
		}
		out = append(out, &models.ParticipantsChanged{
			GroupID:      groupID,
			Action:       ch.action,
			Participants: ids,
			Actor:        actor,
			Timestamp:    ts,
		})
	}
	return out
}

// chatIdentity keeps group and broadcast JIDs verbatim and normalises users.
func chatIdentity(jid types.JID) string {
	if jid.Server == types.GroupServer || jid.Server == types.BroadcastServer {
		return jid.String()
	}
	return identityOf(jid)
}

func messageText(m *waE2E.Message) string {
	switch {
	case m == nil:
		return ""
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetCaption()
	}
	return ""
}

func mediaOf(m *waE2E.Message) *models.MediaRef {
	switch {
	case m == nil:
		return nil
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		return &models.MediaRef{Kind: models.MediaImage, MimeType: img.GetMimetype(), Caption: img.GetCaption(), Source: img}
	case m.GetVideoMessage() != nil:
		vid := m.GetVideoMessage()
		return &models.MediaRef{Kind: models.MediaVideo, MimeType: vid.GetMimetype(), Caption: vid.GetCaption(), Source: vid}
	case m.GetAudioMessage() != nil:
		aud := m.GetAudioMessage()
		return &models.MediaRef{Kind: models.MediaAudio, MimeType: aud.GetMimetype(), Source: aud}
	case m.GetStickerMessage() != nil:
		st := m.GetStickerMessage()
		return &models.MediaRef{Kind: models.MediaSticker, MimeType: st.GetMimetype(), Source: st}
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		return &models.MediaRef{Kind: models.MediaDocument, MimeType: doc.GetMimetype(), Caption: doc.GetCaption(), Source: doc}
	}
	return nil
}

func contextInfoOf(m *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetContextInfo()
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetContextInfo()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetContextInfo()
	case m.GetAudioMessage() != nil:
		return m.GetAudioMessage().GetContextInfo()
	case m.GetStickerMessage() != nil:
		return m.GetStickerMessage().GetContextInfo()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetContextInfo()
	}
	return nil
}
