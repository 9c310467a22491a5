package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

const (
	deletedNotice = "*Deleted message*\n\n👤 *Sender:* %s\n📝 *Message:* %s"
	editedNotice  = "*Edited message*\n\n *Sender:* %s\n\n *Previous:* %s\n *New:* %s"
	welcomeText   = "Selamat datang %s! 🎉\nSilakan cek deskripsi grup ya."
	farewellText  = "👋 %s telah meninggalkan grup."
)

// HandleDeleted re-posts a group message that was deleted for everyone, using
// the archived copy. Messages removed from muted members are not re-posted.
func (b *Bot) HandleDeleted(ctx context.Context, evt *models.MessageDeleted) error {
	if !models.IsGroupID(evt.ChatID) || b.Archive == nil {
		return nil
	}
	archived, err := b.Archive.GetMessage(ctx, evt.ChatID, evt.MessageID)
	if errors.Is(err, models.ErrArchiveNotFound) {
		slog.Debug("Bot.HandleDeleted: original not archived", "chat", evt.ChatID, "id", evt.MessageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("recall deleted message: %w", err)
	}

	muted := false
	if err := b.Store.View(ctx, func(doc *models.ModerationDocument) {
		muted = doc.IsMuted(archived.Sender)
	}); err != nil {
		return err
	}
	if muted {
		return nil
	}

	name := b.displayName(ctx, archived.Sender, archived.PushName)
	body := archived.Body
	if body == "" {
		body = "(Media/Sticker)"
	}
	notice := fmt.Sprintf(deletedNotice, name, body)

	if b.deleteSticker != nil {
		if err := b.Gateway.SendSticker(ctx, evt.ChatID, b.deleteSticker); err != nil {
			slog.Warn("Bot.HandleDeleted: sticker failed", "error", err)
		}
	}
	if len(archived.Raw) > 0 {
		err := b.Gateway.SendMedia(ctx, evt.ChatID, archived, notice)
		if err == nil {
			slog.Info("Bot.HandleDeleted: re-posted media", "chat", evt.ChatID, "sender", archived.Sender)
			return nil
		}
		slog.Warn("Bot.HandleDeleted: media re-send failed, sending text", "error", err)
	}
	slog.Info("Bot.HandleDeleted: re-posted text", "chat", evt.ChatID, "sender", archived.Sender)
	return b.Gateway.SendText(ctx, evt.ChatID, notice)
}

// HandleEdited announces an edit in a group with the previous and new text.
func (b *Bot) HandleEdited(ctx context.Context, evt *models.MessageEdited) error {
	if !models.IsGroupID(evt.ChatID) {
		return nil
	}
	prev := ""
	if b.Archive != nil {
		archived, err := b.Archive.GetMessage(ctx, evt.ChatID, evt.MessageID)
		switch {
		case err == nil:
			prev = archived.Body
			if uerr := b.Archive.UpdateBody(ctx, evt.ChatID, evt.MessageID, evt.NewBody, evt.Timestamp); uerr != nil {
				slog.Warn("Bot.HandleEdited: archive update failed", "error", uerr)
			}
		case !errors.Is(err, models.ErrArchiveNotFound):
			slog.Warn("Bot.HandleEdited: archive lookup failed", "error", err)
		}
	}
	orEmpty := func(s string) string {
		if s == "" {
			return "(empty)"
		}
		return s
	}
	name := b.displayName(ctx, evt.Sender, evt.PushName)
	return b.Gateway.SendText(ctx, evt.ChatID, fmt.Sprintf(editedNotice, name, orEmpty(prev), orEmpty(evt.NewBody)))
}

// HandleParticipants greets joining members and announces departures.
func (b *Bot) HandleParticipants(ctx context.Context, evt *models.ParticipantsChanged) error {
	format := welcomeText
	if evt.Action == models.ParticipantLeft {
		format = farewellText
	}
	var errs []error
	for _, id := range evt.Participants {
		var err error
		if models.IsMentionable(id) {
			err = b.Gateway.SendMentions(ctx, evt.GroupID, fmt.Sprintf(format, "@"+models.UserPart(id)), []string{id})
		} else {
			name, cerr := b.Gateway.ContactName(ctx, id)
			if cerr != nil || name == "" {
				name = "anggota baru"
				if evt.Action == models.ParticipantLeft {
					name = "@" + models.UserPart(id)
				}
			}
			err = b.Gateway.SendText(ctx, evt.GroupID, fmt.Sprintf(format, name))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", evt.Action, id, err))
		}
	}
	return errors.Join(errs...)
}

// HandlePollVote only logs; poll results are not tracked.
func (b *Bot) HandlePollVote(ctx context.Context, evt *models.PollVote) error {
	slog.Info("Bot.HandlePollVote: vote changed", "chat", evt.ChatID, "voter", evt.Voter, "poll", evt.PollMessageID)
	return nil
}
