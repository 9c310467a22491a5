package models

import (
	"fmt"
	"time"
)

// EventKind tags each Event variant.
type EventKind string

const (
	EventKindSession      EventKind = "session"
	EventKindMessage      EventKind = "message"
	EventKindDeleted      EventKind = "message_deleted"
	EventKindEdited       EventKind = "message_edited"
	EventKindParticipants EventKind = "participants"
	EventKindPollVote     EventKind = "poll_vote"
)

// Event is implemented by every typed gateway event. Validate is called by the
// adapter before the event reaches the router.
type Event interface {
	Kind() EventKind
	Validate() error
}

// SessionEventType enumerates lifecycle notifications from the gateway.
type SessionEventType string

const (
	SessionQR            SessionEventType = "qr"
	SessionAuthenticated SessionEventType = "authenticated"
	SessionLoading       SessionEventType = "loading"
	SessionReady         SessionEventType = "ready"
	SessionDisconnected  SessionEventType = "disconnected"
)

// SessionEvent reports a change of the WhatsApp session lifecycle.
type SessionEvent struct {
	Type    SessionEventType
	QRCode  string
	Percent int
	Reason  string
}

func (e *SessionEvent) Kind() EventKind { return EventKindSession }

func (e *SessionEvent) Validate() error {
	switch e.Type {
	case SessionQR:
		if e.QRCode == "" {
			return fmt.Errorf("%w: qr event without code", ErrInvalidEvent)
		}
	case SessionAuthenticated, SessionLoading, SessionReady, SessionDisconnected:
	default:
		return fmt.Errorf("%w: unknown session event %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// ChatType distinguishes direct chats from groups.
type ChatType int

const (
	ChatDirect ChatType = iota
	ChatGroup
)

func (c ChatType) String() string {
	if c == ChatGroup {
		return "group"
	}
	return "direct"
}

// MediaKind is the category of an attachment.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaSticker  MediaKind = "sticker"
	MediaDocument MediaKind = "document"
)

// MediaRef points at downloadable media. Source holds the gateway specific
// handle the adapter needs to fetch the bytes.
type MediaRef struct {
	Kind     MediaKind
	MimeType string
	Caption  string
	Source   any
}

// QuotedMessage is the message an inbound reply references.
type QuotedMessage struct {
	ID     string
	Author string
	Body   string
	Media  *MediaRef
}

// InboundMessage is a validated incoming chat message.
type InboundMessage struct {
	ID        string
	ChatID    string
	Sender    string
	PushName  string
	Body      string
	ChatType  ChatType
	Media     *MediaRef
	Quoted    *QuotedMessage
	Mentions  []string
	FromMe    bool
	Timestamp time.Time
}

func (m *InboundMessage) Kind() EventKind { return EventKindMessage }

func (m *InboundMessage) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: message without id", ErrInvalidEvent)
	case m.ChatID == "":
		return fmt.Errorf("%w: message %s without chat", ErrInvalidEvent, m.ID)
	case m.Sender == "":
		return fmt.Errorf("%w: message %s without sender", ErrInvalidEvent, m.ID)
	}
	return nil
}

func (m *InboundMessage) IsGroup() bool   { return m.ChatType == ChatGroup }
func (m *InboundMessage) HasMedia() bool  { return m.Media != nil }
func (m *InboundMessage) HasQuoted() bool { return m.Quoted != nil }

// MessageDeleted is emitted when a message is revoked for everyone.
type MessageDeleted struct {
	ChatID    string
	MessageID string
	Sender    string
	PushName  string
	Timestamp time.Time
}

func (e *MessageDeleted) Kind() EventKind { return EventKindDeleted }

func (e *MessageDeleted) Validate() error {
	if e.ChatID == "" || e.MessageID == "" {
		return fmt.Errorf("%w: deletion without chat or message id", ErrInvalidEvent)
	}
	return nil
}

// MessageEdited is emitted when the author edits an earlier message.
type MessageEdited struct {
	ChatID    string
	MessageID string
	Sender    string
	PushName  string
	NewBody   string
	Timestamp time.Time
}

func (e *MessageEdited) Kind() EventKind { return EventKindEdited }

func (e *MessageEdited) Validate() error {
	if e.ChatID == "" || e.MessageID == "" {
		return fmt.Errorf("%w: edit without chat or message id", ErrInvalidEvent)
	}
	return nil
}

// ParticipantAction is a group membership change.
type ParticipantAction string

const (
	ParticipantJoined ParticipantAction = "joined"
	ParticipantLeft   ParticipantAction = "left"
)

// ParticipantsChanged lists members who joined or left a group.
type ParticipantsChanged struct {
	GroupID      string
	Action       ParticipantAction
	Participants []string
	Actor        string
	Timestamp    time.Time
}

func (e *ParticipantsChanged) Kind() EventKind { return EventKindParticipants }

func (e *ParticipantsChanged) Validate() error {
	if !IsGroupID(e.GroupID) {
		return fmt.Errorf("%w: membership change outside a group: %q", ErrInvalidEvent, e.GroupID)
	}
	if e.Action != ParticipantJoined && e.Action != ParticipantLeft {
		return fmt.Errorf("%w: unknown participant action %q", ErrInvalidEvent, e.Action)
	}
	if len(e.Participants) == 0 {
		return fmt.Errorf("%w: membership change without participants", ErrInvalidEvent)
	}
	return nil
}

// PollVote is emitted when a participant changes a poll vote.
type PollVote struct {
	ChatID        string
	Voter         string
	PollMessageID string
	Timestamp     time.Time
}

func (e *PollVote) Kind() EventKind { return EventKindPollVote }

func (e *PollVote) Validate() error {
	if e.ChatID == "" || e.PollMessageID == "" {
		return fmt.Errorf("%w: poll vote without chat or poll id", ErrInvalidEvent)
	}
	return nil
}
