package whatsapp

import (
	"context"
	"sync"

	"github.com/BTreeMap/ChatWarden/internal/models"
	"github.com/BTreeMap/ChatWarden/internal/store"
)

// Sent records one outbound operation of a MockClient.
type Sent struct {
	Kind     string // text, reply, mentions, voice, sticker, media, delete
	ChatID   string
	Text     string
	Mentions []string
	Data     []byte
	MimeType string
	QuotedID string
}

// MockClient implements the gateway operations in memory for tests. Lookups are
// served from the exported maps; the *Err fields force failures.
type MockClient struct {
	mu sync.Mutex

	Sent    []Sent
	Removed map[string][]string

	Groups   map[string]*models.GroupInfo
	Contacts map[string]string
	Media    map[string][]byte // keyed by MediaRef.Caption or Kind when caption is empty

	SendErr     error
	RemoveErr   error
	ContactErr  error
	DownloadErr error
	GroupErr    error
}

// NewMockClient returns an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		Removed:  make(map[string][]string),
		Groups:   make(map[string]*models.GroupInfo),
		Contacts: make(map[string]string),
		Media:    make(map[string][]byte),
	}
}

func (m *MockClient) record(s Sent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, s)
	return nil
}

// Outbox returns a copy of the recorded operations.
func (m *MockClient) Outbox() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.Sent...)
}

// Texts returns the text of every recorded operation of the given kind.
func (m *MockClient) Texts(kind string) []string {
	var out []string
	for _, s := range m.Outbox() {
		if s.Kind == kind {
			out = append(out, s.Text)
		}
	}
	return out
}

func (m *MockClient) SendText(ctx context.Context, chatID, text string) error {
	return m.record(Sent{Kind: "text", ChatID: chatID, Text: text})
}

func (m *MockClient) Reply(ctx context.Context, msg *models.InboundMessage, text string) error {
	return m.record(Sent{Kind: "reply", ChatID: msg.ChatID, Text: text, QuotedID: msg.ID})
}

func (m *MockClient) SendMentions(ctx context.Context, chatID, text string, ids []string) error {
	return m.record(Sent{Kind: "mentions", ChatID: chatID, Text: text, Mentions: append([]string(nil), ids...)})
}

func (m *MockClient) SendVoice(ctx context.Context, chatID string, audio []byte, mimeType string) error {
	return m.record(Sent{Kind: "voice", ChatID: chatID, Data: audio, MimeType: mimeType})
}

func (m *MockClient) SendSticker(ctx context.Context, chatID string, webp []byte) error {
	return m.record(Sent{Kind: "sticker", ChatID: chatID, Data: webp, MimeType: "image/webp"})
}

func (m *MockClient) SendMedia(ctx context.Context, chatID string, archived *store.ArchivedMessage, caption string) error {
	return m.record(Sent{Kind: "media", ChatID: chatID, Text: caption, Data: archived.Raw, MimeType: archived.MimeType})
}

func (m *MockClient) DeleteForEveryone(ctx context.Context, msg *models.InboundMessage) error {
	return m.record(Sent{Kind: "delete", ChatID: msg.ChatID, QuotedID: msg.ID})
}

func (m *MockClient) RemoveParticipants(ctx context.Context, groupID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.Removed[groupID] = append(m.Removed[groupID], ids...)
	return nil
}

// RemovedFrom returns the identities removed from groupID.
func (m *MockClient) RemovedFrom(groupID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Removed[groupID]...)
}

func (m *MockClient) GroupInfo(ctx context.Context, groupID string) (*models.GroupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GroupErr != nil {
		return nil, m.GroupErr
	}
	if !models.IsGroupID(groupID) {
		return nil, models.ErrNotInGroup
	}
	if g, ok := m.Groups[groupID]; ok {
		return g, nil
	}
	return &models.GroupInfo{ID: groupID}, nil
}

func (m *MockClient) ContactName(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ContactErr != nil {
		return "", m.ContactErr
	}
	if name, ok := m.Contacts[id]; ok {
		return name, nil
	}
	return models.UserPart(id), nil
}

func (m *MockClient) DownloadMedia(ctx context.Context, ref *models.MediaRef) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DownloadErr != nil {
		return nil, m.DownloadErr
	}
	if ref == nil {
		return nil, models.ErrNoMedia
	}
	key := ref.Caption
	if key == "" {
		key = string(ref.Kind)
	}
	data, ok := m.Media[key]
	if !ok {
		return nil, models.ErrNoMedia
	}
	return data, nil
}
