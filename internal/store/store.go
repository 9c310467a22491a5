// Package store provides the message archive for ChatWarden.
//
// Every inbound message is archived so deleted-for-everyone and edited
// messages can be shown with their original content. The archive lives in the
// same SQLite file or PostgreSQL database as the WhatsApp session.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
)

// ArchivedMessage is a stored inbound message.
type ArchivedMessage struct {
	ChatID    string
	MessageID string
	Sender    string
	PushName  string
	Body      string
	MediaKind models.MediaKind
	MimeType  string
	// Raw is the serialised wire message, used to re-send media.
	Raw      []byte
	SentAt   time.Time
	EditedAt *time.Time
}

// Archive stores and recalls inbound messages.
type Archive interface {
	// SaveMessage stores m. It returns false when the message was already
	// archived, which marks a redelivered event.
	SaveMessage(ctx context.Context, m ArchivedMessage) (bool, error)
	// GetMessage returns models.ErrArchiveNotFound when the message is unknown.
	GetMessage(ctx context.Context, chatID, messageID string) (*ArchivedMessage, error)
	// UpdateBody records the new text of an edited message.
	UpdateBody(ctx context.Context, chatID, messageID, body string, editedAt time.Time) error
	// PruneBefore removes messages sent before t and returns how many were deleted.
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
	Close() error
}

// Opts holds configuration for archive backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for the archive.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path or file: URI.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports whether dsn targets PostgreSQL or SQLite.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return DSNTypePostgres
	}
	// key=value form: "host=localhost user=bot dbname=chatwarden"
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// New opens the archive matching the DSN type.
func New(dsn string) (Archive, error) {
	if DetectDSNType(dsn) == DSNTypePostgres {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// InMemoryStore is an Archive kept in process memory. It is used in tests and
// when no database is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages map[string]ArchivedMessage
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{messages: make(map[string]ArchivedMessage)}
}

func archiveKey(chatID, messageID string) string {
	return chatID + "/" + messageID
}

func (s *InMemoryStore) SaveMessage(ctx context.Context, m ArchivedMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := archiveKey(m.ChatID, m.MessageID)
	if _, ok := s.messages[key]; ok {
		return false, nil
	}
	s.messages[key] = m
	return true, nil
}

func (s *InMemoryStore) GetMessage(ctx context.Context, chatID, messageID string) (*ArchivedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[archiveKey(chatID, messageID)]
	if !ok {
		return nil, models.ErrArchiveNotFound
	}
	return &m, nil
}

func (s *InMemoryStore) UpdateBody(ctx context.Context, chatID, messageID, body string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := archiveKey(chatID, messageID)
	m, ok := s.messages[key]
	if !ok {
		return models.ErrArchiveNotFound
	}
	m.Body = body
	m.EditedAt = &editedAt
	s.messages[key] = m
	return nil
}

func (s *InMemoryStore) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, m := range s.messages {
		if m.SentAt.Before(t) {
			delete(s.messages, key)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error { return nil }
