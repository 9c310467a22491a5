package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 10
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is an Archive backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Archive = (*PostgresStore)(nil)

// NewPostgresStore connects to PostgreSQL and applies the archive migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres archive ready")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, m ArchivedMessage) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO archived_messages
		 (chat_id, message_id, sender, push_name, body, media_kind, mime_type, raw, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (chat_id, message_id) DO NOTHING`,
		m.ChatID, m.MessageID, m.Sender, nilIfEmpty(m.PushName), m.Body,
		nilIfEmpty(string(m.MediaKind)), nilIfEmpty(m.MimeType), m.Raw, m.SentAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveMessage failed", "error", err, "chat", m.ChatID, "id", m.MessageID)
		return false, fmt.Errorf("failed to archive message %s: %w", m.MessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read archive result: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, chatID, messageID string) (*ArchivedMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, message_id, sender, push_name, body, media_kind, mime_type, raw, sent_at, edited_at
		 FROM archived_messages WHERE chat_id = $1 AND message_id = $2`, chatID, messageID)
	m, err := scanArchivedMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived message %s: %w", messageID, err)
	}
	return m, nil
}

func (s *PostgresStore) UpdateBody(ctx context.Context, chatID, messageID, body string, editedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE archived_messages SET body = $1, edited_at = $2 WHERE chat_id = $3 AND message_id = $4`,
		body, editedAt, chatID, messageID)
	if err != nil {
		return fmt.Errorf("failed to update archived message %s: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrArchiveNotFound
	}
	return nil
}

func (s *PostgresStore) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM archived_messages WHERE sent_at < $1`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to prune archive: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres archive")
	return s.db.Close()
}
