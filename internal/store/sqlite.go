package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is an Archive backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Archive.
var _ Archive = (*SQLiteStore)(nil)

// NewSQLiteStore opens the SQLite archive, creating its directory and tables.
// The DSN may be a plain path or a file: URI with query parameters.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if path := sqlitePath(dsn); path != "" && path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite archive ready")
	return &SQLiteStore{db: db}, nil
}

// sqlitePath extracts the file path from a plain path or file: URI.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	path, _, _ = strings.Cut(path, "?")
	return path
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, m ArchivedMessage) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO archived_messages
		 (chat_id, message_id, sender, push_name, body, media_kind, mime_type, raw, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.MessageID, m.Sender, nilIfEmpty(m.PushName), m.Body,
		nilIfEmpty(string(m.MediaKind)), nilIfEmpty(m.MimeType), m.Raw, m.SentAt.UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore SaveMessage failed", "error", err, "chat", m.ChatID, "id", m.MessageID)
		return false, fmt.Errorf("failed to archive message %s: %w", m.MessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read archive result: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, chatID, messageID string) (*ArchivedMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, message_id, sender, push_name, body, media_kind, mime_type, raw, sent_at, edited_at
		 FROM archived_messages WHERE chat_id = ? AND message_id = ?`, chatID, messageID)
	m, err := scanArchivedMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived message %s: %w", messageID, err)
	}
	return m, nil
}

func (s *SQLiteStore) UpdateBody(ctx context.Context, chatID, messageID, body string, editedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE archived_messages SET body = ?, edited_at = ? WHERE chat_id = ? AND message_id = ?`,
		body, editedAt.UTC(), chatID, messageID)
	if err != nil {
		return fmt.Errorf("failed to update archived message %s: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrArchiveNotFound
	}
	return nil
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM archived_messages WHERE sent_at < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune archive: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite archive")
	return s.db.Close()
}
