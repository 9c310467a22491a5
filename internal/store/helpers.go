package store

import (
	"database/sql"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanArchivedMessage scans an ArchivedMessage from a single sql.Row.
func scanArchivedMessage(row *sql.Row) (*ArchivedMessage, error) {
	var m ArchivedMessage
	var pushName, mediaKind, mimeType sql.NullString
	var editedAt sql.NullTime
	err := row.Scan(
		&m.ChatID, &m.MessageID, &m.Sender, &pushName, &m.Body,
		&mediaKind, &mimeType, &m.Raw, &m.SentAt, &editedAt,
	)
	if err != nil {
		return nil, err
	}
	m.PushName = pushName.String
	m.MediaKind = models.MediaKind(mediaKind.String)
	m.MimeType = mimeType.String
	if editedAt.Valid {
		m.EditedAt = &editedAt.Time
	}
	return &m, nil
}
