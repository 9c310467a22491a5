// Package moderation persists the moderation document and decides who may run
// privileged commands.
package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

const (
	// DefaultFileName is the document name inside the state directory.
	DefaultFileName = "moderation.json"

	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// Store is a file-backed moderation document. Every mutation goes through
// Update, which serialises load-modify-save inside the process. Running two
// processes against the same file is not supported; the state directory lock
// prevents it.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store for the JSON document at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the document on disk.
func (s *Store) Path() string {
	return s.path
}

// Load reads the document, creating an empty one when the file does not exist.
func (s *Store) Load(ctx context.Context) (*models.ModerationDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Save overwrites the whole document.
func (s *Store) Save(ctx context.Context, doc *models.ModerationDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, doc)
}

// Update loads the document, applies fn and saves the result. Nothing is
// written when fn returns an error.
func (s *Store) Update(ctx context.Context, fn func(doc *models.ModerationDocument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(ctx, doc)
}

// View loads the document and passes a private copy to fn.
func (s *Store) View(ctx context.Context, fn func(doc *models.ModerationDocument)) error {
	doc, err := s.Load(ctx)
	if err != nil {
		return err
	}
	fn(doc)
	return nil
}

func (s *Store) load(ctx context.Context) (*models.ModerationDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("ModerationStore.load: document missing, creating default", "path", s.path)
		doc := models.NewModerationDocument()
		if err := s.save(ctx, doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read moderation document %s: %w", s.path, err)
	}

	doc := &models.ModerationDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		slog.Error("ModerationStore.load: malformed document", "path", s.path, "error", err)
		return nil, fmt.Errorf("failed to parse moderation document %s: %w", s.path, err)
	}
	doc.Normalize()
	return doc, nil
}

func (s *Store) save(ctx context.Context, doc *models.ModerationDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc.Normalize()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode moderation document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create moderation directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".moderation-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp document: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp document: %w", err)
	}
	if err := tmp.Chmod(DefaultFilePermissions); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp document: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace moderation document: %w", err)
	}
	slog.Debug("ModerationStore.save: document written", "path", s.path, "muted", len(doc.Muted), "admins", len(doc.Admins), "log", len(doc.Log))
	return nil
}
