package moderation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), DefaultFileName))
}

func TestLoadCreatesDefault(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(doc.Muted) != 0 || len(doc.Admins) != 0 || len(doc.Log) != 0 || doc.LanguageIndex != 0 {
		t.Errorf("expected empty default document, got %+v", doc)
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("expected default document on disk: %v", err)
	}
}

func TestLoadBackfillsMissingFields(t *testing.T) {
	s := newTestStore(t)
	legacy := `{"muted":["a@c.us"],"log":[{"id":"m1","author":"a@c.us","body":"hi","group":"g@g.us","time":"2024-01-02T03:04:05Z"}]}`
	if err := os.WriteFile(s.Path(), []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}
	doc, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.Admins == nil || len(doc.Admins) != 0 {
		t.Errorf("admins not backfilled: %#v", doc.Admins)
	}
	if doc.LanguageIndex != 0 {
		t.Errorf("LanguageIndex = %d, want 0", doc.LanguageIndex)
	}
	if !doc.IsMuted("a@c.us") || len(doc.Log) != 1 || doc.Log[0].MessageID != "m1" {
		t.Errorf("existing fields were not preserved: %+v", doc)
	}
}

func TestLoadMalformed(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(context.Background()); err == nil {
		t.Fatal("expected parse error for malformed document")
	}
}

func TestUpdatePersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.Update(ctx, func(doc *models.ModerationDocument) error {
		doc.Mute("a@c.us")
		doc.Grant("b@c.us")
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	reopened := NewStore(s.Path())
	doc, err := reopened.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !doc.IsMuted("a@c.us") || !doc.IsListedAdmin("b@c.us") {
		t.Errorf("changes not persisted: %+v", doc)
	}
}

func TestUpdateErrorSkipsSave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.Update(ctx, func(doc *models.ModerationDocument) error {
		doc.Mute("a@c.us")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	doc, _ := s.Load(ctx)
	if doc.IsMuted("a@c.us") {
		t.Error("mutation should not be saved when fn fails")
	}
}

func TestLogBoundAcrossSaves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 250; i++ {
		err := s.Update(ctx, func(doc *models.ModerationDocument) error {
			doc.AppendDeletion(models.DeletionRecord{MessageID: string(rune('a'+i%26)) + string(rune('0'+i/26))})
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	doc, _ := s.Load(ctx)
	if len(doc.Log) != models.MaxDeletionLog {
		t.Errorf("log length = %d, want %d", len(doc.Log), models.MaxDeletionLog)
	}
}

func TestRotationPersistsAcrossRestart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var picked []models.Language
	for i := 0; i < 5; i++ {
		store := NewStore(s.Path())
		err := store.Update(ctx, func(doc *models.ModerationDocument) error {
			picked = append(picked, doc.NextLanguage())
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	want := []models.Language{"id", "en", "su", "jv", "id"}
	for i := range want {
		if picked[i] != want[i] {
			t.Errorf("firing %d picked %s, want %s", i+1, picked[i], want[i])
		}
	}
	doc, _ := s.Load(ctx)
	if doc.LanguageIndex != 1 {
		t.Errorf("LanguageIndex = %d, want 1", doc.LanguageIndex)
	}
}

func TestConcurrentUpdatesSerialised(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Update(ctx, func(doc *models.ModerationDocument) error {
				doc.Mute(string(rune('a'+i)) + "@c.us")
				return nil
			})
		}(i)
	}
	wg.Wait()
	doc, _ := s.Load(ctx)
	if len(doc.Muted) != 20 {
		t.Errorf("expected 20 muted members, got %d", len(doc.Muted))
	}
}

func TestPolicy(t *testing.T) {
	p := NewPolicy([]string{"628111", "628222@s.whatsapp.net"})
	doc := models.NewModerationDocument()

	if !p.IsOwner("628111@c.us") || !p.IsOwner("628222@c.us") || !p.IsOwner("628111@s.whatsapp.net") {
		t.Error("owners should match in every identity form")
	}
	if !p.IsAdmin("628111@c.us", doc) {
		t.Error("owner must be admin with an empty admin list")
	}
	if p.IsAdmin("628333@c.us", doc) {
		t.Error("stranger must not be admin")
	}
	doc.Grant("628333@c.us")
	if !p.IsAdmin("628333@c.us", doc) {
		t.Error("listed stranger must be admin")
	}
	if p.IsOwner("628333@c.us") {
		t.Error("listed admin must not become owner")
	}
}
