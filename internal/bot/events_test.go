package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ChatWarden/internal/models"
	"github.com/BTreeMap/ChatWarden/internal/store"
)

func (f *fixture) archiveMsg(t *testing.T, m store.ArchivedMessage) {
	t.Helper()
	if _, err := f.archive.SaveMessage(context.Background(), m); err != nil {
		t.Fatal(err)
	}
}

func TestHandleDeletedText(t *testing.T) {
	f := newFixture(t)
	f.archiveMsg(t, store.ArchivedMessage{ChatID: testGroup, MessageID: "M1", Sender: targetID, Body: "rahasia", SentAt: time.Now()})

	if err := f.bot.HandleDeleted(context.Background(), &models.MessageDeleted{ChatID: testGroup, MessageID: "M1"}); err != nil {
		t.Fatal(err)
	}
	texts := f.gw.Texts("text")
	if len(texts) != 1 || texts[0] != "*Deleted message*\n\n👤 *Sender:* Siti\n📝 *Message:* rahasia" {
		t.Errorf("unexpected notice %q", texts)
	}
}

func TestHandleDeletedMedia(t *testing.T) {
	f := newFixture(t)
	f.archiveMsg(t, store.ArchivedMessage{
		ChatID: testGroup, MessageID: "M2", Sender: memberID, PushName: "Andi",
		MediaKind: models.MediaImage, MimeType: "image/jpeg", Raw: []byte{1, 2, 3}, SentAt: time.Now(),
	})

	if err := f.bot.HandleDeleted(context.Background(), &models.MessageDeleted{ChatID: testGroup, MessageID: "M2"}); err != nil {
		t.Fatal(err)
	}
	out := f.gw.Outbox()
	if len(out) != 1 || out[0].Kind != "media" {
		t.Fatalf("expected media re-send, got %+v", out)
	}
	if !strings.Contains(out[0].Text, "(Media/Sticker)") || !strings.Contains(out[0].Text, "628300") {
		t.Errorf("unexpected caption %q", out[0].Text)
	}
}

func TestHandleDeletedSkips(t *testing.T) {
	f := newFixture(t)
	f.archiveMsg(t, store.ArchivedMessage{ChatID: testGroup, MessageID: "M3", Sender: targetID, Body: "spam", SentAt: time.Now()})
	f.update(t, func(doc *models.ModerationDocument) { doc.Mute(targetID) })

	ctx := context.Background()
	for _, evt := range []*models.MessageDeleted{
		{ChatID: testGroup, MessageID: "M3"},      // muted author
		{ChatID: testGroup, MessageID: "unknown"}, // never archived
		{ChatID: memberID, MessageID: "M3"},       // direct chat
	} {
		if err := f.bot.HandleDeleted(ctx, evt); err != nil {
			t.Errorf("HandleDeleted(%s) failed: %v", evt.MessageID, err)
		}
	}
	if out := f.gw.Outbox(); len(out) != 0 {
		t.Errorf("nothing should be re-posted, got %+v", out)
	}
}

func TestHandleEdited(t *testing.T) {
	f := newFixture(t)
	f.archiveMsg(t, store.ArchivedMessage{ChatID: testGroup, MessageID: "M1", Sender: targetID, Body: "helo", SentAt: time.Now()})

	evt := &models.MessageEdited{ChatID: testGroup, MessageID: "M1", Sender: targetID, NewBody: "halo", Timestamp: time.Now()}
	if err := f.bot.HandleEdited(context.Background(), evt); err != nil {
		t.Fatal(err)
	}
	texts := f.gw.Texts("text")
	if len(texts) != 1 || texts[0] != "*Edited message*\n\n *Sender:* Siti\n\n *Previous:* helo\n *New:* halo" {
		t.Errorf("unexpected notice %q", texts)
	}
	archived, _ := f.archive.GetMessage(context.Background(), testGroup, "M1")
	if archived.Body != "halo" || archived.EditedAt == nil {
		t.Errorf("archive should hold the new body, got %+v", archived)
	}

	evt = &models.MessageEdited{ChatID: testGroup, MessageID: "M9", Sender: memberID, NewBody: ""}
	if err := f.bot.HandleEdited(context.Background(), evt); err != nil {
		t.Fatal(err)
	}
	if texts := f.gw.Texts("text"); !strings.Contains(texts[1], "*Previous:* (empty)\n *New:* (empty)") {
		t.Errorf("unknown originals render as empty, got %q", texts[1])
	}
}

func TestHandleParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.Contacts["555@lid"] = "Rina"

	if err := f.bot.HandleParticipants(ctx, &models.ParticipantsChanged{
		GroupID: testGroup, Action: models.ParticipantJoined, Participants: []string{memberID, "555@lid"},
	}); err != nil {
		t.Fatal(err)
	}
	out := f.gw.Outbox()
	if len(out) != 2 {
		t.Fatalf("expected two greetings, got %+v", out)
	}
	if out[0].Kind != "mentions" || out[0].Text != "Selamat datang @628300! 🎉\nSilakan cek deskripsi grup ya." || out[0].Mentions[0] != memberID {
		t.Errorf("unexpected mention greeting %+v", out[0])
	}
	if out[1].Kind != "text" || !strings.HasPrefix(out[1].Text, "Selamat datang Rina!") {
		t.Errorf("linked identities are greeted by name, got %+v", out[1])
	}

	if err := f.bot.HandleParticipants(ctx, &models.ParticipantsChanged{
		GroupID: testGroup, Action: models.ParticipantLeft, Participants: []string{targetID},
	}); err != nil {
		t.Fatal(err)
	}
	if last := f.gw.Outbox()[2]; last.Text != "👋 @628400 telah meninggalkan grup." {
		t.Errorf("unexpected farewell %q", last.Text)
	}
}
