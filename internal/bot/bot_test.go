package bot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/BTreeMap/ChatWarden/internal/models"
	"github.com/BTreeMap/ChatWarden/internal/moderation"
	"github.com/BTreeMap/ChatWarden/internal/sticker"
	"github.com/BTreeMap/ChatWarden/internal/store"
	"github.com/BTreeMap/ChatWarden/internal/whatsapp"
)

const (
	testGroup = "120363000000000001@g.us"
	ownerID   = "628100@c.us"
	adminID   = "628200@c.us"
	memberID  = "628300@c.us"
	targetID  = "628400@c.us"
)

type fakeGenerator struct {
	answer    string
	err       error
	system    string
	prompt    string
	mimeType  string
	textCalls int
	imgCalls  int
}

func (f *fakeGenerator) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	f.textCalls++
	f.system, f.prompt = system, prompt
	return f.answer, f.err
}

func (f *fakeGenerator) DescribeImage(ctx context.Context, prompt, mimeType string, data []byte) (string, error) {
	f.imgCalls++
	f.prompt, f.mimeType = prompt, mimeType
	return f.answer, f.err
}

type fixture struct {
	bot     *Bot
	gw      *whatsapp.MockClient
	store   *moderation.Store
	archive *store.InMemoryStore
	gen     *fakeGenerator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		gw:      whatsapp.NewMockClient(),
		store:   moderation.NewStore(filepath.Join(t.TempDir(), "moderation.json")),
		archive: store.NewInMemoryStore(),
		gen:     &fakeGenerator{answer: "42"},
	}
	f.gw.Contacts[targetID] = "Siti"
	b, err := New(Deps{
		Gateway:   f.gw,
		Store:     f.store,
		Policy:    moderation.NewPolicy([]string{"628100"}),
		Generator: f.gen,
		Archive:   f.archive,
	}, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.bot = b
	f.update(t, func(doc *models.ModerationDocument) { doc.Grant(adminID) })
	return f
}

func (f *fixture) update(t *testing.T, fn func(doc *models.ModerationDocument)) {
	t.Helper()
	if err := f.store.Update(context.Background(), func(doc *models.ModerationDocument) error {
		fn(doc)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) doc(t *testing.T) *models.ModerationDocument {
	t.Helper()
	doc, err := f.store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func (f *fixture) send(t *testing.T, msg *models.InboundMessage) {
	t.Helper()
	if err := f.bot.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage(%q) failed: %v", msg.Body, err)
	}
}

func groupMsg(sender, body string) *models.InboundMessage {
	return &models.InboundMessage{ID: "M-" + body, ChatID: testGroup, Sender: sender, Body: body, ChatType: models.ChatGroup}
}

func replyTo(msg *models.InboundMessage, author, body string) *models.InboundMessage {
	msg.Quoted = &models.QuotedMessage{ID: "Q1", Author: author, Body: body}
	return msg
}

func lastReply(t *testing.T, gw *whatsapp.MockClient) string {
	t.Helper()
	replies := gw.Texts("reply")
	if len(replies) == 0 {
		t.Fatal("no reply sent")
	}
	return replies[len(replies)-1]
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("expected error for missing dependencies")
	}
}

func TestKickDeniedForNonAdmin(t *testing.T) {
	f := newFixture(t)
	f.send(t, replyTo(groupMsg(memberID, "kick him"), targetID, "spam"))

	out := f.gw.Outbox()
	if len(out) != 1 || out[0].Kind != "reply" || out[0].Text != MsgAdminOnly {
		t.Fatalf("expected only the admin denial, got %+v", out)
	}
	if removed := f.gw.RemovedFrom(testGroup); len(removed) != 0 {
		t.Errorf("non-admin must not remove anyone, removed %v", removed)
	}
}

func TestKickByListedAdmin(t *testing.T) {
	f := newFixture(t)
	f.send(t, replyTo(groupMsg(adminID, "kick him"), targetID, "spam"))

	if removed := f.gw.RemovedFrom(testGroup); len(removed) != 1 || removed[0] != targetID {
		t.Fatalf("expected %s removed, got %v", targetID, removed)
	}
	if got := lastReply(t, f.gw); got != "✅ Siti has been kicked." {
		t.Errorf("unexpected reply %q", got)
	}

	f.gw.RemoveErr = errors.New("not admin")
	f.send(t, replyTo(groupMsg(ownerID, "kick him"), targetID, "spam"))
	if got := lastReply(t, f.gw); got != MsgKickFailed {
		t.Errorf("unexpected failure reply %q", got)
	}
}

func TestModerationPreconditions(t *testing.T) {
	tests := []struct {
		name string
		msg  *models.InboundMessage
		want string
	}{
		{"silence without quote", groupMsg(ownerID, "silent him"), "Please reply to a message to silent the sender."},
		{"unsilence without quote", groupMsg(ownerID, "unsilent him"), "Please reply to a message to unsilent the sender."},
		{"kick without quote", groupMsg(ownerID, "kick him"), "Please reply to a message to kick the sender."},
		{"allow without quote", groupMsg(ownerID, "allow him"), "Please reply to a message to grant admin access to the sender."},
		{"revoke without quote", groupMsg(ownerID, "revoke him"), "Please reply to a message to revoke admin access from the sender."},
		{"silence in direct chat", &models.InboundMessage{ID: "D1", ChatID: ownerID, Sender: ownerID, Body: "silent him"}, MsgGroupOnly},
		{"allow by listed admin", replyTo(groupMsg(adminID, "allow him"), targetID, "x"), MsgOwnerOnly},
		{"list by listed admin", groupMsg(adminID, "list admins"), MsgOwnerOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.send(t, tt.msg)
			if got := lastReply(t, f.gw); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContactFailureStopsMutation(t *testing.T) {
	f := newFixture(t)
	f.gw.ContactErr = errors.New("lookup failed")
	f.send(t, replyTo(groupMsg(ownerID, "silent him"), targetID, "x"))

	if got := lastReply(t, f.gw); got != MsgContactFailed {
		t.Errorf("unexpected reply %q", got)
	}
	if f.doc(t).IsMuted(targetID) {
		t.Error("target must not be muted when the contact lookup fails")
	}
}

func TestSilenceFlow(t *testing.T) {
	f := newFixture(t)
	f.send(t, replyTo(groupMsg(adminID, "silent him"), targetID, "x"))
	if got := lastReply(t, f.gw); got != "✅ Siti is now muted." {
		t.Errorf("unexpected reply %q", got)
	}
	f.send(t, replyTo(groupMsg(adminID, "silent him"), "628400@s.whatsapp.net", "x"))
	if got := lastReply(t, f.gw); got != "⚠️ Siti is already muted." {
		t.Errorf("muting twice should be idempotent, got %q", got)
	}
	if doc := f.doc(t); len(doc.Muted) != 1 {
		t.Errorf("mute list should hold one entry, got %v", doc.Muted)
	}

	// a muted member's command is deleted instead of executed
	f.send(t, groupMsg(targetID, "!tagall"))
	out := f.gw.Outbox()
	if last := out[len(out)-1]; last.Kind != "delete" || last.QuotedID != "M-!tagall" {
		t.Fatalf("expected deletion, got %+v", last)
	}
	doc := f.doc(t)
	if len(doc.Log) != 1 || doc.Log[0].Author != targetID || doc.Log[0].GroupID != testGroup || doc.Log[0].Body != "!tagall" {
		t.Errorf("unexpected deletion log %+v", doc.Log)
	}

	// direct messages from a muted member are classified normally
	f.send(t, &models.InboundMessage{ID: "D1", ChatID: targetID, Sender: targetID, Body: "!groupid"})
	if got := lastReply(t, f.gw); got != MsgGroupOnlyID {
		t.Errorf("unexpected direct reply %q", got)
	}

	f.send(t, replyTo(groupMsg(ownerID, "unsilent him"), targetID, "x"))
	if got := lastReply(t, f.gw); got != "✅ Siti is now unmuted." {
		t.Errorf("unexpected reply %q", got)
	}
	f.send(t, replyTo(groupMsg(ownerID, "unsilent him"), targetID, "x"))
	if got := lastReply(t, f.gw); got != "⚠️ Siti is not muted." {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestDeleteMutedFailureIsQuiet(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(doc *models.ModerationDocument) { doc.Mute(memberID) })
	f.gw.SendErr = errors.New("gone")

	err := f.bot.HandleMessage(context.Background(), groupMsg(memberID, "hello"))
	if err == nil || !strings.Contains(err.Error(), "gone") {
		t.Fatalf("expected the delete failure to be returned, got %v", err)
	}
	if replies := f.gw.Texts("reply"); len(replies) != 0 {
		t.Errorf("nothing should be posted to the chat, got %v", replies)
	}
	if doc := f.doc(t); len(doc.Log) != 0 {
		t.Errorf("failed deletion must not be logged, got %+v", doc.Log)
	}
}

func TestAdminGrantRevokeAndList(t *testing.T) {
	f := newFixture(t)
	f.send(t, groupMsg(ownerID, "list admins"))
	if got := lastReply(t, f.gw); got != MsgAdminListHeader+"1. 628200\n" {
		t.Errorf("unexpected list %q", got)
	}

	f.send(t, replyTo(groupMsg(ownerID, "allow him"), targetID, "x"))
	if got := lastReply(t, f.gw); got != "✅ Siti has been granted admin access." {
		t.Errorf("unexpected reply %q", got)
	}
	f.send(t, replyTo(groupMsg(ownerID, "allow him"), targetID, "x"))
	if got := lastReply(t, f.gw); got != "⚠️ Siti already has admin access." {
		t.Errorf("unexpected reply %q", got)
	}
	f.send(t, groupMsg(ownerID, "list admins"))
	if got := lastReply(t, f.gw); got != MsgAdminListHeader+"1. 628200\n2. Siti\n" {
		t.Errorf("unexpected list %q", got)
	}

	f.send(t, replyTo(groupMsg(ownerID, "revoke him"), targetID, "x"))
	if got := lastReply(t, f.gw); got != "✅ Admin access revoked from Siti." {
		t.Errorf("unexpected reply %q", got)
	}
	f.send(t, replyTo(groupMsg(ownerID, "revoke him"), targetID, "x"))
	if got := lastReply(t, f.gw); got != "⚠️ Siti does not have admin access." {
		t.Errorf("unexpected reply %q", got)
	}

	f.update(t, func(doc *models.ModerationDocument) { doc.Revoke(adminID) })
	f.send(t, groupMsg(ownerID, "list admins"))
	if got := lastReply(t, f.gw); got != MsgNoAdmins {
		t.Errorf("unexpected empty list reply %q", got)
	}
}

func TestRepeatQuoted(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		quoted  bool
		replies []string
	}{
		{"three times", "ulang 3", true, []string{"halo", "halo", "halo"}},
		{"zero", "ulang 0", true, []string{MsgRepeatFormat}},
		{"not a number", "ulang abc", true, []string{MsgRepeatFormat}},
		{"missing count", "ulang", true, []string{MsgRepeatFormat}},
		{"no quote", "ulang 2", false, []string{MsgRepeatNoQuote}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			msg := groupMsg(memberID, tt.body)
			if tt.quoted {
				replyTo(msg, targetID, "halo")
			}
			f.send(t, msg)
			got := f.gw.Texts("reply")
			if strings.Join(got, "|") != strings.Join(tt.replies, "|") {
				t.Errorf("replies = %q, want %q", got, tt.replies)
			}
		})
	}
}

func TestTagAll(t *testing.T) {
	f := newFixture(t)
	f.gw.Groups[testGroup] = &models.GroupInfo{ID: testGroup, Participants: []models.GroupParticipant{
		{ID: ownerID}, {ID: memberID}, {ID: "777@lid"},
	}}
	f.send(t, groupMsg(memberID, "!tagall"))

	out := f.gw.Outbox()
	if len(out) != 2 || out[0].Text != MsgTagAllAck {
		t.Fatalf("expected ack then mentions, got %+v", out)
	}
	if out[1].Kind != "mentions" || out[1].Text != "@628100 @628300 @777 " || len(out[1].Mentions) != 3 {
		t.Errorf("unexpected mention message %+v", out[1])
	}
}

func TestGroupInfoCard(t *testing.T) {
	f := newFixture(t)
	f.gw.Groups[testGroup] = &models.GroupInfo{ID: testGroup, Name: "Warga RT 05", Participants: []models.GroupParticipant{{ID: ownerID}}}
	f.send(t, groupMsg(memberID, "!IDGRUP"))
	got := lastReply(t, f.gw)
	if !strings.Contains(got, "Nama: *Warga RT 05*") || !strings.Contains(got, "`"+testGroup+"`") {
		t.Errorf("unexpected card %q", got)
	}
}

func TestAiText(t *testing.T) {
	f := newFixture(t)
	f.send(t, groupMsg(adminID, "do tell a joke"))
	if got := lastReply(t, f.gw); got != MsgOwnerOnly || f.gen.textCalls != 0 {
		t.Fatalf("listed admins may not use text generation, got %q", got)
	}

	f.send(t, replyTo(groupMsg(ownerID, "do summarise"), targetID, "long text"))
	if f.gen.prompt != "summarise\n\nlong text" || f.gen.system != DefaultSystemPrompt {
		t.Errorf("unexpected prompt %q / system %q", f.gen.prompt, f.gen.system)
	}
	if got := lastReply(t, f.gw); got != "42" {
		t.Errorf("unexpected answer %q", got)
	}

	f.gen.err = errors.New("quota")
	f.send(t, groupMsg(ownerID, "do again"))
	if got := lastReply(t, f.gw); got != MsgAIFailed {
		t.Errorf("unexpected apology %q", got)
	}
}

func TestAiVision(t *testing.T) {
	f := newFixture(t)
	f.gw.Media["do"] = []byte("jpeg")
	imageMsg := func(sender, mime string) *models.InboundMessage {
		msg := groupMsg(sender, "do")
		msg.Media = &models.MediaRef{Kind: models.MediaImage, MimeType: mime, Caption: "do"}
		return msg
	}

	f.send(t, imageMsg(memberID, "image/jpeg"))
	if got := lastReply(t, f.gw); got != MsgAdminOnly {
		t.Errorf("members must be denied, got %q", got)
	}

	f.send(t, imageMsg(adminID, "image/jpeg"))
	if got := lastReply(t, f.gw); got != MsgVisionPrefix+"42" {
		t.Errorf("unexpected answer %q", got)
	}
	if f.gen.prompt != "What is in this picture? Describe it." || f.gen.mimeType != "image/jpeg" {
		t.Errorf("unexpected vision call %q %q", f.gen.prompt, f.gen.mimeType)
	}

	before := len(f.gw.Outbox())
	f.send(t, imageMsg(adminID, "video/mp4"))
	if len(f.gw.Outbox()) != before || f.gen.imgCalls != 1 {
		t.Error("non-image media must be ignored")
	}

	f.gen.err = errors.New("blocked")
	f.send(t, imageMsg(ownerID, "image/jpeg"))
	if got := lastReply(t, f.gw); got != MsgVisionFailed {
		t.Errorf("unexpected apology %q", got)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for x := 0; x < 8; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fakeFFmpeg writes a script that emits a minimal animated WebP header to its
// last argument.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\nprintf 'RIFF\\000\\000\\000\\000WEBPVP8X\\012\\000\\000\\000\\002' > \"$last\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func stickerMsg(kind models.MediaKind, mime string) *models.InboundMessage {
	msg := groupMsg(memberID, "!sticker")
	msg.Media = &models.MediaRef{Kind: kind, MimeType: mime}
	return msg
}

func TestSticker(t *testing.T) {
	f := newFixture(t)
	f.send(t, groupMsg(memberID, "!sticker"))
	if got := lastReply(t, f.gw); got != MsgStickerNoMedia {
		t.Errorf("unexpected reply %q", got)
	}

	f.gw.Media[string(models.MediaImage)] = pngBytes(t)
	msg := replyTo(groupMsg(memberID, "!sticker"), targetID, "")
	msg.Quoted.Media = &models.MediaRef{Kind: models.MediaImage, MimeType: "image/png"}
	f.send(t, msg)
	out := f.gw.Outbox()
	if last := out[len(out)-1]; last.Kind != "sticker" || !bytes.HasPrefix(last.Data, []byte("RIFF")) {
		t.Errorf("expected a WebP sticker, got %+v", last.Kind)
	}

	f.gw.DownloadErr = errors.New("expired")
	f.send(t, stickerMsg(models.MediaImage, "image/png"))
	if got := lastReply(t, f.gw); got != MsgStickerFailed {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestStickerReplies(t *testing.T) {
	quotedText := replyTo(stickerMsg(models.MediaImage, "image/png"), targetID, "just text")

	tests := []struct {
		name string
		msg  *models.InboundMessage
		want string
	}{
		{"quoted message without media", quotedText, MsgStickerNoMedia},
		{"video without ffmpeg", stickerMsg(models.MediaVideo, "video/mp4"), MsgStickerNoVideo},
		{"audio", stickerMsg(models.MediaAudio, "audio/ogg"), MsgStickerBadMedia},
		{"corrupt image", stickerMsg(models.MediaDocument, "image/png"), MsgStickerConvert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gw.Media[string(models.MediaImage)] = pngBytes(t)
			f.gw.Media[string(models.MediaVideo)] = []byte("mp4")
			f.gw.Media[string(models.MediaAudio)] = []byte("ogg")
			f.gw.Media[string(models.MediaDocument)] = []byte("not a png")
			f.send(t, tt.msg)
			if got := lastReply(t, f.gw); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnimatedSticker(t *testing.T) {
	f := newFixture(t, WithFFmpeg(fakeFFmpeg(t)))
	f.gw.Media[string(models.MediaVideo)] = []byte("mp4")
	f.send(t, stickerMsg(models.MediaVideo, "video/mp4"))

	out := f.gw.Outbox()
	if len(out) != 1 || out[0].Kind != "sticker" {
		t.Fatalf("expected one sticker, got %+v", out)
	}
	if !sticker.IsAnimated(out[0].Data) {
		t.Error("video sticker should carry the animation flag")
	}
}

func TestOwnMessagesIgnored(t *testing.T) {
	f := newFixture(t)
	msg := groupMsg(ownerID, "!tagall")
	msg.FromMe = true
	f.send(t, msg)
	if out := f.gw.Outbox(); len(out) != 0 {
		t.Errorf("own messages must not trigger commands, got %+v", out)
	}
}
