// Package bot turns classified inbound events into replies and moderation
// actions. Handlers share the moderation store and talk to WhatsApp only
// through the Gateway interface.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/ChatWarden/internal/audit"
	"github.com/BTreeMap/ChatWarden/internal/command"
	"github.com/BTreeMap/ChatWarden/internal/genai"
	"github.com/BTreeMap/ChatWarden/internal/models"
	"github.com/BTreeMap/ChatWarden/internal/moderation"
	"github.com/BTreeMap/ChatWarden/internal/sticker"
	"github.com/BTreeMap/ChatWarden/internal/store"
)

// Gateway is the messaging surface the handlers need.
type Gateway interface {
	SendText(ctx context.Context, chatID, text string) error
	Reply(ctx context.Context, msg *models.InboundMessage, text string) error
	SendMentions(ctx context.Context, chatID, text string, ids []string) error
	SendVoice(ctx context.Context, chatID string, audio []byte, mimeType string) error
	SendSticker(ctx context.Context, chatID string, webp []byte) error
	SendMedia(ctx context.Context, chatID string, archived *store.ArchivedMessage, caption string) error
	DeleteForEveryone(ctx context.Context, msg *models.InboundMessage) error
	RemoveParticipants(ctx context.Context, groupID string, ids []string) error
	GroupInfo(ctx context.Context, groupID string) (*models.GroupInfo, error)
	ContactName(ctx context.Context, id string) (string, error)
	DownloadMedia(ctx context.Context, ref *models.MediaRef) ([]byte, error)
}

// DefaultSystemPrompt is the persona used for free-text generation.
const DefaultSystemPrompt = `You are a personal assistant named Do Assistant.
Always call him "Boss" with respect.
Be helpful, concise, and a little bit witty, but always loyal.`

// DefaultAITimeout bounds a single generation call.
const DefaultAITimeout = 60 * time.Second

// HandlerFunc handles one classified message.
type HandlerFunc func(ctx context.Context, msg *models.InboundMessage, res command.Result) error

// Deps are the collaborators of a Bot. Gateway, Store and Policy are required.
type Deps struct {
	Gateway   Gateway
	Store     *moderation.Store
	Policy    *moderation.Policy
	Generator genai.Generator
	Archive   store.Archive
	Audit     audit.Sink
}

// Opts holds optional Bot settings.
type Opts struct {
	SystemPrompt string
	AITimeout    time.Duration
	// DeleteStickerPath is an image sent as a sticker before a deleted-message notice.
	DeleteStickerPath string
	// FFmpegPath enables animated stickers from videos and GIFs.
	FFmpegPath string
}

// Option configures Opts.
type Option func(*Opts)

// WithSystemPrompt overrides DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// WithAITimeout overrides DefaultAITimeout.
func WithAITimeout(d time.Duration) Option {
	return func(o *Opts) { o.AITimeout = d }
}

// WithDeleteSticker sets the image shown before deleted-message notices.
func WithDeleteSticker(path string) Option {
	return func(o *Opts) { o.DeleteStickerPath = path }
}

// WithFFmpeg enables video and GIF stickers through the ffmpeg binary at path.
func WithFFmpeg(path string) Option {
	return func(o *Opts) { o.FFmpegPath = path }
}

// Bot owns the command handlers.
type Bot struct {
	Deps
	opts          Opts
	handlers      map[command.Intent]HandlerFunc
	deleteSticker []byte
	stickers      *sticker.Converter
	now           func() time.Time
}

// New validates deps and registers a handler for every intent.
func New(deps Deps, opts ...Option) (*Bot, error) {
	if deps.Gateway == nil || deps.Store == nil || deps.Policy == nil {
		return nil, errors.New("bot: gateway, store and policy are required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.LogSink{}
	}
	cfg := Opts{SystemPrompt: DefaultSystemPrompt, AITimeout: DefaultAITimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	var stickerOpts []sticker.Option
	if cfg.FFmpegPath != "" {
		stickerOpts = append(stickerOpts, sticker.WithFFmpeg(cfg.FFmpegPath))
	}
	b := &Bot{Deps: deps, opts: cfg, stickers: sticker.NewConverter(stickerOpts...), now: time.Now}
	b.handlers = map[command.Intent]HandlerFunc{
		command.IntentDeleteMutedMessage: b.handleDeleteMuted,
		command.IntentTagAll:             b.handleTagAll,
		command.IntentGroupInfo:          b.handleGroupInfo,
		command.IntentRepeatQuoted:       b.handleRepeat,
		command.IntentAiVision:           b.handleAiVision,
		command.IntentAiText:             b.handleAiText,
		command.IntentSilence:            b.handleSilence,
		command.IntentUnsilence:          b.handleUnsilence,
		command.IntentKick:               b.handleKick,
		command.IntentAllowAdmin:         b.handleAllowAdmin,
		command.IntentRevokeAdmin:        b.handleRevokeAdmin,
		command.IntentListAdmins:         b.handleListAdmins,
		command.IntentStickerConvert:     b.handleSticker,
	}
	if cfg.DeleteStickerPath != "" {
		b.deleteSticker = loadSticker(cfg.DeleteStickerPath)
	}
	return b, nil
}

// loadSticker reads and converts the delete notice sticker. A missing or broken
// file disables the sticker without failing startup.
func loadSticker(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Bot: delete sticker unavailable", "path", path, "error", err)
		return nil
	}
	mime := "image/" + strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if mime == "image/webp" {
		return data
	}
	webp, err := sticker.Convert(data, mime)
	if err != nil {
		slog.Warn("Bot: delete sticker conversion failed", "path", path, "error", err)
		return nil
	}
	return webp
}

// HandleMessage classifies msg and runs the matching handler.
func (b *Bot) HandleMessage(ctx context.Context, msg *models.InboundMessage) error {
	if msg.FromMe {
		return nil
	}
	muted := false
	if msg.IsGroup() {
		if err := b.Store.View(ctx, func(doc *models.ModerationDocument) {
			muted = doc.IsMuted(msg.Sender)
		}); err != nil {
			return fmt.Errorf("load moderation document: %w", err)
		}
	}

	res := command.Classify(command.InputFromMessage(msg, muted))
	if res.Intent == command.IntentNone {
		return nil
	}
	slog.Debug("Bot.HandleMessage: classified", "intent", res.Intent, "chat", msg.ChatID, "sender", msg.Sender)
	h, ok := b.handlers[res.Intent]
	if !ok {
		return fmt.Errorf("no handler for intent %s", res.Intent)
	}
	return h(ctx, msg, res)
}

// isAdmin reports whether id is an owner or a listed admin.
func (b *Bot) isAdmin(ctx context.Context, id string) (bool, error) {
	if b.Policy.IsOwner(id) {
		return true, nil
	}
	admin := false
	err := b.Store.View(ctx, func(doc *models.ModerationDocument) {
		admin = b.Policy.IsAdmin(id, doc)
	})
	return admin, err
}

// displayName resolves id to a contact name, then pushName, then the number.
func (b *Bot) displayName(ctx context.Context, id, pushName string) string {
	if name, err := b.Gateway.ContactName(ctx, id); err == nil && name != "" {
		return name
	}
	if pushName != "" {
		return pushName
	}
	return models.UserPart(id)
}

func (b *Bot) record(ctx context.Context, e audit.Entry) {
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	if err := b.Audit.Record(ctx, e); err != nil {
		slog.Warn("Bot: audit record failed", "action", e.Action, "error", err)
	}
}
