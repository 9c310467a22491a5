// Package greeting sends the scheduled morning and afternoon voice greetings
// to the configured groups.
package greeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ChatWarden/internal/audit"
	"github.com/BTreeMap/ChatWarden/internal/models"
	"github.com/BTreeMap/ChatWarden/internal/moderation"
	"github.com/BTreeMap/ChatWarden/internal/session"
	"github.com/BTreeMap/ChatWarden/internal/statushub"
	"github.com/BTreeMap/ChatWarden/internal/tts"
)

// Kind names a greeting job.
type Kind string

const (
	KindMorning   Kind = "morning"
	KindAfternoon Kind = "afternoon"
)

// Mode selects how the greeting language is chosen.
type Mode string

const (
	ModeRotate Mode = "rotate"
	ModeRandom Mode = "random"
)

// Hub statuses published per destination.
const (
	StatusVoiceSent    = "voice_sent"
	StatusReminderSent = "reminder_sent"
	StatusFailed       = "failed"
	StatusSkipped      = "skipped"
)

const (
	DefaultExtraDelay   = 2 * time.Second
	DefaultGroupDelay   = 2 * time.Second
	DefaultCleanupDelay = 5 * time.Second

	// DefaultExtraMessage is sent after the voice note to reminder groups.
	DefaultExtraMessage = "*PENGINGAT*\n\nJangan lupa cek pengumuman grup hari ini ya. Terima kasih 🙏"

	voiceFileName = "greeting_voice"
)

var (
	ErrUnknownGreeting = models.ErrUnknownGreeting
	ErrRunInProgress   = errors.New("greeting run already in progress")
)

// Texts holds the spoken greeting per kind and language.
var Texts = map[Kind]map[models.Language]string{
	KindMorning: {
		models.LanguageIndonesian: "Selamat pagi semuanya",
		models.LanguageEnglish:    "Good morning everyone",
		models.LanguageSundanese:  "Wilujeng énjing sadayana",
		models.LanguageJavanese:   "Sugeng enjing sedoyo",
	},
	KindAfternoon: {
		models.LanguageIndonesian: "Selamat sore semuanya",
		models.LanguageEnglish:    "Good afternoon everyone",
		models.LanguageSundanese:  "Wilujeng sonten sadayana",
		models.LanguageJavanese:   "Sugeng sonten sedoyo",
	},
}

// ParseKind validates a job name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Texts[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownGreeting, s)
	}
	return k, nil
}

// ParseMode maps LANGUAGE_MODE to a Mode. Anything other than "random" rotates.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeRandom)) {
		return ModeRandom
	}
	return ModeRotate
}

// Sender is the part of the gateway the engine uses.
type Sender interface {
	SendVoice(ctx context.Context, chatID string, audio []byte, mimeType string) error
	SendText(ctx context.Context, chatID, text string) error
}

// Deps are the engine collaborators. Sender, Synthesizer, Store and Session are required.
type Deps struct {
	Sender      Sender
	Synthesizer tts.Synthesizer
	Store       *moderation.Store
	Session     *session.State
	Hub         *statushub.Hub
	Audit       audit.Sink
}

// Opts holds engine settings.
type Opts struct {
	Groups       []string
	ExtraGroups  []string
	ExtraMessage string
	Mode         Mode
	TempDir      string
	ExtraDelay   time.Duration
	GroupDelay   time.Duration
	CleanupDelay time.Duration
}

// Option configures Opts.
type Option func(*Opts)

// WithGroups sets the destinations, in send order.
func WithGroups(ids []string) Option {
	return func(o *Opts) { o.Groups = ids }
}

// WithExtraMessage sends msg after the voice note to every group in ids.
func WithExtraMessage(msg string, ids []string) Option {
	return func(o *Opts) {
		o.ExtraMessage = msg
		o.ExtraGroups = ids
	}
}

func WithMode(m Mode) Option {
	return func(o *Opts) { o.Mode = m }
}

// WithTempDir sets where the synthesised clip is written.
func WithTempDir(dir string) Option {
	return func(o *Opts) { o.TempDir = dir }
}

// WithDelays overrides the pauses between sends and the cleanup delay.
func WithDelays(extra, group, cleanup time.Duration) Option {
	return func(o *Opts) {
		o.ExtraDelay = extra
		o.GroupDelay = group
		o.CleanupDelay = cleanup
	}
}

// RunReport summarises one greeting run.
type RunReport struct {
	Kind     Kind            `json:"kind"`
	Language models.Language `json:"language,omitempty"`
	Sent     []string        `json:"sent"`
	Failed   []string        `json:"failed"`
	Skipped  []string        `json:"skipped"`
}

// Engine runs greetings. Runs are serialised since they share one temp file.
type Engine struct {
	deps Deps
	opts Opts
	pick func(n int) int

	running sync.Mutex
}

// New validates deps and applies options.
func New(deps Deps, opts ...Option) (*Engine, error) {
	if deps.Sender == nil || deps.Synthesizer == nil || deps.Store == nil || deps.Session == nil {
		return nil, errors.New("greeting: sender, synthesizer, store and session are required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.LogSink{}
	}
	cfg := Opts{
		ExtraMessage: DefaultExtraMessage,
		Mode:         ModeRotate,
		TempDir:      os.TempDir(),
		ExtraDelay:   DefaultExtraDelay,
		GroupDelay:   DefaultGroupDelay,
		CleanupDelay: DefaultCleanupDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{deps: deps, opts: cfg, pick: rand.IntN}, nil
}

// Job returns a closure suitable for the scheduler.
func (e *Engine) Job(kind Kind) func() {
	return func() {
		slog.Info("GreetingEngine: scheduled run", "kind", kind)
		if _, err := e.Run(context.Background(), kind); err != nil {
			slog.Error("GreetingEngine: scheduled run failed", "kind", kind, "error", err)
		}
	}
}

// Run sends one greeting to every destination. When the session is not
// connected it returns (nil, nil) without touching the rotation cursor.
func (e *Engine) Run(ctx context.Context, kind Kind) (*RunReport, error) {
	texts, ok := Texts[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGreeting, kind)
	}
	if !e.deps.Session.IsConnected() {
		slog.Info("GreetingEngine.Run: session not ready, skipping", "kind", kind)
		return nil, nil
	}
	if !e.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.running.Unlock()

	lang, err := e.selectLanguage(ctx)
	if err != nil {
		return nil, err
	}
	report := &RunReport{Kind: kind, Language: lang, Sent: []string{}, Failed: []string{}, Skipped: []string{}}
	text := texts[lang]

	audio, path, err := e.synthesize(ctx, text, lang)
	if err != nil {
		return report, err
	}
	defer e.cleanup(path)
	slog.Info("GreetingEngine.Run: voice generated", "kind", kind, "language", lang, "text", text)

	for i, groupID := range e.opts.Groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !models.IsGroupID(groupID) {
			slog.Error("GreetingEngine.Run: invalid group id", "group", groupID)
			report.Skipped = append(report.Skipped, groupID)
			e.publish(kind, groupID, StatusSkipped, "", "invalid group id")
			continue
		}
		if err := e.deps.Sender.SendVoice(ctx, groupID, audio.Data, audio.MimeType); err != nil {
			slog.Error("GreetingEngine.Run: voice send failed", "group", groupID, "error", err)
			report.Failed = append(report.Failed, groupID)
			e.publish(kind, groupID, StatusFailed, lang, err.Error())
			continue
		}
		report.Sent = append(report.Sent, groupID)
		e.publish(kind, groupID, StatusVoiceSent, lang, fmt.Sprintf("voice note (%s) sent to %s", lang, groupID))

		if e.opts.ExtraMessage != "" && slices.Contains(e.opts.ExtraGroups, groupID) {
			if err := sleep(ctx, e.opts.ExtraDelay); err != nil {
				return report, err
			}
			if err := e.deps.Sender.SendText(ctx, groupID, e.opts.ExtraMessage); err != nil {
				slog.Error("GreetingEngine.Run: reminder send failed", "group", groupID, "error", err)
			} else {
				e.publish(kind, groupID, StatusReminderSent, "", "reminder sent to "+groupID)
			}
		}
		if i < len(e.opts.Groups)-1 {
			if err := sleep(ctx, e.opts.GroupDelay); err != nil {
				return report, err
			}
		}
	}

	if err := e.deps.Audit.Record(ctx, audit.Entry{
		Action: audit.ActionGreetingRun,
		Detail: fmt.Sprintf("%s/%s sent=%d failed=%d skipped=%d", kind, lang, len(report.Sent), len(report.Failed), len(report.Skipped)),
		Time:   time.Now(),
	}); err != nil {
		slog.Warn("GreetingEngine: audit record failed", "kind", kind, "error", err)
	}
	return report, nil
}

func (e *Engine) selectLanguage(ctx context.Context) (models.Language, error) {
	if e.opts.Mode == ModeRandom {
		lang := models.Languages[e.pick(len(models.Languages))]
		slog.Debug("GreetingEngine: random language", "language", lang)
		return lang, nil
	}
	var lang models.Language
	err := e.deps.Store.Update(ctx, func(doc *models.ModerationDocument) error {
		lang = doc.NextLanguage()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("advance language cursor: %w", err)
	}
	slog.Debug("GreetingEngine: rotated language", "language", lang)
	return lang, nil
}

// synthesize writes the clip to the fixed temp path and reads it back.
func (e *Engine) synthesize(ctx context.Context, text string, lang models.Language) (*tts.Audio, string, error) {
	audio, err := e.deps.Synthesizer.Synthesize(ctx, text, lang)
	if err != nil {
		return nil, "", fmt.Errorf("synthesize greeting: %w", err)
	}
	ext := ".mp3"
	if audio.MimeType == tts.MimeOpus {
		ext = ".ogg"
	}
	if err := os.MkdirAll(e.opts.TempDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(e.opts.TempDir, voiceFileName+ext)
	if err := os.WriteFile(path, audio.Data, 0o644); err != nil {
		return nil, "", fmt.Errorf("write greeting audio: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		os.Remove(path)
		return nil, "", fmt.Errorf("read greeting audio: %w", err)
	}
	return &tts.Audio{Data: data, MimeType: audio.MimeType}, path, nil
}

func (e *Engine) cleanup(path string) {
	remove := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("GreetingEngine: temp cleanup failed", "path", path, "error", err)
			return
		}
		slog.Debug("GreetingEngine: temp file removed", "path", path)
	}
	if e.opts.CleanupDelay <= 0 {
		remove()
		return
	}
	time.AfterFunc(e.opts.CleanupDelay, remove)
}

func (e *Engine) publish(kind Kind, groupID, status string, lang models.Language, msg string) {
	if e.deps.Hub == nil {
		return
	}
	e.deps.Hub.PublishGreeting(statushub.GreetingStatus{
		Kind:     string(kind),
		GroupID:  groupID,
		Status:   status,
		Language: string(lang),
		Message:  msg,
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
