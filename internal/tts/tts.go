// Package tts turns greeting text into a short voice clip using the Google
// Translate speech endpoint, optionally transcoding it to Ogg/Opus with ffmpeg
// so WhatsApp renders it as a native voice note.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

const (
	// DefaultEndpoint is the public translate speech endpoint.
	DefaultEndpoint = "https://translate.google.com/translate_tts"
	// MaxChunkRunes is the longest text the endpoint accepts in one request.
	MaxChunkRunes = 100

	MimeMP3  = "audio/mpeg"
	MimeOpus = "audio/ogg; codecs=opus"
)

// ErrEmptyText is returned when there is nothing to speak.
var ErrEmptyText = errors.New("tts: empty text")

// Audio is a synthesised clip.
type Audio struct {
	Data     []byte
	MimeType string
}

// Synthesizer produces speech for text in the given language.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, lang models.Language) (*Audio, error)
}

// Opts holds configuration for the Google synthesizer.
type Opts struct {
	Endpoint   string
	HTTPClient *http.Client
	FFmpegPath string
}

// Option configures Opts.
type Option func(*Opts)

func WithEndpoint(endpoint string) Option {
	return func(o *Opts) { o.Endpoint = endpoint }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithFFmpeg enables Ogg/Opus transcoding through the ffmpeg binary at path.
func WithFFmpeg(path string) Option {
	return func(o *Opts) { o.FFmpegPath = path }
}

// GoogleSynthesizer implements Synthesizer over the translate speech endpoint.
type GoogleSynthesizer struct {
	opts Opts
}

// NewGoogleSynthesizer creates a synthesizer with the given options.
func NewGoogleSynthesizer(opts ...Option) *GoogleSynthesizer {
	cfg := Opts{Endpoint: DefaultEndpoint}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &GoogleSynthesizer{opts: cfg}
}

// VoiceCode maps a greeting language onto the endpoint's voice code.
func VoiceCode(lang models.Language) string {
	if lang == models.LanguageJavanese {
		return "jw"
	}
	return string(lang)
}

// Synthesize fetches speech for every chunk of text and concatenates the MP3 frames.
func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text string, lang models.Language) (*Audio, error) {
	chunks := SplitText(text, MaxChunkRunes)
	if len(chunks) == 0 {
		return nil, ErrEmptyText
	}

	var buf bytes.Buffer
	for i, chunk := range chunks {
		if err := g.fetch(ctx, &buf, chunk, VoiceCode(lang), i, len(chunks)); err != nil {
			return nil, err
		}
	}
	slog.Debug("GoogleSynthesizer.Synthesize: speech fetched", "lang", lang, "chunks", len(chunks), "bytes", buf.Len())

	audio := &Audio{Data: buf.Bytes(), MimeType: MimeMP3}
	if g.opts.FFmpegPath == "" {
		return audio, nil
	}
	opus, err := TranscodeToOpus(ctx, g.opts.FFmpegPath, audio.Data)
	if err != nil {
		slog.Warn("GoogleSynthesizer.Synthesize: opus transcode failed, sending mp3", "error", err)
		return audio, nil
	}
	return &Audio{Data: opus, MimeType: MimeOpus}, nil
}

func (g *GoogleSynthesizer) fetch(ctx context.Context, w io.Writer, text, voice string, idx, total int) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", voice)
	q.Set("q", text)
	q.Set("idx", fmt.Sprint(idx))
	q.Set("total", fmt.Sprint(total))
	q.Set("textlen", fmt.Sprint(utf8.RuneCountInString(text)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.opts.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := g.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("tts: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tts: unexpected status %d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("tts: read audio: %w", err)
	}
	return nil
}

// SplitText breaks text into chunks of at most max runes, preferring word boundaries.
func SplitText(text string, max int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}
	for _, word := range strings.Fields(text) {
		wl := utf8.RuneCountInString(word)
		for wl > max {
			flush()
			r := []rune(word)
			chunks = append(chunks, string(r[:max]))
			word = string(r[max:])
			wl = len(r) - max
		}
		if curLen > 0 && curLen+1+wl > max {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += wl
	}
	flush()
	return chunks
}

// TranscodeToOpus converts MP3 bytes to a mono Ogg/Opus clip.
func TranscodeToOpus(ctx context.Context, ffmpegPath string, mp3 []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "chatwarden-tts-*")
	if err != nil {
		return nil, fmt.Errorf("tts: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.mp3")
	out := filepath.Join(dir, "out.ogg")
	if err := os.WriteFile(in, mp3, 0600); err != nil {
		return nil, fmt.Errorf("tts: write input: %w", err)
	}
	cmd := exec.CommandContext(ctx, ffmpegPath, "-y", "-i", in, "-ac", "1", "-c:a", "libopus", "-b:a", "32k", out)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("tts: ffmpeg failed: %w, output: %s", err, output)
	}
	return os.ReadFile(out)
}
