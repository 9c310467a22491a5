// Package sticker converts downloaded images into 512x512 WebP stickers and,
// when ffmpeg is available, short videos and GIFs into animated ones.
package sticker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sunshineplan/imgconv"
)

const (
	// Size is the edge length WhatsApp expects for static stickers.
	Size = 512
	// MimeType is the sticker content type.
	MimeType = "image/webp"
)

// DefaultMaxSeconds caps the length of animated stickers.
const DefaultMaxSeconds = 6

var (
	// ErrUnsupportedMedia is returned for media that cannot become a sticker.
	ErrUnsupportedMedia = errors.New("unsupported media for sticker")
	// ErrAnimationDisabled is returned for video when no ffmpeg binary is configured.
	ErrAnimationDisabled = errors.New("animated stickers need ffmpeg")
)

// Converter turns downloaded media into sticker WebP bytes.
type Converter struct {
	ffmpegPath string
	maxSeconds int
}

// Option configures a Converter.
type Option func(*Converter)

// WithFFmpeg enables animated stickers through the ffmpeg binary at path.
func WithFFmpeg(path string) Option {
	return func(c *Converter) { c.ffmpegPath = path }
}

// WithMaxSeconds overrides DefaultMaxSeconds.
func WithMaxSeconds(n int) Option {
	return func(c *Converter) {
		if n > 0 {
			c.maxSeconds = n
		}
	}
}

// NewConverter returns a Converter. Without WithFFmpeg only still images are accepted.
func NewConverter(opts ...Option) *Converter {
	c := &Converter{maxSeconds: DefaultMaxSeconds}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Animated reports whether the converter can produce animated stickers.
func (c *Converter) Animated() bool {
	return c.ffmpegPath != ""
}

// Convert dispatches on mimeType. Videos become animated stickers. GIFs are
// animated when ffmpeg is set and fall back to their first frame otherwise.
func (c *Converter) Convert(ctx context.Context, data []byte, mimeType string) ([]byte, error) {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		if !c.Animated() {
			return nil, fmt.Errorf("%w: %s", ErrAnimationDisabled, mimeType)
		}
		return c.animate(ctx, data, mimeType)
	case mimeType == "image/gif" && c.Animated():
		return c.animate(ctx, data, mimeType)
	default:
		return Convert(data, mimeType)
	}
}

func (c *Converter) animate(ctx context.Context, data []byte, mimeType string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "chatwarden-sticker-*")
	if err != nil {
		return nil, fmt.Errorf("sticker: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in"+inputExt(mimeType))
	out := filepath.Join(dir, "out.webp")
	if err := os.WriteFile(in, data, 0600); err != nil {
		return nil, fmt.Errorf("sticker: write input: %w", err)
	}
	filter := fmt.Sprintf("fps=15,scale=%d:%d:force_original_aspect_ratio=decrease,format=rgba,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=0x00000000",
		Size, Size, Size, Size)
	cmd := exec.CommandContext(ctx, c.ffmpegPath, "-y", "-i", in,
		"-t", strconv.Itoa(c.maxSeconds), "-an", "-vf", filter,
		"-c:v", "libwebp", "-loop", "0", "-q:v", "60", out)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("sticker: ffmpeg failed: %w, output: %s", err, output)
	}
	webp, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("sticker: read output: %w", err)
	}
	slog.Debug("sticker.animate: converted", "mime", mimeType, "bytes", len(webp))
	return webp, nil
}

func inputExt(mimeType string) string {
	switch mimeType {
	case "image/gif":
		return ".gif"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	default:
		return ".mp4"
	}
}

// IsAnimated reports whether webp is an extended WebP with the animation flag set.
func IsAnimated(webp []byte) bool {
	return len(webp) >= 21 &&
		string(webp[0:4]) == "RIFF" &&
		string(webp[8:12]) == "WEBP" &&
		string(webp[12:16]) == "VP8X" &&
		webp[20]&0x02 != 0
}

// Convert decodes a still image, fits it inside a transparent Size x Size canvas and
// encodes the result as WebP.
func Convert(data []byte, mimeType string) ([]byte, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mimeType)
	}
	src, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode sticker source: %w", err)
	}

	canvas := Fit(src)
	var out bytes.Buffer
	if err := imgconv.Write(&out, canvas, &imgconv.FormatOption{Format: imgconv.WEBP}); err != nil {
		return nil, fmt.Errorf("encode sticker: %w", err)
	}
	return out.Bytes(), nil
}

// Fit scales src so its longer edge is Size and centres it on a transparent square.
func Fit(src image.Image) *image.NRGBA {
	b := src.Bounds()
	opt := &imgconv.ResizeOption{Width: Size}
	if b.Dy() > b.Dx() {
		opt = &imgconv.ResizeOption{Height: Size}
	}
	scaled := imgconv.Resize(src, opt)

	canvas := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	sb := scaled.Bounds()
	offset := image.Pt((Size-sb.Dx())/2, (Size-sb.Dy())/2)
	draw.Draw(canvas, sb.Sub(sb.Min).Add(offset), scaled, sb.Min, draw.Over)
	return canvas
}
