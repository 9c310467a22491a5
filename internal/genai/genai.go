// Package genai provides the text and vision generation backends used by the
// "do" commands. Gemini is the default provider; OpenAI is available as an
// alternative.
package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Default models per provider.
const (
	DefaultGeminiTextModel   = "gemini-2.0-flash"
	DefaultGeminiVisionModel = "gemini-2.5-flash"
	DefaultOpenAITextModel   = "gpt-4o-mini"
	DefaultOpenAIVisionModel = "gpt-4o-mini"
)

var (
	// ErrNoChoicesReturned is returned when the backend answers without any candidate.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrMissingAPIKey is returned when the selected provider has no API key.
	ErrMissingAPIKey = errors.New("generation API key not set")
	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown generation provider")
)

// Generator is a single-turn generation backend.
type Generator interface {
	// GenerateText answers prompt under the given system instruction.
	GenerateText(ctx context.Context, system, prompt string) (string, error)
	// DescribeImage answers prompt about an inline image.
	DescribeImage(ctx context.Context, prompt, mimeType string, data []byte) (string, error)
}

// Opts holds configuration for a generation backend.
type Opts struct {
	APIKey      string
	TextModel   string
	VisionModel string
}

// Option configures Opts.
type Option func(*Opts)

func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

func WithTextModel(model string) Option {
	return func(o *Opts) { o.TextModel = model }
}

func WithVisionModel(model string) Option {
	return func(o *Opts) { o.VisionModel = model }
}

// New builds the backend for provider.
func New(ctx context.Context, provider string, opts ...Option) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderGemini:
		return NewGeminiClient(ctx, opts...)
	case ProviderOpenAI:
		return NewOpenAIClient(opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

func applyOpts(opts []Option, textModel, visionModel string) Opts {
	cfg := Opts{TextModel: textModel, VisionModel: visionModel}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TextModel == "" {
		cfg.TextModel = textModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = visionModel
	}
	return cfg
}
