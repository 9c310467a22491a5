package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// contentGenerator is the part of *genai.GenerativeModel the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiClient generates content with Google Gemini.
type GeminiClient struct {
	client *genai.Client
	opts   Opts
	model  func(name, system string) contentGenerator
}

// NewGeminiClient connects to Gemini with the configured API key.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	cfg := applyOpts(opts, DefaultGeminiTextModel, DefaultGeminiVisionModel)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	g := &GeminiClient{client: client, opts: cfg}
	g.model = func(name, system string) contentGenerator {
		m := client.GenerativeModel(name)
		if system != "" {
			m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		}
		return m
	}
	slog.Debug("GeminiClient created", "textModel", cfg.TextModel, "visionModel", cfg.VisionModel)
	return g, nil
}

// Close releases the underlying connection.
func (g *GeminiClient) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GeminiClient) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.model(g.opts.TextModel, system).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate text: %w", err)
	}
	return firstText(resp)
}

func (g *GeminiClient) DescribeImage(ctx context.Context, prompt, mimeType string, data []byte) (string, error) {
	resp, err := g.model(g.opts.VisionModel, "").GenerateContent(ctx,
		genai.Text(prompt),
		genai.Blob{MIMEType: mimeType, Data: data},
	)
	if err != nil {
		return "", fmt.Errorf("gemini describe image: %w", err)
	}
	return firstText(resp)
}

// firstText joins the text parts of the first candidate.
func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoChoicesReturned
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", ErrNoChoicesReturned
	}
	return sb.String(), nil
}
