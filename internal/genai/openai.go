package genai

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	oaioption "github.com/openai/openai-go/option"
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...oaioption.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient wraps the OpenAI chat completion service.
type OpenAIClient struct {
	chat chatService
	opts Opts
}

// NewOpenAIClient initializes an OpenAI backend with the configured API key.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	cfg := applyOpts(opts, DefaultOpenAITextModel, DefaultOpenAIVisionModel)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	cli := openai.NewClient(oaioption.WithAPIKey(cfg.APIKey))
	slog.Debug("OpenAIClient created", "textModel", cfg.TextModel, "visionModel", cfg.VisionModel)
	return &OpenAIClient{chat: &cli.Chat.Completions, opts: cfg}, nil
}

func (c *OpenAIClient) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))
	return c.complete(ctx, c.opts.TextModel, messages)
}

func (c *OpenAIClient) DescribeImage(ctx context.Context, prompt, mimeType string, data []byte) (string, error) {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
	}
	return c.complete(ctx, c.opts.VisionModel, []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)})
}

func (c *OpenAIClient) complete(ctx context.Context, model string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}
