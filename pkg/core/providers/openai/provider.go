// Package openai implements chat completion and image generation on top of
// the go-openai client.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/vango-go/agrimarket/pkg/core"
)

const (
	DefaultChatModel  = goopenai.GPT4o
	DefaultImageModel = goopenai.CreateImageModelDallE3
	DefaultImageSize  = goopenai.CreateImageSize1024x1024
)

// Option configures the provider.
type Option func(*goopenai.ClientConfig)

// WithBaseURL points the client at a proxy or test server.
func WithBaseURL(url string) Option {
	return func(c *goopenai.ClientConfig) {
		if url != "" {
			c.BaseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *goopenai.ClientConfig) {
		if client != nil {
			c.HTTPClient = client
		}
	}
}

// NewClient builds the shared go-openai client used by chat, image, speech
// and transcription.
func NewClient(apiKey string, opts ...Option) *goopenai.Client {
	cfg := goopenai.DefaultConfig(apiKey)
	for _, opt := range opts {
		opt(&cfg)
	}
	return goopenai.NewClientWithConfig(cfg)
}

// Provider implements core.ChatProvider and core.ImageProvider.
type Provider struct {
	client *goopenai.Client
}

func New(client *goopenai.Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	if req == nil {
		return nil, errors.New("openai: nil chat request")
	}
	model := req.Model
	if model == "" {
		model = DefaultChatModel
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := goopenai.ChatMessageRoleUser
		if m.Role == core.RoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, core.NewProviderError("openai", err)
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewProviderError("openai", errors.New("empty choices"))
	}
	return &core.ChatResponse{
		Text:  strings.TrimSpace(resp.Choices[0].Message.Content),
		Model: resp.Model,
	}, nil
}

func (p *Provider) GenerateImage(ctx context.Context, req *core.ImageRequest) (*core.Image, error) {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("openai: image prompt is required")
	}
	model := req.Model
	if model == "" {
		model = DefaultImageModel
	}
	size := req.Size
	if size == "" {
		size = DefaultImageSize
	}
	resp, err := p.client.CreateImage(ctx, goopenai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		N:              1,
		Size:           size,
		ResponseFormat: goopenai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, core.NewProviderError("openai", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, core.NewProviderError("openai", errors.New("image response has no url"))
	}
	return &core.Image{URL: resp.Data[0].URL, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}

var (
	_ core.ChatProvider  = (*Provider)(nil)
	_ core.ImageProvider = (*Provider)(nil)
)
