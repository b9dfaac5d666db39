// Package gemini implements core.ChatProvider with the Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/agrimarket/pkg/core"
)

// DefaultModel is used when a request does not name one.
const DefaultModel = "gemini-2.0-flash"

// Provider talks to the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Gemini provider for apiKey. model may be empty.
func New(ctx context.Context, apiKey, model string) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	if req == nil {
		return nil, errors.New("gemini: nil chat request")
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	contents, cfg := buildRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, core.NewProviderError("gemini", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, core.NewProviderError("gemini", errors.New("empty response"))
	}
	return &core.ChatResponse{Text: text, Model: model}, nil
}

// buildRequest maps a core.ChatRequest onto Gemini contents. Assistant turns
// become "model" turns and the system prompt becomes SystemInstruction.
func buildRequest(req *core.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == core.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		t := req.Temperature
		cfg.Temperature = &t
	}
	return contents, cfg
}

var _ core.ChatProvider = (*Provider)(nil)
