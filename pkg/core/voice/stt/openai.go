package stt

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/vango-go/agrimarket/pkg/core"
)

// OpenAI transcribes audio with the Whisper API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI wraps an existing go-openai client. model defaults to whisper-1.
func NewOpenAI(client *openai.Client, model string) *OpenAI {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAI{client: client, model: model}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	if o == nil || o.client == nil {
		return nil, errors.New("stt: openai client is not configured")
	}
	model := opts.Model
	if model == "" {
		model = o.model
	}
	format := strings.TrimPrefix(strings.TrimSpace(opts.Format), ".")
	if format == "" {
		format = "webm"
	}

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: "audio." + format,
		Reader:   audio,
		Language: opts.Language,
		Prompt:   opts.Prompt,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return nil, core.NewProviderError("openai", err)
	}
	language := resp.Language
	if language == "" {
		language = opts.Language
	}
	return &Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: language,
		Duration: resp.Duration,
	}, nil
}
