package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/vango-go/agrimarket/pkg/core"
)

// OpenAI synthesizes speech with the OpenAI audio/speech endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI wraps an existing go-openai client. model defaults to tts-1.
func NewOpenAI(client *openai.Client, model string) *OpenAI {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	return &OpenAI{client: client, model: model}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if o == nil || o.client == nil {
		return nil, errors.New("tts: openai client is not configured")
	}
	if text == "" {
		return nil, errors.New("tts: empty text")
	}
	model := opts.Model
	if model == "" {
		model = o.model
	}
	voice := opts.Voice
	if voice == "" {
		voice = VoiceForLanguage(opts.Language)
	}
	format := opts.Format
	if format == "" {
		format = "mp3"
	}

	req := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(format),
	}
	if opts.Speed > 0 {
		req.Speed = opts.Speed
	}
	resp, err := o.client.CreateSpeech(ctx, req)
	if err != nil {
		return nil, core.NewProviderError("openai", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("tts: read speech body: %w", err)
	}
	return &Synthesis{Audio: audio, Format: format}, nil
}
