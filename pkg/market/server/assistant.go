package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/core/assistant"
	"github.com/vango-go/agrimarket/pkg/core/providers/gemini"
	openaiprov "github.com/vango-go/agrimarket/pkg/core/providers/openai"
	"github.com/vango-go/agrimarket/pkg/core/types"
	"github.com/vango-go/agrimarket/pkg/core/voice/stt"
	"github.com/vango-go/agrimarket/pkg/core/voice/tts"
	"github.com/vango-go/agrimarket/pkg/market/auth"
	"github.com/vango-go/agrimarket/pkg/market/config"
	"github.com/vango-go/agrimarket/pkg/market/store"
)

// buildAssistant picks the AI backends from the configured keys. Anything
// left unset runs in simulation.
func buildAssistant(ctx context.Context, cfg config.Config, st store.Store, logger *slog.Logger) (*assistant.Assistant, error) {
	opts := assistant.Options{
		Profiles: voiceProfiles{store: st},
		Sessions: assistant.NewSessionStore(cfg.AssistantSessionTTL),
		Logger:   logger,
		Config: assistant.Config{
			ChatModel:       cfg.ChatModel,
			ImageModel:      cfg.ImageModel,
			STTModel:        cfg.TranscriptionModel,
			TTSModel:        cfg.TTSModel,
			MaxTokens:       cfg.AssistantMaxTokens,
			DefaultLanguage: cfg.AssistantDefaultLang,
		},
	}

	var openaiChat core.ChatProvider
	if cfg.OpenAIAPIKey != "" {
		client := openaiprov.NewClient(cfg.OpenAIAPIKey, openaiprov.WithBaseURL(cfg.OpenAIBaseURL))
		opts.STT = stt.NewOpenAI(client, cfg.TranscriptionModel)
		opts.TTS = tts.NewOpenAI(client, cfg.TTSModel)
		prov := openaiprov.New(client)
		openaiChat = prov
		if cfg.AssistantImagesEnabled {
			opts.Images = prov
		}
	}

	switch cfg.ChatProvider {
	case config.ChatProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("chat provider gemini requires GEMINI_API_KEY")
		}
		g, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.ChatModel)
		if err != nil {
			return nil, err
		}
		opts.Chat = g
	default:
		if openaiChat != nil {
			opts.Chat = openaiChat
		}
	}

	a := assistant.New(opts)
	logger.Info("assistant configured",
		"chat_provider", string(cfg.ChatProvider),
		"simulated", a.Simulated(),
		"speech", opts.STT != nil,
		"images", opts.Images != nil,
	)
	return a, nil
}

// voiceProfiles creates accounts for the assistant's profile dialogue.
type voiceProfiles struct {
	store store.Store
}

func (p voiceProfiles) CreateProfile(ctx context.Context, data assistant.ProfileData, password string) (int64, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return 0, err
	}
	userType := data.UserType
	if userType == "" {
		userType = types.UserTypeFarmer
	}
	now := time.Now().UTC()
	u, err := p.store.CreateUser(ctx, &types.User{
		Username:     strings.TrimSpace(data.Username),
		PasswordHash: hash,
		Name:         strings.TrimSpace(data.Name),
		UserType:     userType,
		Location:     strings.TrimSpace(data.Location),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, store.ErrConflict) {
		return 0, assistant.ErrUsernameTaken
	}
	if err != nil {
		return 0, fmt.Errorf("create voice profile: %w", err)
	}
	return u.ID, nil
}
