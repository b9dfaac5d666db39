// Package assistant implements AgriBuddy, the multilingual voice assistant:
// speech in, a farming answer or a guided profile-creation dialogue, speech
// out.
package assistant

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/core/voice/stt"
	"github.com/vango-go/agrimarket/pkg/core/voice/tts"
)

const (
	imageMarker           = "[GENERATE_IMAGE]"
	profileCompleteMarker = "[PROFILE_COMPLETE]"

	DefaultLanguage  = "te"
	DefaultSessionID = "default"
	DefaultMaxTokens = 500

	maxHistory = 20
)

// ErrUsernameTaken is returned by a ProfileSink when the username exists.
var ErrUsernameTaken = errors.New("username already taken")

// ProfileSink creates the account collected by the profile dialogue.
type ProfileSink interface {
	CreateProfile(ctx context.Context, data ProfileData, password string) (userID int64, err error)
}

// Input is one assistant turn. Text, when set, skips transcription.
type Input struct {
	Audio     []byte
	Format    string
	Text      string
	Language  string
	SessionID string
}

// CreatedProfile is returned once, on the turn that created the account.
type CreatedProfile struct {
	UserID            int64  `json:"userId"`
	Username          string `json:"username"`
	TemporaryPassword string `json:"temporaryPassword"`
}

// Result is the assistant's reply.
type Result struct {
	Text            string          `json:"text"`
	Response        string          `json:"response"`
	AudioResponse   string          `json:"audioResponse,omitempty"`
	ImageURL        string          `json:"imageUrl,omitempty"`
	ProfileCreation bool            `json:"profileCreation"`
	Stage           Stage           `json:"stage,omitempty"`
	Profile         *CreatedProfile `json:"profile,omitempty"`
	Simulated       bool            `json:"simulated,omitempty"`
}

// Config tunes the assistant.
type Config struct {
	ChatModel       string
	ImageModel      string
	STTModel        string
	TTSModel        string
	MaxTokens       int
	DefaultLanguage string
}

// Options wires the assistant's collaborators. Any nil provider is replaced
// by local simulation.
type Options struct {
	STT      stt.Provider
	TTS      tts.Provider
	Chat     core.ChatProvider
	Images   core.ImageProvider
	Profiles ProfileSink
	Sessions *SessionStore
	Config   Config
	Logger   *slog.Logger
}

type Assistant struct {
	stt      stt.Provider
	tts      tts.Provider
	chat     core.ChatProvider
	images   core.ImageProvider
	profiles ProfileSink
	sessions *SessionStore
	cfg      Config
	logger   *slog.Logger

	password func() (string, error)
}

func New(opts Options) *Assistant {
	cfg := opts.Config
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = DefaultLanguage
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = NewSessionStore(30 * time.Minute)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		stt:      opts.STT,
		tts:      opts.TTS,
		chat:     opts.Chat,
		images:   opts.Images,
		profiles: opts.Profiles,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		password: TemporaryPassword,
	}
}

// Simulated reports whether no chat backend is configured.
func (a *Assistant) Simulated() bool {
	return a.chat == nil
}

// Sessions exposes the profile session store.
func (a *Assistant) Sessions() *SessionStore {
	return a.sessions
}

// Process runs one turn: transcribe, route to the profile dialogue or to
// farming advice, optionally generate an image, and synthesize speech.
func (a *Assistant) Process(ctx context.Context, in Input) (*Result, error) {
	language := strings.TrimSpace(in.Language)
	if language == "" {
		language = a.cfg.DefaultLanguage
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	text, err := a.transcribe(ctx, in, language, sessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, core.NewInvalidRequestError("no speech detected")
	}

	res := &Result{Text: text, Simulated: a.Simulated()}

	sess := a.sessions.Get(sessionID)
	if WantsProfile(text) {
		if sess == nil {
			sess = a.sessions.Start(sessionID)
		}
		sess.Lock()
		if sess.Stage == StageComplete {
			sess.Restart()
		}
		sess.Unlock()
	}

	var response string
	if sess != nil && sess.CurrentStage() != StageComplete {
		response, err = a.profileTurn(ctx, sess, text, language, res)
	} else {
		response, err = a.adviceTurn(ctx, text, language)
	}
	if err != nil {
		return nil, err
	}

	if strings.Contains(response, imageMarker) {
		res.ImageURL = a.generateImage(ctx, response)
	}
	res.Response = cleanResponse(response)
	res.AudioResponse = a.synthesize(ctx, res.Response, language)
	return res, nil
}

func (a *Assistant) transcribe(ctx context.Context, in Input, language, sessionID string) (string, error) {
	if in.Text != "" {
		return strings.TrimSpace(in.Text), nil
	}
	if len(in.Audio) == 0 {
		return "", core.NewInvalidRequestErrorWithParam("audio is required", "audio")
	}
	if a.stt == nil {
		var stage Stage
		if sess := a.sessions.Get(sessionID); sess != nil {
			stage = sess.CurrentStage()
		}
		return simulateTranscript(len(in.Audio), stage), nil
	}
	tr, err := a.stt.Transcribe(ctx, bytes.NewReader(in.Audio), stt.TranscribeOptions{
		Model:    a.cfg.STTModel,
		Language: language,
		Format:   in.Format,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	a.logger.Debug("transcription complete", "session_id", sessionID, "chars", len(tr.Text))
	return tr.Text, nil
}

func (a *Assistant) profileTurn(ctx context.Context, sess *ProfileSession, text, language string, res *Result) (string, error) {
	sess.Lock()
	defer sess.Unlock()

	sess.History = appendHistory(sess.History, core.ChatMessage{Role: core.RoleUser, Content: text})
	sess.Advance(text)

	var prompt string
	if sess.Data.Complete() {
		prompt = a.completeProfile(ctx, sess, res)
	} else {
		prompt = sess.NextPrompt()
	}
	res.ProfileCreation = sess.Active()
	res.Stage = sess.Stage

	reply := prompt
	if a.chat != nil {
		resp, err := a.chat.Complete(ctx, &core.ChatRequest{
			Model:     a.cfg.ChatModel,
			System:    registrationSystemPrompt(sess.Stage, language, prompt),
			Messages:  sess.History,
			MaxTokens: a.cfg.MaxTokens,
		})
		if err != nil {
			// The scripted prompt is still a usable answer.
			a.logger.Warn("profile prompt phrasing failed", "session_id", sess.ID, "error", err)
		} else if resp.Text != "" {
			reply = resp.Text
		}
	}
	sess.History = appendHistory(sess.History, core.ChatMessage{Role: core.RoleAssistant, Content: reply})
	return reply, nil
}

func (a *Assistant) completeProfile(ctx context.Context, sess *ProfileSession, res *Result) string {
	if a.profiles == nil {
		sess.MarkComplete(0)
		return sess.CompletionSummary()
	}
	password, err := a.password()
	if err != nil {
		a.logger.Error("temporary password generation failed", "error", err)
		return "There was an error creating your profile. Please try again later."
	}
	userID, err := a.profiles.CreateProfile(ctx, sess.Data, password)
	switch {
	case errors.Is(err, ErrUsernameTaken):
		taken := sess.Data.Username
		sess.RejectUsername()
		return fmt.Sprintf("The username %s is already taken. Please choose a different username.", taken)
	case err != nil:
		a.logger.Error("voice profile creation failed", "session_id", sess.ID, "error", err)
		return "There was an error creating your profile. Please try again later."
	}
	sess.MarkComplete(userID)
	res.Profile = &CreatedProfile{UserID: userID, Username: sess.Data.Username, TemporaryPassword: password}
	a.logger.Info("voice profile created", "session_id", sess.ID, "user_id", userID)
	return sess.CompletionSummary()
}

func (a *Assistant) adviceTurn(ctx context.Context, text, language string) (string, error) {
	if a.chat == nil {
		return simulateAdvice(text), nil
	}
	resp, err := a.chat.Complete(ctx, &core.ChatRequest{
		Model:     a.cfg.ChatModel,
		System:    adviceSystemPrompt(language),
		Messages:  []core.ChatMessage{{Role: core.RoleUser, Content: text}},
		MaxTokens: a.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	return resp.Text, nil
}

// generateImage is best effort: a failed image never fails the turn.
func (a *Assistant) generateImage(ctx context.Context, response string) string {
	if a.images == nil {
		return simulatedDiseaseImageURL
	}
	img, err := a.images.GenerateImage(ctx, &core.ImageRequest{
		Model:  a.cfg.ImageModel,
		Prompt: fmt.Sprintf("Agricultural visualization for farmers: %s. Create a clear, instructional image that would be helpful for farmers.", cleanResponse(response)),
		Size:   "1024x1024",
	})
	if err != nil {
		a.logger.Warn("image generation failed", "error", err)
		return ""
	}
	return img.URL
}

// synthesize is best effort: the text reply is delivered even without audio.
func (a *Assistant) synthesize(ctx context.Context, text, language string) string {
	if a.tts == nil {
		return simulatedAudio
	}
	if text == "" {
		return ""
	}
	out, err := a.tts.Synthesize(ctx, text, tts.SynthesizeOptions{
		Model:    a.cfg.TTSModel,
		Voice:    tts.VoiceForLanguage(language),
		Language: language,
	})
	if err != nil {
		a.logger.Warn("speech synthesis failed", "error", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(out.Audio)
}

func cleanResponse(s string) string {
	s = strings.ReplaceAll(s, imageMarker, "")
	s = strings.ReplaceAll(s, profileCompleteMarker, "")
	return strings.TrimSpace(s)
}

func appendHistory(h []core.ChatMessage, m core.ChatMessage) []core.ChatMessage {
	h = append(h, m)
	if len(h) > maxHistory {
		h = append([]core.ChatMessage(nil), h[len(h)-maxHistory:]...)
	}
	return h
}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// TemporaryPassword returns "temp_" followed by eight random base36 chars.
func TemporaryPassword() (string, error) {
	var b strings.Builder
	b.WriteString("temp_")
	max := big.NewInt(int64(len(passwordAlphabet)))
	for range 8 {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(passwordAlphabet[n.Int64()])
	}
	return b.String(), nil
}
