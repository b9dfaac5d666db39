package assistant

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/core/voice/stt"
	"github.com/vango-go/agrimarket/pkg/core/voice/tts"
)

type fakeSink struct {
	calls []ProfileData
	errs  []error
	next  int64
}

func (f *fakeSink) CreateProfile(_ context.Context, data ProfileData, password string) (int64, error) {
	f.calls = append(f.calls, data)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	if !strings.HasPrefix(password, "temp_") {
		return 0, errors.New("unexpected password " + password)
	}
	f.next++
	return f.next, nil
}

type fakeChat struct {
	reply string
	err   error
	reqs  []*core.ChatRequest
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) Complete(_ context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &core.ChatResponse{Text: f.reply}, nil
}

type fakeImages struct{ prompts []string }

func (f *fakeImages) Name() string { return "fake" }

func (f *fakeImages) GenerateImage(_ context.Context, req *core.ImageRequest) (*core.Image, error) {
	f.prompts = append(f.prompts, req.Prompt)
	return &core.Image{URL: "https://img.example/1.png"}, nil
}

type fakeSTT struct {
	text     string
	language string
	audio    []byte
}

func (f *fakeSTT) Name() string { return "fake" }

func (f *fakeSTT) Transcribe(_ context.Context, r io.Reader, opts stt.TranscribeOptions) (*stt.Transcript, error) {
	f.audio, _ = io.ReadAll(r)
	f.language = opts.Language
	return &stt.Transcript{Text: f.text}, nil
}

type fakeTTS struct {
	voice string
	text  string
}

func (f *fakeTTS) Name() string { return "fake" }

func (f *fakeTTS) Synthesize(_ context.Context, text string, opts tts.SynthesizeOptions) (*tts.Synthesis, error) {
	f.voice = opts.Voice
	f.text = text
	return &tts.Synthesis{Audio: []byte("SPEECH"), Format: "mp3"}, nil
}

func process(t *testing.T, a *Assistant, text string) *Result {
	t.Helper()
	res, err := a.Process(context.Background(), Input{Text: text, SessionID: "session_test"})
	if err != nil {
		t.Fatalf("Process(%q): %v", text, err)
	}
	return res
}

func TestProcess_SimulatedProfileFlow(t *testing.T) {
	sink := &fakeSink{}
	a := New(Options{Profiles: sink})

	res := process(t, a, "I want to sign up")
	if !res.ProfileCreation || res.Stage != StageName {
		t.Fatalf("profileCreation=%v stage=%q", res.ProfileCreation, res.Stage)
	}
	if res.Response != "To create your profile, I need some information. What is your full name?" {
		t.Fatalf("response=%q", res.Response)
	}
	if res.AudioResponse != base64.StdEncoding.EncodeToString([]byte("Simulated audio data")) {
		t.Fatalf("audio=%q", res.AudioResponse)
	}
	if !res.Simulated {
		t.Fatalf("expected simulated result")
	}

	process(t, a, "My name is Ravi Kumar")
	process(t, a, "I am a farmer")
	res = process(t, a, "I am from Guntur village")
	if res.Stage != StageUsername {
		t.Fatalf("stage=%q", res.Stage)
	}

	res = process(t, a, "username: ravi_k")
	if res.ProfileCreation || res.Stage != StageComplete {
		t.Fatalf("profileCreation=%v stage=%q", res.ProfileCreation, res.Stage)
	}
	if res.Profile == nil || res.Profile.Username != "ravi_k" || res.Profile.UserID != 1 {
		t.Fatalf("profile=%+v", res.Profile)
	}
	if !strings.HasPrefix(res.Profile.TemporaryPassword, "temp_") || len(res.Profile.TemporaryPassword) != 13 {
		t.Fatalf("password=%q", res.Profile.TemporaryPassword)
	}
	if !strings.Contains(res.Response, "- Location: Guntur") {
		t.Fatalf("response=%q", res.Response)
	}
	if len(sink.calls) != 1 || sink.calls[0].Name != "Ravi Kumar" {
		t.Fatalf("sink calls=%+v", sink.calls)
	}

	// A finished session falls back to farming advice.
	res = process(t, a, "what fertilizer suits my soil")
	if res.ProfileCreation || !strings.Contains(res.Response, "healthy soil") {
		t.Fatalf("unexpected advice result: %+v", res)
	}
}

func TestProcess_UsernameTakenAsksAgain(t *testing.T) {
	sink := &fakeSink{errs: []error{ErrUsernameTaken}}
	a := New(Options{Profiles: sink})

	process(t, a, "register")
	process(t, a, "My name is Sita and I am a consumer from Vijayawada")
	res := process(t, a, "username: sita")
	if res.Stage != StageUsername || res.Profile != nil {
		t.Fatalf("stage=%q profile=%+v", res.Stage, res.Profile)
	}
	if res.Response != "The username sita is already taken. Please choose a different username." {
		t.Fatalf("response=%q", res.Response)
	}

	res = process(t, a, "sita_v")
	if res.Stage != StageComplete || res.Profile == nil || res.Profile.Username != "sita_v" {
		t.Fatalf("stage=%q profile=%+v", res.Stage, res.Profile)
	}
}

func TestProcess_SimulatedTranscriptionByLength(t *testing.T) {
	a := New(Options{})
	res, err := a.Process(context.Background(), Input{Audio: make([]byte, 60000)})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.Contains(res.Text, "crop diseases") {
		t.Fatalf("text=%q", res.Text)
	}
	if res.ImageURL == "" {
		t.Fatalf("expected simulated disease image")
	}
	if strings.Contains(res.Response, imageMarker) {
		t.Fatalf("marker not stripped: %q", res.Response)
	}
}

func TestProcess_RequiresAudioOrText(t *testing.T) {
	a := New(Options{})
	_, err := a.Process(context.Background(), Input{})
	ce, ok := core.AsError(err)
	if !ok || ce.Type != core.ErrInvalidRequest {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestProcess_LiveAdviceWithImageAndSpeech(t *testing.T) {
	chat := &fakeChat{reply: "Spray neem oil on the leaves. [GENERATE_IMAGE]"}
	images := &fakeImages{}
	recognizer := &fakeSTT{text: "my crop has a disease"}
	speaker := &fakeTTS{}
	a := New(Options{STT: recognizer, TTS: speaker, Chat: chat, Images: images, Config: Config{ChatModel: "gpt-4o"}})

	res, err := a.Process(context.Background(), Input{Audio: []byte("OPUS"), SessionID: "s"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if recognizer.language != "te" || string(recognizer.audio) != "OPUS" {
		t.Fatalf("stt language=%q audio=%q", recognizer.language, recognizer.audio)
	}
	if res.Text != "my crop has a disease" || res.Response != "Spray neem oil on the leaves." {
		t.Fatalf("text=%q response=%q", res.Text, res.Response)
	}
	if res.ImageURL != "https://img.example/1.png" {
		t.Fatalf("imageUrl=%q", res.ImageURL)
	}
	if len(images.prompts) != 1 || !strings.HasPrefix(images.prompts[0], "Agricultural visualization for farmers: Spray neem oil") {
		t.Fatalf("image prompts=%q", images.prompts)
	}
	if speaker.voice != "nova" || speaker.text != "Spray neem oil on the leaves." {
		t.Fatalf("tts voice=%q text=%q", speaker.voice, speaker.text)
	}
	if res.AudioResponse != base64.StdEncoding.EncodeToString([]byte("SPEECH")) {
		t.Fatalf("audio=%q", res.AudioResponse)
	}
	if len(chat.reqs) != 1 || chat.reqs[0].MaxTokens != DefaultMaxTokens || !strings.Contains(chat.reqs[0].System, "AgriBuddy") {
		t.Fatalf("unexpected chat request: %+v", chat.reqs)
	}
	if res.Simulated {
		t.Fatalf("expected live result")
	}
}

func TestProcess_EnglishUsesAlloy(t *testing.T) {
	speaker := &fakeTTS{}
	a := New(Options{TTS: speaker, Chat: &fakeChat{reply: "ok"}})
	if _, err := a.Process(context.Background(), Input{Text: "hi", Language: "en"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if speaker.voice != "alloy" {
		t.Fatalf("voice=%q", speaker.voice)
	}
}

func TestProcess_LiveAdviceChatErrorFailsTurn(t *testing.T) {
	a := New(Options{Chat: &fakeChat{err: errors.New("boom")}})
	if _, err := a.Process(context.Background(), Input{Text: "weather?"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestProcess_LiveProfileFallsBackToScriptOnChatError(t *testing.T) {
	a := New(Options{Chat: &fakeChat{err: errors.New("boom")}})
	res := process(t, a, "create profile")
	if res.Response != "To create your profile, I need some information. What is your full name?" {
		t.Fatalf("response=%q", res.Response)
	}
}

func TestProcess_LiveProfileUsesModelPhrasing(t *testing.T) {
	chat := &fakeChat{reply: "Namaskaram! Mee peru enti?"}
	a := New(Options{Chat: chat})
	res := process(t, a, "create profile")
	if res.Response != "Namaskaram! Mee peru enti?" {
		t.Fatalf("response=%q", res.Response)
	}
	if len(chat.reqs) != 1 || !strings.Contains(chat.reqs[0].System, "What is your full name?") {
		t.Fatalf("unexpected chat request: %+v", chat.reqs)
	}
	if got := chat.reqs[0].Messages; len(got) != 1 || got[0].Content != "create profile" {
		t.Fatalf("history=%+v", got)
	}
}

func TestTemporaryPassword(t *testing.T) {
	p, err := TemporaryPassword()
	if err != nil {
		t.Fatalf("TemporaryPassword: %v", err)
	}
	if !strings.HasPrefix(p, "temp_") || len(p) != 13 {
		t.Fatalf("password=%q", p)
	}
}
