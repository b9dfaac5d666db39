package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func TestVoiceForLanguage(t *testing.T) {
	if got := VoiceForLanguage("te"); got != "nova" {
		t.Fatalf("te voice=%q", got)
	}
	if got := VoiceForLanguage("hi"); got != "alloy" {
		t.Fatalf("hi voice=%q", got)
	}
	if got := VoiceForLanguage(""); got != "alloy" {
		t.Fatalf("default voice=%q", got)
	}
}

func TestOpenAISynthesize(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("path=%q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("MP3DATA"))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	p := NewOpenAI(openai.NewClientWithConfig(cfg), "")

	out, err := p.Synthesize(context.Background(), "namaskaram", SynthesizeOptions{Language: "te"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(out.Audio) != "MP3DATA" || out.Format != "mp3" {
		t.Fatalf("unexpected synthesis: %q %q", out.Audio, out.Format)
	}
	if body["voice"] != "nova" || body["model"] != "tts-1" || body["input"] != "namaskaram" {
		t.Fatalf("unexpected request body: %#v", body)
	}
}

func TestOpenAISynthesize_EmptyText(t *testing.T) {
	p := NewOpenAI(openai.NewClient("k"), "")
	if _, err := p.Synthesize(context.Background(), "", SynthesizeOptions{}); err == nil {
		t.Fatalf("expected error for empty text")
	}
}
