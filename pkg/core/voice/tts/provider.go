// Package tts provides text-to-speech functionality.
package tts

import "context"

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Model    string  // Provider model (default: "tts-1")
	Voice    string  // Voice identifier; VoiceForLanguage picks one when empty
	Speed    float64 // Speed multiplier (0.25-4.0, default 1.0)
	Language string  // Language code of the text
	Format   string  // Output format: "mp3", "wav", "opus"
}

// Synthesis is the result of synthesis.
type Synthesis struct {
	Audio  []byte // Audio data
	Format string // Audio format
}

// VoiceForLanguage returns the default voice for a language. Telugu gets
// "nova", which handles Indic phonemes better; everything else "alloy".
func VoiceForLanguage(language string) string {
	if language == "te" {
		return "nova"
	}
	return "alloy"
}
