package core

import "context"

// Chat roles understood by every ChatProvider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a single non-streaming completion request.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float32
}

// ChatResponse is the model's reply.
type ChatResponse struct {
	Text  string
	Model string
}

// ChatProvider is implemented by every hosted language-model backend.
type ChatProvider interface {
	// Name returns the provider identifier (e.g. "openai", "gemini").
	Name() string

	// Complete sends a non-streaming chat request.
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ImageRequest asks for one generated image.
type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
}

// Image is a generated image reachable at URL.
type Image struct {
	URL           string
	RevisedPrompt string
}

// ImageProvider generates images from text prompts.
type ImageProvider interface {
	Name() string
	GenerateImage(ctx context.Context, req *ImageRequest) (*Image, error)
}
