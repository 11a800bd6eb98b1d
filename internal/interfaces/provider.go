package interfaces

import "context"

// ChatMessage is one turn handed to a text-generation backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions tune a single completion call.
type CompletionOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption when the backend provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the result of a generation call.
type Completion struct {
	Text  string `json:"text"`
	Usage *Usage `json:"usage,omitempty"`
}

// Provider is a pluggable text-generation backend. At least one registered
// provider must report SupportsEmbedding for the embedding cache to function.
type Provider interface {
	Name() string
	Model() string
	EmbeddingModel() string
	SupportsEmbedding() bool

	// Available reports whether the backend is currently reachable.
	Available(ctx context.Context) bool

	Complete(ctx context.Context, messages []ChatMessage, opts *CompletionOptions) (*Completion, error)

	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// StreamingProvider is implemented by backends that can stream tokens.
type StreamingProvider interface {
	Provider
	StreamComplete(ctx context.Context, messages []ChatMessage, opts *CompletionOptions, fn func(chunk string) error) (*Completion, error)
}
