package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"

	"github.com/aspired-future/startales-sub005/internal/config"
	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

const (
	defaultOllamaHost           = "http://localhost:11434"
	defaultOllamaTimeout        = 60 * time.Second
	defaultOllamaModel          = "llama3.1"
	defaultOllamaEmbeddingModel = "nomic-embed-text"
)

// OllamaProvider is a local-first backend for both generation and embeddings.
type OllamaProvider struct {
	client         *ollama.Client
	model          string
	embeddingModel string
}

func NewOllamaProvider(cfg config.OllamaConfig) (*OllamaProvider, error) {
	host := cfg.Host
	if host == "" {
		host = defaultOllamaHost
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	timeout := cfg.Timeout.Std()
	if timeout == 0 {
		timeout = defaultOllamaTimeout
	}

	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = defaultOllamaEmbeddingModel
	}

	return &OllamaProvider{
		client:         ollama.NewClient(u, &http.Client{Timeout: timeout}),
		model:          model,
		embeddingModel: embeddingModel,
	}, nil
}

func (p *OllamaProvider) Name() string            { return "ollama" }
func (p *OllamaProvider) Model() string           { return p.model }
func (p *OllamaProvider) EmbeddingModel() string  { return p.embeddingModel }
func (p *OllamaProvider) SupportsEmbedding() bool { return true }

func (p *OllamaProvider) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return p.client.Heartbeat(ctx) == nil
}

func (p *OllamaProvider) Complete(ctx context.Context, messages []interfaces.ChatMessage, opts *interfaces.CompletionOptions) (*interfaces.Completion, error) {
	model := p.model
	options := map[string]interface{}{}
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
		}
		if opts.MaxTokens > 0 {
			options["num_predict"] = opts.MaxTokens
		}
		if opts.Temperature > 0 {
			options["temperature"] = opts.Temperature
		}
	}

	msgs := make([]ollama.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, ollama.Message{Role: m.Role, Content: m.Content})
	}

	stream := false
	req := &ollama.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   &stream,
		Options:  options,
	}

	var (
		text strings.Builder
		last ollama.ChatResponse
	)
	if err := p.client.Chat(ctx, req, func(resp ollama.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		last = resp
		return nil
	}); err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	return &interfaces.Completion{
		Text: text.String(),
		Usage: &interfaces.Usage{
			PromptTokens:     last.Metrics.PromptEvalCount,
			CompletionTokens: last.Metrics.EvalCount,
			TotalTokens:      last.Metrics.PromptEvalCount + last.Metrics.EvalCount,
		},
	}, nil
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	res, err := p.client.Embed(ctx, &ollama.EmbedRequest{
		Model: p.embeddingModel,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama embed: empty embedding")
	}
	return toFloat64(res.Embeddings[0]), nil
}

func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	res, err := p.client.Embed(ctx, &ollama.EmbedRequest{
		Model: p.embeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed batch: %w", err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed batch: got %d vectors for %d inputs", len(res.Embeddings), len(texts))
	}

	vectors := make([][]float64, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		vectors[i] = toFloat64(emb)
	}
	return vectors, nil
}
