package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/aspired-future/startales-sub005/internal/config"
	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

const (
	defaultOpenAITimeout        = 120 * time.Second
	defaultOpenAIModel          = "gpt-4o-mini"
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
)

// OpenAIProvider is a cloud text-generation backend speaking the OpenAI API.
// A custom base URL makes it work against any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client         *openai.Client
	model          string
	embeddingModel string
	maxTokens      int
	temperature    float64
}

func NewOpenAIProvider(cfg config.OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout.Std()
	if timeout == 0 {
		timeout = defaultOpenAITimeout
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = defaultOpenAIEmbeddingModel
	}

	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          model,
		embeddingModel: embeddingModel,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
	}
}

func (p *OpenAIProvider) Name() string            { return "openai" }
func (p *OpenAIProvider) Model() string           { return p.model }
func (p *OpenAIProvider) EmbeddingModel() string  { return p.embeddingModel }
func (p *OpenAIProvider) SupportsEmbedding() bool { return true }

func (p *OpenAIProvider) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.ListModels(ctx)
	return err == nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []interfaces.ChatMessage, opts *interfaces.CompletionOptions) (*interfaces.Completion, error) {
	req := p.chatRequest(messages, opts)

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat completion: empty response")
	}

	return &interfaces.Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: &interfaces.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// StreamComplete streams tokens through fn and returns the full completion.
func (p *OpenAIProvider) StreamComplete(ctx context.Context, messages []interfaces.ChatMessage, opts *interfaces.CompletionOptions, fn func(chunk string) error) (*interfaces.Completion, error) {
	req := p.chatRequest(messages, opts)
	req.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat stream: %w", err)
	}
	defer stream.Close()

	var text string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai chat stream recv: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text += delta
		if fn != nil {
			if err := fn(delta); err != nil {
				return nil, err
			}
		}
	}

	return &interfaces.Completion{Text: text}, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("openai embedding: no vector returned")
	}
	return vectors[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float64, len(resp.Data))
	for _, data := range resp.Data {
		vectors[data.Index] = toFloat64(data.Embedding)
	}
	return vectors, nil
}

func (p *OpenAIProvider) chatRequest(messages []interfaces.ChatMessage, opts *interfaces.CompletionOptions) openai.ChatCompletionRequest {
	model := p.model
	maxTokens := p.maxTokens
	temperature := p.temperature
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
		}
		if opts.MaxTokens > 0 {
			maxTokens = opts.MaxTokens
		}
		if opts.Temperature > 0 {
			temperature = opts.Temperature
		}
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	}
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
