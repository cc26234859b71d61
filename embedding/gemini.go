package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	geminiDefaultModel = "text-embedding-004"
	geminiDefaultDim   = 768
)

type Gemini struct {
	client *genai.Client
	model  *genai.EmbeddingModel
	name   string
	dim    int
}

var _ Embedder = (*Gemini)(nil)

func NewGemini(ctx context.Context, apiKey string, opts ...Option) (*Gemini, error) {
	cfg := config{
		model: geminiDefaultModel,
		dim:   geminiDefaultDim,
	}
	for _, o := range opts {
		o(&cfg)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.EmbeddingModel(cfg.model),
		name:   cfg.model,
		dim:    cfg.dim,
	}, nil
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	resp, err := g.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("no embedding in response")
	}

	vec := resp.Embedding.Values
	if err := CheckDimension(g, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (g *Gemini) Dimension() int {
	return g.dim
}

func (g *Gemini) Model() string {
	return g.name
}

func (g *Gemini) Close() error {
	return g.client.Close()
}
