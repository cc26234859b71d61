package embedding

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

const (
	openAIDefaultModel = "text-embedding-3-small"
	openAIDefaultDim   = 1536
)

type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

var _ Embedder = (*OpenAI)(nil)

func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	cfg := config{
		model: openAIDefaultModel,
		dim:   openAIDefaultDim,
	}
	for _, o := range opts {
		o(&cfg)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientConfig.BaseURL = cfg.baseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.model,
		dim:    cfg.dim,
	}
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dim,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}

	vec := resp.Data[0].Embedding
	if err := CheckDimension(o, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (o *OpenAI) Dimension() int {
	return o.dim
}

func (o *OpenAI) Model() string {
	return o.model
}
