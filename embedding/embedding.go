// Package embedding turns turn text into vectors for similarity search.
//
// Two providers are supported: OpenAI (through go-openai, which also
// covers OpenAI-compatible servers via WithBaseURL) and Gemini.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder converts text into dense float32 vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the dimensionality of the output vectors.
	Dimension() int
}

var (
	ErrEmptyInput = errors.New("embedding: empty input")
	// ErrDimension means the provider returned a vector of the wrong size.
	ErrDimension = errors.New("embedding: dimension mismatch")
)

type config struct {
	model   string
	dim     int
	baseURL string
}

type Option func(*config)

func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

func WithDimension(dim int) Option {
	return func(c *config) { c.dim = dim }
}

// WithBaseURL points the OpenAI provider at a compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// New builds the embedder for the named provider.
func New(ctx context.Context, provider, apiKey string, opts ...Option) (Embedder, error) {
	switch provider {
	case "openai":
		if apiKey == "" {
			return nil, errors.New("openai_api_key is not set")
		}
		return NewOpenAI(apiKey, opts...), nil
	case "gemini":
		if apiKey == "" {
			return nil, errors.New("gemini_api_key is not set")
		}
		return NewGemini(ctx, apiKey, opts...)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}

// Defaults returns the model and vector size a provider uses when none
// is configured.
func Defaults(provider string) (model string, dim int) {
	switch provider {
	case "gemini":
		return geminiDefaultModel, geminiDefaultDim
	case "openai":
		return openAIDefaultModel, openAIDefaultDim
	}
	return "", 0
}

// CheckDimension validates a vector against the embedder's dimension.
func CheckDimension(e Embedder, vec []float32) error {
	if len(vec) != e.Dimension() {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vec), e.Dimension())
	}
	return nil
}
