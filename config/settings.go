package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"node.town/minutes/embedding"
)

// Settings is everything the pipeline reads from configuration.
type Settings struct {
	DatabaseURL string
	HTTPPort    int

	InactivityTimeout  time.Duration
	MaxSessionDuration time.Duration
	SweepInterval      time.Duration
	DisconnectGrace    time.Duration
	DrainTimeout       time.Duration

	EmbeddingProvider      string
	EmbeddingModel         string
	EmbeddingDimensions    int
	EmbeddingRetryAttempts int
	EmbeddingRetryDelay    time.Duration

	BatchConcurrency int
	BatchSize        int
	QueueSize        int

	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
}

// SetDefaults registers the default for every key Load reads. The
// embedding model and dimensions have none: Load takes them from the
// provider.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8081)
	v.SetDefault("inactivity_timeout", 10*time.Minute)
	v.SetDefault("max_session_duration", 4*time.Hour)
	v.SetDefault("sweep_interval", time.Minute)
	v.SetDefault("disconnect_grace", 30*time.Second)
	v.SetDefault("drain_timeout", 30*time.Second)
	v.SetDefault("embedding_provider", "openai")
	v.SetDefault("embedding_retry_attempts", 3)
	v.SetDefault("embedding_retry_delay", time.Second)
	v.SetDefault("batch_concurrency", 3)
	v.SetDefault("batch_size", 8)
	v.SetDefault("queue_size", 64)
}

func Load(v *viper.Viper) (Settings, error) {
	SetDefaults(v)

	s := Settings{
		DatabaseURL:            v.GetString("database_url"),
		HTTPPort:               v.GetInt("http_port"),
		InactivityTimeout:      v.GetDuration("inactivity_timeout"),
		MaxSessionDuration:     v.GetDuration("max_session_duration"),
		SweepInterval:          v.GetDuration("sweep_interval"),
		DisconnectGrace:        v.GetDuration("disconnect_grace"),
		DrainTimeout:           v.GetDuration("drain_timeout"),
		EmbeddingProvider:      v.GetString("embedding_provider"),
		EmbeddingModel:         v.GetString("embedding_model"),
		EmbeddingDimensions:    v.GetInt("embedding_dimensions"),
		EmbeddingRetryAttempts: v.GetInt("embedding_retry_attempts"),
		EmbeddingRetryDelay:    v.GetDuration("embedding_retry_delay"),
		BatchConcurrency:       v.GetInt("batch_concurrency"),
		BatchSize:              v.GetInt("batch_size"),
		QueueSize:              v.GetInt("queue_size"),
		OpenAIAPIKey:           v.GetString("openai_api_key"),
		OpenAIBaseURL:          v.GetString("openai_base_url"),
		GeminiAPIKey:           v.GetString("gemini_api_key"),
	}

	model, dim := embedding.Defaults(s.EmbeddingProvider)
	if s.EmbeddingModel == "" {
		s.EmbeddingModel = model
	}
	if !v.IsSet("embedding_dimensions") {
		s.EmbeddingDimensions = dim
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	switch s.EmbeddingProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown embedding_provider %q", s.EmbeddingProvider)
	}
	positive := []struct {
		key string
		d   time.Duration
	}{
		{"inactivity_timeout", s.InactivityTimeout},
		{"max_session_duration", s.MaxSessionDuration},
		{"sweep_interval", s.SweepInterval},
		{"drain_timeout", s.DrainTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", p.key, p.d)
		}
	}
	if s.DisconnectGrace < 0 {
		return fmt.Errorf("disconnect_grace must not be negative, got %s", s.DisconnectGrace)
	}
	if s.EmbeddingRetryDelay < 0 {
		return fmt.Errorf("embedding_retry_delay must not be negative, got %s", s.EmbeddingRetryDelay)
	}
	if s.EmbeddingRetryAttempts < 1 {
		return fmt.Errorf("embedding_retry_attempts must be at least 1, got %d", s.EmbeddingRetryAttempts)
	}
	if s.EmbeddingDimensions < 1 {
		return fmt.Errorf("embedding_dimensions must be at least 1, got %d", s.EmbeddingDimensions)
	}
	if s.BatchConcurrency < 1 {
		return fmt.Errorf("batch_concurrency must be at least 1, got %d", s.BatchConcurrency)
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", s.BatchSize)
	}
	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}
	return nil
}
