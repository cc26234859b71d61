package turns

import (
	"context"
	"fmt"

	"node.town/minutes/embedding"
)

type Stats struct {
	TotalTurns             int64   `json:"total_turns"`
	TurnsWithEmbeddings    int64   `json:"turns_with_embeddings"`
	TurnsWithoutEmbeddings int64   `json:"turns_without_embeddings"`
	AvgContentLength       float64 `json:"avg_content_length"`
	FirstSeq               int64   `json:"first_seq"`
	LastSeq                int64   `json:"last_seq"`
}

func (a *Agent) Stats(ctx context.Context, sessionID string) (Stats, error) {
	row, err := a.store.GetTurnStats(ctx, sessionID)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get turn stats: %w", err)
	}
	return Stats{
		TotalTurns:             row.TotalTurns,
		TurnsWithEmbeddings:    row.TurnsWithEmbeddings,
		TurnsWithoutEmbeddings: row.TurnsWithoutEmbeddings,
		AvgContentLength:       row.AvgContentLength,
		FirstSeq:               row.FirstSeq,
		LastSeq:                row.LastSeq,
	}, nil
}

type Health struct {
	Healthy    bool   `json:"healthy"`
	Dimensions int    `json:"dimensions,omitempty"`
	Error      string `json:"error,omitempty"`
}

// HealthCheck sends a single probe to the embedding provider, without
// retries.
func (a *Agent) HealthCheck(ctx context.Context) Health {
	vec, err := a.embedder.Embed(ctx, "test")
	if err != nil {
		return Health{Error: err.Error()}
	}
	if err := embedding.CheckDimension(a.embedder, vec); err != nil {
		return Health{Dimensions: len(vec), Error: err.Error()}
	}
	return Health{Healthy: true, Dimensions: len(vec)}
}
