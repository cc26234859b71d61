// Package turns stores finalized transcript turns together with their
// embeddings. A turn is always written, whether or not its embedding
// could be generated.
package turns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
	"node.town/minutes/db"
	"node.town/minutes/embedding"
	"node.town/minutes/etc"
)

// ErrStore marks a failure to write a turn. There is no fallback for it.
var ErrStore = errors.New("turn store write failed")

type Store interface {
	InsertTurn(ctx context.Context, arg db.InsertTurnParams) (db.InsertTurnRow, error)
	GetTurnStats(ctx context.Context, sessionID string) (db.GetTurnStatsRow, error)
}

// Turn is a turn whose sequence index has already been assigned.
type Turn struct {
	SessionID    string
	Seq          int64
	SpeakerLabel string
	IdentityID   *int64
	Text         string
	SpokenAt     time.Time
	// Metadata is merged into the stored metadata column.
	Metadata map[string]interface{}
}

type StoredTurn struct {
	ID             string
	SessionID      string
	Seq            int64
	IdentityID     *int64
	Embedded       bool
	Attempts       int
	EmbeddingError string
	CreatedAt      time.Time
}

type Agent struct {
	store    Store
	embedder embedding.Embedder
	retry    embedding.RetryPolicy
	log      *log.Logger
	clock    etc.TimeProvider
}

func NewAgent(
	store Store,
	embedder embedding.Embedder,
	retry embedding.RetryPolicy,
	logger *log.Logger,
	clock etc.TimeProvider,
) *Agent {
	if clock == nil {
		clock = etc.RealTimeProvider{}
	}
	return &Agent{
		store:    store,
		embedder: embedder,
		retry:    retry,
		log:      logger,
		clock:    clock,
	}
}

// Process embeds and stores one turn. Embedding failures degrade the turn
// to one stored without a vector; only a store failure is returned.
func (a *Agent) Process(ctx context.Context, turn Turn) (*StoredTurn, error) {
	vec, attempts, embedErr := a.embed(ctx, turn.Text)

	params := db.InsertTurnParams{
		ID:           etc.NewFreshID(),
		SessionID:    turn.SessionID,
		Seq:          turn.Seq,
		SpeakerLabel: turn.SpeakerLabel,
		Content:      turn.Text,
		SpokenAt:     pgtype.Timestamptz{Time: turn.SpokenAt, Valid: true},
	}
	if turn.IdentityID != nil {
		params.IdentityID = pgtype.Int8{Int64: *turn.IdentityID, Valid: true}
	}

	meta := make(map[string]interface{}, len(turn.Metadata)+3)
	for k, v := range turn.Metadata {
		meta[k] = v
	}
	meta["embedding_attempts"] = attempts

	if embedErr == nil {
		v := pgvector.NewVector(vec)
		params.Embedding = &v
	} else {
		failedAt := a.clock.Now()
		params.EmbeddingError = pgtype.Text{String: embedErr.Error(), Valid: true}
		params.EmbeddingFailedAt = pgtype.Timestamptz{Time: failedAt, Valid: true}
		meta["embedding_error"] = embedErr.Error()
		meta["embedding_failed_at"] = failedAt.UTC().Format(time.RFC3339Nano)
		a.log.Warn("storing turn without embedding",
			"session", turn.SessionID,
			"seq", turn.Seq,
			"attempts", attempts,
			"error", embedErr,
		)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn metadata: %w", err)
	}
	params.Metadata = metaJSON

	row, err := a.store.InsertTurn(ctx, params)
	if err != nil {
		a.log.Error("failed to store turn",
			"session", turn.SessionID,
			"seq", turn.Seq,
			"error", err,
		)
		return nil, fmt.Errorf("%w: session %s seq %d: %v", ErrStore, turn.SessionID, turn.Seq, err)
	}

	stored := &StoredTurn{
		ID:         row.ID,
		SessionID:  turn.SessionID,
		Seq:        turn.Seq,
		IdentityID: turn.IdentityID,
		Embedded:   embedErr == nil,
		Attempts:   attempts,
		CreatedAt:  row.CreatedAt.Time,
	}
	if embedErr != nil {
		stored.EmbeddingError = embedErr.Error()
	}

	a.log.Debug("stored turn",
		"session", turn.SessionID,
		"seq", turn.Seq,
		"embedded", stored.Embedded,
	)
	return stored, nil
}

// embed runs the retry policy around the provider. Empty text is never
// sent to the provider.
func (a *Agent) embed(ctx context.Context, text string) ([]float32, int, error) {
	if text == "" {
		return nil, 0, embedding.ErrEmptyInput
	}

	var vec []float32
	attempts, err := a.retry.Do(ctx, func(ctx context.Context) error {
		v, err := a.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		if err := embedding.CheckDimension(a.embedder, v); err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, attempts, fmt.Errorf("embedding failed after %d attempts: %w", attempts, err)
	}
	return vec, attempts, nil
}
