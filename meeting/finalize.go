package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"node.town/minutes/db"
)

// Counts are the pipeline's per-session turn totals.
type Counts struct {
	Submitted int64 `json:"submitted"`
	Embedded  int64 `json:"embedded"`
	Degraded  int64 `json:"degraded"`
	Failed    int64 `json:"failed"`
}

// Summary is emitted once per session when it is finalized.
type Summary struct {
	SessionID       string           `json:"session_id"`
	Status          db.SessionStatus `json:"status"`
	Outcome         string           `json:"outcome"`
	TotalTurns      int64            `json:"total_turns"`
	Counts          Counts           `json:"counts"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         time.Time        `json:"ended_at"`
	DurationSeconds float64          `json:"duration_seconds"`
	DrainError      string           `json:"drain_error,omitempty"`
}

// Finalize moves a session to a terminal status. The conditional update
// in the store decides the single winner: every other caller, and every
// call on a session that is already terminal, gets false and no side
// effects.
func (m *Manager) Finalize(
	ctx context.Context,
	id string,
	status db.SessionStatus,
	outcome string,
) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("cannot finalize to non-terminal status %q", status)
	}

	endedAt := m.opts.Clock.Now()
	row, err := m.store.TransitionSession(ctx, db.TransitionSessionParams{
		ID:           id,
		Status:       status,
		Outcome:      pgtype.Text{String: outcome, Valid: true},
		EndedAt:      timestamptz(endedAt),
		FromStatuses: openStatuses,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			m.log.Debug("session already finalized", "session", id, "outcome", outcome)
			return false, nil
		}
		return false, fmt.Errorf("failed to finalize session: %w", err)
	}

	m.release(id)

	summary := Summary{
		SessionID:       id,
		Status:          status,
		Outcome:         outcome,
		StartedAt:       row.CreatedAt.Time,
		EndedAt:         endedAt,
		DurationSeconds: endedAt.Sub(row.CreatedAt.Time).Seconds(),
	}

	if m.pipeline != nil {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.drainTimeout())
		counts, err := m.pipeline.StopSession(drainCtx, id)
		cancel()
		if err != nil {
			m.log.Warn("pipeline did not drain", "session", id, "error", err)
			summary.DrainError = err.Error()
		}
		summary.Counts = counts
		summary.TotalTurns = counts.Embedded + counts.Degraded
	}

	err = m.store.SetSessionSummary(context.WithoutCancel(ctx), db.SetSessionSummaryParams{
		ID:      id,
		Summary: summary.encode(),
	})
	if err != nil {
		m.log.Error("failed to store session summary", "session", id, "error", err)
	}

	m.log.Info("finalized session",
		"session", id,
		"status", status,
		"outcome", outcome,
		"turns", summary.TotalTurns,
		"degraded", summary.Counts.Degraded,
		"failed", summary.Counts.Failed,
		"duration", time.Duration(summary.DurationSeconds*float64(time.Second)).Round(time.Second),
	)

	if m.summaries != nil {
		select {
		case m.summaries <- summary:
		default:
			m.log.Warn("summary channel full, dropping", "session", id)
		}
	}
	return true, nil
}

func (m *Manager) drainTimeout() time.Duration {
	if m.opts.DrainTimeout > 0 {
		return m.opts.DrainTimeout
	}
	return 30 * time.Second
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.sessions[id]; ok {
		if t.graceTimer != nil {
			t.graceTimer.Stop()
		}
		delete(m.sessions, id)
	}
}

// ForceComplete is the operator's way out for a stuck session.
func (m *Manager) ForceComplete(ctx context.Context, id string) (bool, error) {
	return m.Finalize(ctx, id, db.SessionStatusCompleted, OutcomeForceCompleted)
}

func (m *Manager) Fail(ctx context.Context, id, reason string) (bool, error) {
	return m.Finalize(ctx, id, db.SessionStatusFailed, reason)
}

// RequestLeave marks the session as leaving, which refuses further
// activity, and then completes it. The boolean reports whether this call
// finalized the session.
func (m *Manager) RequestLeave(ctx context.Context, id string) (bool, error) {
	_, err := m.store.TransitionSession(ctx, db.TransitionSessionParams{
		ID:     id,
		Status: db.SessionStatusLeaving,
		FromStatuses: []string{
			string(db.SessionStatusJoining),
			string(db.SessionStatusActive),
		},
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to mark session leaving: %w", err)
	}

	m.mu.Lock()
	if t, ok := m.sessions[id]; ok {
		t.session.Status = db.SessionStatusLeaving
	}
	m.mu.Unlock()

	m.log.Info("leaving session", "session", id)
	return m.Finalize(ctx, id, db.SessionStatusCompleted, OutcomeLeft)
}

func (s Summary) encode() []byte {
	b, _ := json.Marshal(s)
	return b
}
