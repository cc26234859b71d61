package meeting

import (
	"context"
	"fmt"
	"time"

	"node.town/minutes/db"
)

type expiry struct {
	id      string
	outcome string
}

// Sweep finalizes tracked sessions that have been idle or open for too
// long, then asks the store for overdue sessions that are not tracked at
// all. It returns how many sessions this pass finalized.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.opts.Clock.Now()

	var expired []expiry
	m.mu.Lock()
	for id, t := range m.sessions {
		switch {
		case t.session.Status == db.SessionStatusActive &&
			now.Sub(t.lastTouched) > m.opts.InactivityTimeout:
			expired = append(expired, expiry{id, OutcomeInactivity})
		case now.Sub(t.session.CreatedAt) > m.opts.MaxDuration:
			expired = append(expired, expiry{id, OutcomeMaxDuration})
		}
	}
	m.mu.Unlock()

	finalized := 0
	for _, e := range expired {
		ok, err := m.Finalize(ctx, e.id, db.SessionStatusCompleted, e.outcome)
		if err != nil {
			m.log.Error("sweep failed to finalize session", "session", e.id, "error", err)
			continue
		}
		if ok {
			finalized++
		} else {
			// finalized elsewhere, possibly by another process
			m.release(e.id)
		}
	}

	overdue, err := m.store.ListOverdueSessions(ctx, timestamptz(now.Add(-m.opts.MaxDuration)))
	if err != nil {
		return finalized, fmt.Errorf("failed to list overdue sessions: %w", err)
	}
	for _, row := range overdue {
		ok, err := m.Finalize(ctx, row.ID, db.SessionStatusCompleted, OutcomeMaxDuration)
		if err != nil {
			m.log.Error("sweep failed to finalize overdue session", "session", row.ID, "error", err)
			continue
		}
		if ok {
			finalized++
		}
	}

	if finalized > 0 {
		m.log.Info("sweep finalized sessions", "count", finalized)
	}
	return finalized, nil
}

// Run sweeps every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.opts.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("session sweeper started",
		"interval", interval,
		"inactivity", m.opts.InactivityTimeout,
		"max_duration", m.opts.MaxDuration,
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.log.Error("sweep failed", "error", err)
			}
		}
	}
}
