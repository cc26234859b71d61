package meeting

import (
	"context"

	"node.town/minutes/db"
)

// ConnectionOpened registers a live transport connection for the session
// and cancels any pending disconnect grace timer.
func (m *Manager) ConnectionOpened(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if t.session.Status != db.SessionStatusJoining && t.session.Status != db.SessionStatusActive {
		return ErrSessionClosed
	}

	t.session.Connections++
	if t.graceTimer != nil {
		t.graceTimer.Stop()
		t.graceTimer = nil
		t.graceGen++
		m.log.Info("connection restored", "session", id)
	}
	return nil
}

// ConnectionClosed drops a connection. When the last one goes, the
// session is completed unless a connection reopens within the grace
// period.
func (m *Manager) ConnectionClosed(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.sessions[id]
	if !ok {
		return
	}
	if t.session.Connections > 0 {
		t.session.Connections--
	}
	if t.session.Connections > 0 || t.graceTimer != nil {
		return
	}

	t.graceGen++
	gen := t.graceGen
	m.log.Info("connection lost, waiting for reconnect",
		"session", id,
		"grace", m.opts.DisconnectGrace,
	)
	t.graceTimer = m.opts.AfterFunc(m.opts.DisconnectGrace, func() {
		if !m.graceExpired(id, gen) {
			return
		}
		if _, err := m.Finalize(context.Background(), id, db.SessionStatusCompleted, OutcomeConnectionClosed); err != nil {
			m.log.Error("failed to finalize disconnected session", "session", id, "error", err)
		}
	})
}

// graceExpired reports whether the timer of generation gen is still the
// live one for the session.
func (m *Manager) graceExpired(id string, gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.sessions[id]
	if !ok || t.graceGen != gen || t.session.Connections > 0 {
		return false
	}
	t.graceTimer = nil
	return true
}
