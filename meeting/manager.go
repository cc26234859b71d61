// Package meeting tracks the life cycle of recorded meeting sessions and
// finalizes them when they go idle, run too long, lose their connection
// or are asked to leave.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"node.town/minutes/db"
	"node.town/minutes/etc"
	"node.town/minutes/identity"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionClosed is returned for activity on a session that is
	// leaving or already finalized.
	ErrSessionClosed = errors.New("session is closed")
)

// Finalization outcomes recorded on the session row.
const (
	OutcomeInactivity       = "inactivity_timeout"
	OutcomeMaxDuration      = "maximum_duration_exceeded"
	OutcomeConnectionClosed = "connection_closed"
	OutcomeLeft             = "left"
	OutcomeForceCompleted   = "force_completed"
)

var openStatuses = []string{
	string(db.SessionStatusJoining),
	string(db.SessionStatusActive),
	string(db.SessionStatusLeaving),
}

type Store interface {
	InsertSession(ctx context.Context, arg db.InsertSessionParams) (db.MeetingSession, error)
	GetSession(ctx context.Context, id string) (db.MeetingSession, error)
	ListOpenSessions(ctx context.Context) ([]db.MeetingSession, error)
	ListOverdueSessions(ctx context.Context, createdBefore pgtype.Timestamptz) ([]db.MeetingSession, error)
	RecordSessionActivity(ctx context.Context, arg db.RecordSessionActivityParams) (db.MeetingSession, error)
	TransitionSession(ctx context.Context, arg db.TransitionSessionParams) (db.MeetingSession, error)
	SetSessionSummary(ctx context.Context, arg db.SetSessionSummaryParams) error
}

// Pipeline is the per-session processing the manager starts on register
// and drains on finalization.
type Pipeline interface {
	Open(ctx context.Context, sessionID, aliasContext string) error
	StopSession(ctx context.Context, sessionID string) (Counts, error)
}

// Timer is the part of *time.Timer the grace period needs.
type Timer interface {
	Stop() bool
}

type Options struct {
	InactivityTimeout time.Duration
	MaxDuration       time.Duration
	SweepInterval     time.Duration
	DisconnectGrace   time.Duration
	DrainTimeout      time.Duration

	Clock     etc.TimeProvider
	AfterFunc func(d time.Duration, f func()) Timer
	// SummaryBuffer sizes the Summaries channel. Zero disables it.
	SummaryBuffer int
}

type Session struct {
	ID             string           `json:"id"`
	BotID          string           `json:"bot_id"`
	MeetingURL     string           `json:"meeting_url"`
	Status         db.SessionStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	LastActivityAt *time.Time       `json:"last_activity_at,omitempty"`
	EndedAt        *time.Time       `json:"ended_at,omitempty"`
	Outcome        string           `json:"outcome,omitempty"`
	Connections    int              `json:"connections"`
}

type tracked struct {
	session     Session
	graceTimer  Timer
	graceGen    int
	lastTouched time.Time
}

type Manager struct {
	store    Store
	log      *log.Logger
	opts     Options
	pipeline Pipeline

	mu        sync.Mutex
	sessions  map[string]*tracked
	summaries chan Summary
}

func NewManager(store Store, logger *log.Logger, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = etc.RealTimeProvider{}
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}
	m := &Manager{
		store:    store,
		log:      logger,
		opts:     opts,
		sessions: make(map[string]*tracked),
	}
	if opts.SummaryBuffer > 0 {
		m.summaries = make(chan Summary, opts.SummaryBuffer)
	}
	return m
}

// SetPipeline attaches the processing pipeline. It must be called before
// sessions are registered.
func (m *Manager) SetPipeline(p Pipeline) {
	m.pipeline = p
}

// Summaries delivers the summary of every finalized session. It is nil
// unless Options.SummaryBuffer was set; summaries that do not fit in the
// buffer are dropped.
func (m *Manager) Summaries() <-chan Summary {
	return m.summaries
}

type RegisterParams struct {
	ID         string
	BotID      string
	MeetingURL string
}

// Register records a new joining session and opens its pipeline.
func (m *Manager) Register(ctx context.Context, arg RegisterParams) (Session, error) {
	if arg.ID == "" {
		arg.ID = etc.NewFreshID()
	}
	now := m.opts.Clock.Now()

	row, err := m.store.InsertSession(ctx, db.InsertSessionParams{
		ID:         arg.ID,
		BotID:      arg.BotID,
		MeetingUrl: arg.MeetingURL,
		CreatedAt:  timestamptz(now),
	})
	if err != nil {
		return Session{}, fmt.Errorf("failed to insert session: %w", err)
	}

	s := sessionFromRow(row)
	m.track(s)

	if err := m.openPipeline(ctx, s); err != nil {
		m.Fail(context.Background(), s.ID, "pipeline_open_failed")
		return Session{}, err
	}

	m.log.Info("registered session",
		"session", s.ID,
		"bot", s.BotID,
		"url", s.MeetingURL,
	)
	return s, nil
}

func (m *Manager) openPipeline(ctx context.Context, s Session) error {
	if m.pipeline == nil {
		return nil
	}
	err := m.pipeline.Open(ctx, s.ID, identity.ContextFromURL(s.MeetingURL))
	if err != nil {
		return fmt.Errorf("failed to open pipeline: %w", err)
	}
	return nil
}

func (m *Manager) track(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return
	}
	t := &tracked{session: s, lastTouched: s.CreatedAt}
	if s.LastActivityAt != nil {
		t.lastTouched = *s.LastActivityAt
	}
	m.sessions[s.ID] = t
}

// Touch records transcript activity. The first touch moves a joining
// session to active.
func (m *Manager) Touch(ctx context.Context, id string) error {
	m.mu.Lock()
	if t, ok := m.sessions[id]; ok && t.session.Status == db.SessionStatusLeaving {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	m.mu.Unlock()

	now := m.opts.Clock.Now()
	row, err := m.store.RecordSessionActivity(ctx, db.RecordSessionActivityParams{
		ID:             id,
		LastActivityAt: timestamptz(now),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return m.closedOrUnknown(ctx, id)
		}
		return fmt.Errorf("failed to record activity: %w", err)
	}

	s := sessionFromRow(row)
	m.mu.Lock()
	defer m.mu.Unlock()
	// Register and Recover own tracking. A missing entry means the session
	// was finalized after the write above and must stay released.
	t, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if t.session.Status == db.SessionStatusJoining && s.Status == db.SessionStatusActive {
		m.log.Info("session active", "session", id)
	}
	t.session.Status = s.Status
	t.session.LastActivityAt = s.LastActivityAt
	t.lastTouched = now
	return nil
}

func (m *Manager) closedOrUnknown(ctx context.Context, id string) error {
	_, err := m.store.GetSession(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUnknownSession
	}
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	return ErrSessionClosed
}

// Session returns the tracked state of an open session.
func (m *Manager) Session(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return t.session, true
}

// Get reads a session from the store, open or not.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	row, err := m.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrUnknownSession
		}
		return Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	s := sessionFromRow(row)
	if live, ok := m.Session(id); ok {
		s.Connections = live.Connections
	}
	return s, nil
}

// Tracked returns the ids of all sessions currently tracked in memory.
func (m *Manager) Tracked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Recover reloads open sessions after a restart. Sessions that were
// leaving are completed straight away.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	rows, err := m.store.ListOpenSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open sessions: %w", err)
	}

	recovered := 0
	for _, row := range rows {
		s := sessionFromRow(row)
		if s.Status == db.SessionStatusLeaving {
			m.Finalize(ctx, s.ID, db.SessionStatusCompleted, OutcomeLeft)
			continue
		}
		m.track(s)
		if err := m.openPipeline(ctx, s); err != nil {
			m.log.Error("failed to reopen session", "session", s.ID, "error", err)
			m.Fail(ctx, s.ID, "pipeline_open_failed")
			continue
		}
		recovered++
	}

	m.log.Info("recovered sessions", "count", recovered)
	return recovered, nil
}

func sessionFromRow(row db.MeetingSession) Session {
	s := Session{
		ID:         row.ID,
		BotID:      row.BotID,
		MeetingURL: row.MeetingUrl,
		Status:     row.Status,
		CreatedAt:  row.CreatedAt.Time,
		Outcome:    row.Outcome.String,
	}
	if row.LastActivityAt.Valid {
		t := row.LastActivityAt.Time
		s.LastActivityAt = &t
	}
	if row.EndedAt.Valid {
		t := row.EndedAt.Time
		s.EndedAt = &t
	}
	return s
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}
