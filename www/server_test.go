package www

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgtype"
	"node.town/minutes/db"
	"node.town/minutes/meeting"
	"node.town/minutes/pipeline"
	"node.town/minutes/turns"
)

type MockSessions struct {
	sessions  map[string]meeting.Session
	finalized map[string]int
}

func (m *MockSessions) Register(ctx context.Context, arg meeting.RegisterParams) (meeting.Session, error) {
	s := meeting.Session{ID: "new", BotID: arg.BotID, MeetingURL: arg.MeetingURL, Status: db.SessionStatusJoining}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MockSessions) Get(ctx context.Context, id string) (meeting.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return meeting.Session{}, meeting.ErrUnknownSession
	}
	return s, nil
}

func (m *MockSessions) finalize(id, outcome string) bool {
	s := m.sessions[id]
	if s.Status.Terminal() {
		return false
	}
	s.Status = db.SessionStatusCompleted
	s.Outcome = outcome
	m.sessions[id] = s
	m.finalized[id]++
	return true
}

func (m *MockSessions) RequestLeave(ctx context.Context, id string) (bool, error) {
	return m.finalize(id, meeting.OutcomeLeft), nil
}

func (m *MockSessions) ForceComplete(ctx context.Context, id string) (bool, error) {
	return m.finalize(id, meeting.OutcomeForceCompleted), nil
}

type MockQueries struct{}

func (MockQueries) ListSessionsWithTurnCount(ctx context.Context, limit int32) ([]db.ListSessionsWithTurnCountRow, error) {
	return []db.ListSessionsWithTurnCountRow{{
		ID:        "s1",
		Status:    db.SessionStatusActive,
		CreatedAt: pgtype.Timestamptz{Time: time.Unix(100, 0), Valid: true},
		TurnCount: 3,
	}}, nil
}

func (MockQueries) ListTurnsForSession(ctx context.Context, id string) ([]db.ListTurnsForSessionRow, error) {
	return []db.ListTurnsForSessionRow{
		{ID: "t1", Seq: 1, SpeakerLabel: "Alice", Content: "hi", HasEmbedding: true, IdentityID: pgtype.Int8{Int64: 1, Valid: true}},
		{ID: "t2", Seq: 2, SpeakerLabel: "Bob", Content: "yo", EmbeddingError: pgtype.Text{String: "timeout", Valid: true}},
	}, nil
}

type MockAgent struct{ healthy bool }

func (MockAgent) Stats(ctx context.Context, id string) (turns.Stats, error) {
	return turns.Stats{TotalTurns: 2, TurnsWithEmbeddings: 1, TurnsWithoutEmbeddings: 1, FirstSeq: 1, LastSeq: 2}, nil
}

func (m MockAgent) HealthCheck(ctx context.Context) turns.Health {
	if m.healthy {
		return turns.Health{Healthy: true, Dimensions: 3}
	}
	return turns.Health{Error: "provider down"}
}

type MockSnapshots struct{}

func (MockSnapshots) Snapshot(id string) (pipeline.Snapshot, bool) {
	if id != "s1" {
		return pipeline.Snapshot{}, false
	}
	return pipeline.Snapshot{SessionID: id, LastSeq: 2}, true
}

type MockPinger struct{ err error }

func (m MockPinger) Ping(ctx context.Context) error { return m.err }

func newTestServer(healthy bool, dbErr error) (*Server, *MockSessions) {
	sessions := &MockSessions{
		sessions: map[string]meeting.Session{
			"s1": {ID: "s1", Status: db.SessionStatusActive},
		},
		finalized: make(map[string]int),
	}
	s := NewServer(Deps{
		Sessions: sessions,
		Queries:  MockQueries{},
		Agent:    MockAgent{healthy: healthy},
		Pipeline: MockSnapshots{},
		Database: MockPinger{err: dbErr},
	}, log.New(io.Discard))
	return s, sessions
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func TestServerRoutes(t *testing.T) {
	s, _ := newTestServer(true, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		want   string
	}{
		{"list", "GET", "/sessions", "", 200, `"turn_count":3`},
		{"list bad limit", "GET", "/sessions?limit=0", "", 400, "limit"},
		{"get", "GET", "/sessions/s1", "", 200, `"pipeline":{"session_id":"s1"`},
		{"get missing", "GET", "/sessions/nope", "", 404, "not found"},
		{"stats", "GET", "/sessions/s1/stats", "", 200, `"turns_without_embeddings":1`},
		{"turns", "GET", "/sessions/s1/turns", "", 200, `"embedding_error":"timeout"`},
		{"create", "POST", "/sessions", `{"bot_id":"b","meeting_url":"https://meet.google.com/x"}`, 201, `"status":"joining"`},
		{"create no url", "POST", "/sessions", `{"bot_id":"b"}`, 400, "meeting_url"},
		{"create bad json", "POST", "/sessions", `{`, 400, "invalid"},
		{"health", "GET", "/healthz", "", 200, `"healthy":true`},
		{"routes", "GET", "/", "", 200, "/sessions/{id}/complete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body %s does not contain %s", rec.Body, tt.want)
			}
		})
	}
}

func TestForceCompleteIsIdempotent(t *testing.T) {
	s, sessions := newTestServer(true, nil)

	rec := do(t, s, "POST", "/sessions/s1/complete", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Finalized bool            `json:"finalized"`
		Session   meeting.Session `json:"session"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if !body.Finalized || body.Session.Outcome != meeting.OutcomeForceCompleted {
		t.Errorf("body = %+v", body)
	}

	rec = do(t, s, "POST", "/sessions/s1/leave", "")
	json.NewDecoder(rec.Body).Decode(&body)
	if rec.Code != http.StatusOK || body.Finalized {
		t.Errorf("second finalize = %d %+v", rec.Code, body)
	}
	if sessions.finalized["s1"] != 1 {
		t.Errorf("finalized %d times", sessions.finalized["s1"])
	}

	if rec := do(t, s, "POST", "/sessions/ghost/complete", ""); rec.Code != http.StatusNotFound {
		t.Errorf("ghost status = %d", rec.Code)
	}
}

func TestHealthUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		healthy bool
		dbErr   error
	}{
		{"embedding down", false, nil},
		{"database down", true, errors.New("no route to host")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(tt.healthy, tt.dbErr)
			if rec := do(t, s, "GET", "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want 503", rec.Code)
			}
		})
	}
}
