package ingest

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"node.town/minutes/meeting"
	"node.town/minutes/pipeline"
)

type MockConnections struct {
	mu     sync.Mutex
	open   map[string]int
	known  map[string]bool
	closed chan string
}

func (m *MockConnections) ConnectionOpened(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known[id] {
		return meeting.ErrUnknownSession
	}
	m.open[id]++
	return nil
}

func (m *MockConnections) ConnectionClosed(id string) {
	m.mu.Lock()
	m.open[id]--
	m.mu.Unlock()
	m.closed <- id
}

type MockSubmitter struct {
	mu    sync.Mutex
	turns []pipeline.TurnReady
	err   error
}

func (m *MockSubmitter) Submit(ctx context.Context, t pipeline.TurnReady) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.turns = append(m.turns, t)
	return nil
}

func newTestServer(t *testing.T, sub *MockSubmitter) (*httptest.Server, *MockConnections) {
	t.Helper()
	conns := &MockConnections{
		open:   make(map[string]int),
		known:  map[string]bool{"s1": true},
		closed: make(chan string, 4),
	}
	r := chi.NewRouter()
	r.Get("/ws/sessions/{id}", NewHandler(conns, sub, log.New(io.Discard)).ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, conns
}

func TestFeedTurns(t *testing.T) {
	sub := &MockSubmitter{}
	srv, conns := newTestServer(t, sub)
	ctx := context.Background()

	c, err := Dial(ctx, srv.URL, "s1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, line := range []struct{ who, text string }{
		{"Alice", "good morning"},
		{"Bob", "hi"},
	} {
		if err := c.SendTurn(ctx, line.who, line.text, ts); err != nil {
			t.Fatalf("SendTurn: %v", err)
		}
	}
	c.Close()

	select {
	case id := <-conns.closed:
		if id != "s1" {
			t.Errorf("closed %q", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ConnectionClosed was not called")
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.turns) != 2 {
		t.Fatalf("submitted %d turns, want 2", len(sub.turns))
	}
	got := sub.turns[0]
	if got.SessionID != "s1" || got.SpeakerLabel != "Alice" || got.Text != "good morning" {
		t.Errorf("turn = %+v", got)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %s", got.Timestamp)
	}
}

func TestDialUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, &MockSubmitter{})
	_, err := Dial(context.Background(), srv.URL, "ghost")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("Dial(ghost) = %v, want a 404", err)
	}
}

func TestClosedSessionRejectsTurn(t *testing.T) {
	sub := &MockSubmitter{err: meeting.ErrSessionClosed}
	srv, _ := newTestServer(t, sub)
	ctx := context.Background()

	c, err := Dial(ctx, srv.URL, "s1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.conn.Close()

	err = c.SendTurn(ctx, "Alice", "too late", time.Now())
	if err == nil || !strings.Contains(err.Error(), meeting.ErrSessionClosed.Error()) {
		t.Errorf("SendTurn = %v", err)
	}
	if !errors.Is(sub.err, meeting.ErrSessionClosed) {
		t.Fatal("unexpected submitter state")
	}
}
