package identity

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"node.town/minutes/db"
)

type aliasKey struct{ context, label string }

type MockAliasStore struct {
	aliases   map[aliasKey]db.SpeakerIdentity
	lookups   map[string]int
	inserts   int
	lookupErr error
	insertErr error
}

func NewMockAliasStore() *MockAliasStore {
	return &MockAliasStore{
		aliases: make(map[aliasKey]db.SpeakerIdentity),
		lookups: make(map[string]int),
	}
}

func (m *MockAliasStore) bind(context, label string, id int64, name string) {
	m.aliases[aliasKey{context, label}] = db.SpeakerIdentity{ID: id, DisplayName: name}
}

func (m *MockAliasStore) GetIdentityByAlias(ctx context.Context, arg db.GetIdentityByAliasParams) (db.SpeakerIdentity, error) {
	m.lookups[arg.Label]++
	if m.lookupErr != nil {
		return db.SpeakerIdentity{}, m.lookupErr
	}
	row, ok := m.aliases[aliasKey{arg.Context, arg.Label}]
	if !ok {
		return db.SpeakerIdentity{}, pgx.ErrNoRows
	}
	return row, nil
}

func (m *MockAliasStore) InsertAlias(ctx context.Context, arg db.InsertAliasParams) (int64, error) {
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.inserts++
	key := aliasKey{arg.Context, arg.Label}
	if _, ok := m.aliases[key]; ok {
		return 0, nil
	}
	m.aliases[key] = db.SpeakerIdentity{ID: arg.IdentityID}
	return 1, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestResolveServesRepeatsFromCache(t *testing.T) {
	store := NewMockAliasStore()
	store.bind("meet.google.com", "Alice", 1, "Alice A")
	store.bind("meet.google.com", "Bob", 2, "Bob B")

	dir := NewDirectory(store, quietLogger())
	r := dir.NewResolver("meet.google.com")
	ctx := context.Background()

	for _, label := range []string{"Alice", "Bob", "Alice", "Bob", "Alice"} {
		id, err := r.Resolve(ctx, label)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", label, err)
		}
		if id == nil {
			t.Fatalf("Resolve(%s) returned nil", label)
		}
	}

	if store.lookups["Alice"] != 1 || store.lookups["Bob"] != 1 {
		t.Errorf("store lookups = %v, want one per speaker", store.lookups)
	}
	stats := r.Stats()
	if stats.StoreLookups != 2 || len(stats.CachedLabels) != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestResolveUnknownWithoutHandlers(t *testing.T) {
	dir := NewDirectory(NewMockAliasStore(), quietLogger())
	r := dir.NewResolver("zoom.us")

	id, err := r.Resolve(context.Background(), "Speaker 3")
	if err != nil {
		t.Fatalf("unresolved speaker should not be an error: %v", err)
	}
	if id != nil {
		t.Errorf("id = %+v, want nil", id)
	}
}

func TestResolveHandlersRunInOrder(t *testing.T) {
	store := NewMockAliasStore()
	dir := NewDirectory(store, quietLogger())

	var order []string
	dir.Register("first", func(ctx context.Context, req Request) (*Identity, error) {
		order = append(order, "first")
		return nil, nil
	})
	dir.Register("second", func(ctx context.Context, req Request) (*Identity, error) {
		order = append(order, "second")
		return &Identity{ID: 42, DisplayName: req.Label}, nil
	})
	dir.Register("third", func(ctx context.Context, req Request) (*Identity, error) {
		order = append(order, "third")
		return &Identity{ID: 99}, nil
	})

	r := dir.NewResolver("teams.microsoft.com")
	id, err := r.Resolve(context.Background(), "Carol")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id == nil || id.ID != 42 {
		t.Fatalf("id = %+v, want 42", id)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("handler order = %v", order)
	}
	bound, ok := store.aliases[aliasKey{"teams.microsoft.com", "Carol"}]
	if !ok || bound.ID != 42 {
		t.Errorf("alias not written: %+v", store.aliases)
	}

	// A second session in the same context finds the alias in the store.
	order = nil
	r2 := dir.NewResolver("teams.microsoft.com")
	id, _ = r2.Resolve(context.Background(), "Carol")
	if id == nil || id.ID != 42 {
		t.Errorf("second session id = %+v", id)
	}
	if len(order) != 0 {
		t.Errorf("handlers ran again: %v", order)
	}
}

func TestResolveSkipsFailingHandler(t *testing.T) {
	dir := NewDirectory(NewMockAliasStore(), quietLogger())
	dir.Register("broken", func(ctx context.Context, req Request) (*Identity, error) {
		return nil, errors.New("directory offline")
	})
	dir.Register("fallback", func(ctx context.Context, req Request) (*Identity, error) {
		return &Identity{ID: 7}, nil
	})

	id, err := dir.NewResolver("unknown").Resolve(context.Background(), "Dan")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id == nil || id.ID != 7 {
		t.Errorf("id = %+v, want 7", id)
	}
}

func TestResolveReportsHandlerErrorsWhenUnresolved(t *testing.T) {
	dir := NewDirectory(NewMockAliasStore(), quietLogger())
	dir.Register("broken", func(ctx context.Context, req Request) (*Identity, error) {
		return nil, errors.New("directory offline")
	})

	id, err := dir.NewResolver("unknown").Resolve(context.Background(), "Eve")
	if id != nil {
		t.Errorf("id = %+v, want nil", id)
	}
	if err == nil {
		t.Error("expected the handler error to be reported")
	}
}

func TestResolveStoreError(t *testing.T) {
	store := NewMockAliasStore()
	store.lookupErr = errors.New("connection reset")
	handlerCalled := false
	dir := NewDirectory(store, quietLogger())
	dir.Register("h", func(ctx context.Context, req Request) (*Identity, error) {
		handlerCalled = true
		return nil, nil
	})

	id, err := dir.NewResolver("x").Resolve(context.Background(), "Frank")
	if id != nil || err == nil {
		t.Errorf("Resolve = %+v, %v; want nil and an error", id, err)
	}
	if handlerCalled {
		t.Error("handlers should not run when the store lookup fails")
	}
}

func TestResolveAdoptsConcurrentBinding(t *testing.T) {
	store := NewMockAliasStore()
	dir := NewDirectory(store, quietLogger())
	dir.Register("enroll", func(ctx context.Context, req Request) (*Identity, error) {
		// Another session enrolls the same label while this handler runs.
		store.bind(req.Context, req.Label, 20, "Alice")
		return &Identity{ID: 10, DisplayName: "Alice"}, nil
	})

	r := dir.NewResolver("meet.google.com")
	id, err := r.Resolve(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id == nil || id.ID != 20 {
		t.Fatalf("id = %+v, want the stored binding 20", id)
	}
	if bound := store.aliases[aliasKey{"meet.google.com", "Alice"}]; bound.ID != 20 {
		t.Errorf("binding = %d, want 20", bound.ID)
	}

	id, _ = r.Resolve(context.Background(), "Alice")
	if id == nil || id.ID != 20 {
		t.Errorf("cached id = %+v, want 20", id)
	}
}

func TestCreateAliasIsIdempotent(t *testing.T) {
	store := NewMockAliasStore()
	dir := NewDirectory(store, quietLogger())
	ctx := context.Background()

	created, err := dir.CreateAlias(ctx, 5, "zoom.us", "Grace", "manual")
	if err != nil || !created {
		t.Fatalf("first CreateAlias = %v, %v", created, err)
	}
	created, err = dir.CreateAlias(ctx, 5, "zoom.us", "Grace", "manual")
	if err != nil {
		t.Fatalf("second CreateAlias should not fail: %v", err)
	}
	if created {
		t.Error("second CreateAlias reported a new binding")
	}
	if len(store.aliases) != 1 {
		t.Errorf("bindings = %d, want 1", len(store.aliases))
	}
}

func TestContextFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://meet.google.com/abc-defg-hij", "meet.google.com"},
		{"https://US02WEB.Zoom.us/j/123?pwd=x", "us02web.zoom.us"},
		{"", "unknown"},
		{"not a url", "unknown"},
		{"://", "unknown"},
	}
	for _, tt := range tests {
		if got := ContextFromURL(tt.url); got != tt.want {
			t.Errorf("ContextFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

type mockNames map[string]db.SpeakerIdentity

func (m mockNames) FindIdentityByDisplayName(ctx context.Context, name string) (db.SpeakerIdentity, error) {
	row, ok := m[name]
	if !ok {
		return db.SpeakerIdentity{}, pgx.ErrNoRows
	}
	return row, nil
}

func TestMatchDisplayName(t *testing.T) {
	h := MatchDisplayName(mockNames{"Heidi": {ID: 11, DisplayName: "Heidi"}})
	ctx := context.Background()

	id, err := h(ctx, Request{Label: "Heidi"})
	if err != nil || id == nil || id.ID != 11 {
		t.Errorf("match = %+v, %v", id, err)
	}
	id, err = h(ctx, Request{Label: "Ivan"})
	if err != nil || id != nil {
		t.Errorf("no match = %+v, %v; want nil, nil", id, err)
	}
}

type mockCreator struct{ next int64 }

func (m *mockCreator) InsertIdentity(ctx context.Context, arg db.InsertIdentityParams) (db.SpeakerIdentity, error) {
	m.next++
	return db.SpeakerIdentity{ID: m.next, DisplayName: arg.DisplayName}, nil
}

func TestEnroll(t *testing.T) {
	h := Enroll(&mockCreator{})
	id, err := h(context.Background(), Request{Label: " Judy "})
	if err != nil || id == nil || id.DisplayName != "Judy" {
		t.Errorf("Enroll = %+v, %v", id, err)
	}
	id, err = h(context.Background(), Request{Label: "  "})
	if err != nil || id != nil {
		t.Errorf("Enroll(blank) = %+v, %v", id, err)
	}
}
