package www

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"node.town/minutes/meeting"
	"node.town/minutes/pipeline"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, meeting.ErrUnknownSession) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.log.Error("session request failed", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	var routes []string
	chi.Walk(s.Router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, method+" "+strings.TrimSuffix(route, "/*"))
		return nil
	})
	sort.Strings(routes)
	writeJSON(w, http.StatusOK, map[string][]string{"routes": routes})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{}

	if s.deps.Database != nil {
		if err := s.deps.Database.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}

	health := s.deps.Agent.HealthCheck(r.Context())
	body["embedding"] = health
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, body)
}

type sessionListItem struct {
	ID             string     `json:"id"`
	BotID          string     `json:"bot_id"`
	MeetingURL     string     `json:"meeting_url"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Outcome        string     `json:"outcome,omitempty"`
	TurnCount      int64      `json:"turn_count"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	rows, err := s.deps.Queries.ListSessionsWithTurnCount(r.Context(), int32(limit))
	if err != nil {
		s.log.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	items := make([]sessionListItem, 0, len(rows))
	for _, row := range rows {
		item := sessionListItem{
			ID:         row.ID,
			BotID:      row.BotID,
			MeetingURL: row.MeetingUrl,
			Status:     string(row.Status),
			CreatedAt:  row.CreatedAt.Time,
			Outcome:    row.Outcome.String,
			TurnCount:  row.TurnCount,
		}
		if row.LastActivityAt.Valid {
			t := row.LastActivityAt.Time
			item.LastActivityAt = &t
		}
		if row.EndedAt.Valid {
			t := row.EndedAt.Time
			item.EndedAt = &t
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

type createSessionRequest struct {
	ID         string `json:"id"`
	BotID      string `json:"bot_id"`
	MeetingURL string `json:"meeting_url"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MeetingURL == "" {
		writeError(w, http.StatusBadRequest, "meeting_url is required")
		return
	}

	session, err := s.deps.Sessions.Register(r.Context(), meeting.RegisterParams{
		ID:         req.ID,
		BotID:      req.BotID,
		MeetingURL: req.MeetingURL,
	})
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type sessionResponse struct {
	meeting.Session
	Pipeline *pipeline.Snapshot `json:"pipeline,omitempty"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := s.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		s.sessionError(w, err)
		return
	}

	resp := sessionResponse{Session: session}
	if snap, ok := s.deps.Pipeline.Snapshot(id); ok {
		resp.Pipeline = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Sessions.Get(r.Context(), id); err != nil {
		s.sessionError(w, err)
		return
	}
	stats, err := s.deps.Agent.Stats(r.Context(), id)
	if err != nil {
		s.log.Error("failed to get stats", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type turnItem struct {
	ID             string    `json:"id"`
	Seq            int64     `json:"seq"`
	Speaker        string    `json:"speaker"`
	IdentityID     *int64    `json:"identity_id,omitempty"`
	Text           string    `json:"text"`
	SpokenAt       time.Time `json:"spoken_at"`
	HasEmbedding   bool      `json:"has_embedding"`
	EmbeddingError string    `json:"embedding_error,omitempty"`
}

func (s *Server) handleSessionTurns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rows, err := s.deps.Queries.ListTurnsForSession(r.Context(), id)
	if err != nil {
		s.log.Error("failed to list turns", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list turns")
		return
	}

	items := make([]turnItem, 0, len(rows))
	for _, row := range rows {
		item := turnItem{
			ID:             row.ID,
			Seq:            row.Seq,
			Speaker:        row.SpeakerLabel,
			Text:           row.Content,
			SpokenAt:       row.SpokenAt.Time,
			HasEmbedding:   row.HasEmbedding,
			EmbeddingError: row.EmbeddingError.String,
		}
		if row.IdentityID.Valid {
			v := row.IdentityID.Int64
			item.IdentityID = &v
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	s.finalize(w, r, s.deps.Sessions.RequestLeave)
}

func (s *Server) handleForceComplete(w http.ResponseWriter, r *http.Request) {
	s.finalize(w, r, s.deps.Sessions.ForceComplete)
}

// finalize runs a terminal trigger. A session that was already finalized
// answers 200 with finalized=false.
func (s *Server) finalize(
	w http.ResponseWriter,
	r *http.Request,
	trigger func(ctx context.Context, id string) (bool, error),
) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Sessions.Get(r.Context(), id); err != nil {
		s.sessionError(w, err)
		return
	}
	ok, err := trigger(r.Context(), id)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	session, err := s.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"finalized": ok,
		"session":   session,
	})
}
