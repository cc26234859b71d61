package ingest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"node.town/minutes/meeting"
	"node.town/minutes/pipeline"
)

type Connections interface {
	ConnectionOpened(sessionID string) error
	ConnectionClosed(sessionID string)
}

type Submitter interface {
	Submit(ctx context.Context, t pipeline.TurnReady) error
}

type Handler struct {
	connections Connections
	pipeline    Submitter
	log         *log.Logger
	upgrader    websocket.Upgrader
	now         func() time.Time
}

func NewHandler(connections Connections, p Submitter, logger *log.Logger) *Handler {
	return &Handler{
		connections: connections,
		pipeline:    p,
		log:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		now: time.Now,
	}
}

// ServeHTTP serves GET /ws/sessions/{id}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if err := h.connections.ConnectionOpened(sessionID); err != nil {
		switch {
		case errors.Is(err, meeting.ErrUnknownSession):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, meeting.ErrSessionClosed):
			http.Error(w, err.Error(), http.StatusGone)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	defer h.connections.ConnectionClosed(sessionID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed to upgrade connection", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()

	logger := h.log.With("session", sessionID, "remote", r.RemoteAddr)
	logger.Info("ingest connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go keepAlive(ctx, conn)

	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PongTimeout))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("ingest connection lost", "error", err)
			} else {
				logger.Info("ingest disconnected")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(PongTimeout))

		if msg.Type != TypeTurn {
			conn.WriteJSON(Message{Type: TypeError, Error: "unsupported message type " + msg.Type})
			continue
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = h.now()
		}

		err := h.pipeline.Submit(ctx, pipeline.TurnReady{
			SessionID:    sessionID,
			SpeakerLabel: msg.Speaker,
			Text:         msg.Text,
			Timestamp:    msg.Timestamp,
		})
		if err != nil {
			conn.WriteJSON(Message{Type: TypeError, Error: err.Error()})
			if errors.Is(err, meeting.ErrSessionClosed) || errors.Is(err, meeting.ErrUnknownSession) {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session closed"))
				return
			}
			logger.Error("failed to submit turn", "error", err)
			continue
		}
		if err := conn.WriteJSON(Message{Type: TypeAck}); err != nil {
			logger.Warn("failed to ack turn", "error", err)
			return
		}
	}
}

func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(PongTimeout)); err != nil {
				return
			}
		}
	}
}
