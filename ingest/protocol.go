// Package ingest carries "turn ready" events from the segmenter to the
// pipeline over a websocket per session.
package ingest

import "time"

const (
	PingInterval = 30 * time.Second
	PongTimeout  = 60 * time.Second
	maxMessage   = 64 << 10
)

// Message types.
const (
	TypeTurn  = "turn"
	TypeAck   = "ack"
	TypeError = "error"
)

// Message is the JSON frame exchanged in both directions.
type Message struct {
	Type      string    `json:"type"`
	Speaker   string    `json:"speaker,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Error     string    `json:"error,omitempty"`
}
