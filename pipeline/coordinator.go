// Package pipeline connects "turn ready" events to identity resolution
// and turn storage. Every open session is served by its own goroutine,
// which owns the session's speaker cache and sequence counter.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"node.town/minutes/identity"
	"node.town/minutes/meeting"
	"node.town/minutes/turns"
)

// TurnReady is emitted by the segmenter once a turn's boundaries are
// final.
type TurnReady struct {
	SessionID    string    `json:"session_id"`
	SpeakerLabel string    `json:"speaker"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
}

// Toucher stamps session activity and refuses closed sessions.
type Toucher interface {
	Touch(ctx context.Context, sessionID string) error
}

type Processor interface {
	ProcessMany(ctx context.Context, batch []turns.Turn, concurrency int) []turns.Result
	Stats(ctx context.Context, sessionID string) (turns.Stats, error)
}

type Options struct {
	// BatchSize caps how many queued turns are handed to the agent at
	// once.
	BatchSize int
	// QueueSize bounds each session's event queue; Submit blocks when it
	// is full.
	QueueSize int
	// Concurrency is the number of embedding calls in flight per batch.
	Concurrency int
	// OnResult, if set, is called from the session goroutine for every
	// processed turn.
	OnResult func(turns.Result)
}

type Coordinator struct {
	agent     Processor
	directory *identity.Directory
	toucher   Toucher
	log       *log.Logger
	opts      Options

	mu       sync.Mutex
	sessions map[string]*actor
}

func New(
	agent Processor,
	directory *identity.Directory,
	toucher Toucher,
	logger *log.Logger,
	opts Options,
) *Coordinator {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Coordinator{
		agent:     agent,
		directory: directory,
		toucher:   toucher,
		log:       logger,
		opts:      opts,
		sessions:  make(map[string]*actor),
	}
}

// Open starts the session goroutine. The sequence counter continues from
// the highest index already stored for the session. Opening an open
// session does nothing.
func (c *Coordinator) Open(ctx context.Context, sessionID, aliasContext string) error {
	c.mu.Lock()
	_, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if ok {
		return nil
	}

	stats, err := c.agent.Stats(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to read last sequence index: %w", err)
	}

	a := newActor(c, sessionID, c.directory.NewResolver(aliasContext), stats.LastSeq)

	c.mu.Lock()
	if _, ok := c.sessions[sessionID]; ok {
		c.mu.Unlock()
		return nil
	}
	c.sessions[sessionID] = a
	c.mu.Unlock()

	go a.run()
	c.log.Info("opened session pipeline",
		"session", sessionID,
		"context", aliasContext,
		"next_seq", stats.LastSeq+1,
	)
	return nil
}

func (c *Coordinator) actor(sessionID string) (*actor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.sessions[sessionID]
	if !ok {
		return nil, meeting.ErrUnknownSession
	}
	return a, nil
}

// Submit stamps session activity and queues the turn. It returns once the
// turn is queued; storage failures are only reported to OnResult.
func (c *Coordinator) Submit(ctx context.Context, t TurnReady) error {
	a, err := c.actor(t.SessionID)
	if err != nil {
		return err
	}
	if err := c.toucher.Touch(ctx, t.SessionID); err != nil {
		return err
	}
	return a.enqueue(ctx, event{turn: t})
}

// Handle is Submit that waits for the turn to be stored.
func (c *Coordinator) Handle(ctx context.Context, t TurnReady) (*turns.StoredTurn, error) {
	a, err := c.actor(t.SessionID)
	if err != nil {
		return nil, err
	}
	if err := c.toucher.Touch(ctx, t.SessionID); err != nil {
		return nil, err
	}

	reply := make(chan turns.Result, 1)
	if err := a.enqueue(ctx, event{turn: t, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Stored, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StopSession refuses new turns for the session, waits for the queued
// ones to be stored and returns the session's counts. An unknown session
// yields zero counts.
func (c *Coordinator) StopSession(ctx context.Context, sessionID string) (meeting.Counts, error) {
	c.mu.Lock()
	a, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	if !ok {
		return meeting.Counts{}, nil
	}

	a.stop()
	select {
	case <-a.done:
	case <-ctx.Done():
		return a.snapshot().Counts, fmt.Errorf("session %s did not drain: %w", sessionID, ctx.Err())
	}

	snap := a.snapshot()
	c.log.Info("closed session pipeline",
		"session", sessionID,
		"submitted", snap.Counts.Submitted,
		"embedded", snap.Counts.Embedded,
		"degraded", snap.Counts.Degraded,
		"failed", snap.Counts.Failed,
	)
	return snap.Counts, nil
}

type Snapshot struct {
	SessionID string         `json:"session_id"`
	Counts    meeting.Counts `json:"counts"`
	LastSeq   int64          `json:"last_seq"`
	Queued    int            `json:"queued"`
	Speakers  identity.Stats `json:"speakers"`
}

func (c *Coordinator) Snapshot(sessionID string) (Snapshot, bool) {
	a, err := c.actor(sessionID)
	if err != nil {
		return Snapshot{}, false
	}
	return a.snapshot(), true
}

// Close stops every session and waits for them to drain.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if _, err := c.StopSession(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
