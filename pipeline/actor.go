package pipeline

import (
	"context"
	"sync"

	"node.town/minutes/identity"
	"node.town/minutes/meeting"
	"node.town/minutes/turns"
)

type event struct {
	turn  TurnReady
	reply chan<- turns.Result
}

type actor struct {
	c        *Coordinator
	id       string
	resolver *identity.Resolver
	nextSeq  int64

	events   chan event
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// sendMu lets stop close events without racing a sender.
	sendMu  sync.RWMutex
	stopped bool

	statsMu sync.Mutex
	stats   Snapshot
}

func newActor(c *Coordinator, id string, resolver *identity.Resolver, lastSeq int64) *actor {
	return &actor{
		c:        c,
		id:       id,
		resolver: resolver,
		nextSeq:  lastSeq,
		events:   make(chan event, c.opts.QueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		stats: Snapshot{
			SessionID: id,
			LastSeq:   lastSeq,
			Speakers:  resolver.Stats(),
		},
	}
}

func (a *actor) enqueue(ctx context.Context, ev event) error {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	if a.stopped {
		return meeting.ErrSessionClosed
	}
	select {
	case a.events <- ev:
		return nil
	case <-a.quit:
		return meeting.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *actor) stop() {
	a.stopOnce.Do(func() {
		close(a.quit)
		a.sendMu.Lock()
		a.stopped = true
		close(a.events)
		a.sendMu.Unlock()
	})
}

func (a *actor) run() {
	defer close(a.done)
	for {
		ev, ok := <-a.events
		if !ok {
			return
		}
		batch := []event{ev}
		closed := false
	gather:
		for len(batch) < a.c.opts.BatchSize {
			select {
			case ev, ok := <-a.events:
				if !ok {
					closed = true
					break gather
				}
				batch = append(batch, ev)
			default:
				break gather
			}
		}

		a.process(batch)
		if closed {
			return
		}
	}
}

// process assigns sequence indices in arrival order, resolves speakers
// through the session cache and hands the batch to the agent.
func (a *actor) process(batch []event) {
	ctx := context.Background()
	logger := a.c.log.With("session", a.id)

	pending := make([]turns.Turn, len(batch))
	for i, ev := range batch {
		a.nextSeq++
		t := turns.Turn{
			SessionID:    a.id,
			Seq:          a.nextSeq,
			SpeakerLabel: ev.turn.SpeakerLabel,
			Text:         ev.turn.Text,
			SpokenAt:     ev.turn.Timestamp,
			Metadata:     map[string]interface{}{"resolution_context": a.resolver.Context()},
		}

		who, err := a.resolver.Resolve(ctx, ev.turn.SpeakerLabel)
		if err != nil {
			logger.Warn("speaker resolution failed", "label", ev.turn.SpeakerLabel, "error", err)
			t.Metadata["identity_error"] = err.Error()
		}
		if who != nil {
			id := who.ID
			t.IdentityID = &id
		}
		pending[i] = t
	}

	results := a.c.agent.ProcessMany(ctx, pending, a.c.opts.Concurrency)

	a.statsMu.Lock()
	for _, res := range results {
		a.stats.Counts.Submitted++
		switch res.Outcome {
		case turns.Embedded:
			a.stats.Counts.Embedded++
		case turns.Degraded:
			a.stats.Counts.Degraded++
		case turns.Failed:
			a.stats.Counts.Failed++
		}
	}
	a.stats.LastSeq = a.nextSeq
	a.stats.Speakers = a.resolver.Stats()
	a.statsMu.Unlock()

	for i, res := range results {
		if res.Outcome == turns.Failed {
			logger.Error("turn was not stored", "seq", res.Turn.Seq, "error", res.Err)
		}
		if a.c.opts.OnResult != nil {
			a.c.opts.OnResult(res)
		}
		if batch[i].reply != nil {
			batch[i].reply <- res
		}
	}
}

func (a *actor) snapshot() Snapshot {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	s := a.stats
	s.Queued = len(a.events)
	return s
}
