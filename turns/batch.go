package turns

import (
	"context"
	"sync"
)

type Outcome int

const (
	Embedded Outcome = iota
	// Degraded turns were stored without an embedding.
	Degraded
	// Failed turns were not stored.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Embedded:
		return "embedded"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type Result struct {
	Turn    Turn
	Stored  *StoredTurn
	Outcome Outcome
	Err     error
}

// ProcessMany runs Process over turns with a fixed pool of concurrency
// workers. Results come back in input order and one turn failing never
// stops the others.
func (a *Agent) ProcessMany(ctx context.Context, turns []Turn, concurrency int) []Result {
	results := make([]Result, len(turns))
	if len(turns) == 0 {
		return results
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(turns) {
		concurrency = len(turns)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = a.processOne(ctx, turns[i])
			}
		}()
	}

	for i := range turns {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

func (a *Agent) processOne(ctx context.Context, turn Turn) Result {
	stored, err := a.Process(ctx, turn)
	switch {
	case err != nil:
		return Result{Turn: turn, Outcome: Failed, Err: err}
	case stored.Embedded:
		return Result{Turn: turn, Stored: stored, Outcome: Embedded}
	default:
		return Result{Turn: turn, Stored: stored, Outcome: Degraded}
	}
}
