package etc

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

func NewFreshID() string {
	return uuid.NewString()
}

// TimeProvider lets the session sweep and the turn agent be driven by a
// fixed clock in tests.
type TimeProvider interface {
	Now() time.Time
}

type RealTimeProvider struct{}

func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// FixedTimeProvider returns whatever time it was last set to.
type FixedTimeProvider struct {
	mu      sync.Mutex
	current time.Time
}

func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{current: t}
}

func (f *FixedTimeProvider) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FixedTimeProvider) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
}
