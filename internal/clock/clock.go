package clock

import (
	"math/rand"
	"sync"
	"time"
)

// Clock abstracts wall-clock access so pipelines and state machines can be
// tested against a fixed point in time.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// NewWallClock returns the production clock (UTC).
func NewWallClock() Clock { return wallClock{} }

// Fixed is a manually advanced clock for tests.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed creates a fixed clock pinned to t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t.UTC()}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// Set pins the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t.UTC()
}

// NewRand returns a seeded PRNG. Every probabilistic component in the core
// consumes one of these; nothing reads the global rand source.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// Day formats t as the canonical day key used by the quota ledger.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
