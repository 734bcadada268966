package circuitbreaker

import (
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker short-circuits calls to a dependency that keeps failing. It opens
// after maxFailures consecutive failures, probes again once the cooldown has
// passed, and closes after minSuccesses consecutive probe successes. The
// notifier uses one per mail transport so a dead mail API sheds messages
// instead of stalling the queue on retries.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	maxFailures  int
	minSuccesses int
	cooldown     time.Duration
	openedAt     time.Time
}

// New creates a breaker in the closed state.
func New(maxFailures, minSuccesses int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures:  maxFailures,
		minSuccesses: minSuccesses,
		cooldown:     cooldown,
	}
}

// Allow reports whether a call may proceed. An open breaker lets one probe
// through after the cooldown by moving to half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.state = HalfOpen
		b.failures = 0
		b.successes = 0
	}
	return true
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.minSuccesses {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	case Closed:
		b.failures = 0
	}
}

// Failure records a failed call. A failure during half-open reopens
// immediately.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.trip()
	case Closed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.trip()
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.failures = 0
	b.successes = 0
}
