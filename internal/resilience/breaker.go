// Package resilience guards the one-shot model calls with a circuit breaker and retries
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State represents circuit breaker state
type State uint32

const (
	Closed   State = iota // Normal operation
	Open                  // Failing fast
	HalfOpen              // One trial call in flight
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned while the breaker is failing fast.
var ErrOpen = errors.New("circuit breaker open")

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State    State
	Failures int
	OpenedAt time.Time // zero unless open or half-open
}

// Breaker stops calling a failing service until ResetTimeout has passed, then
// lets a single trial through. Only failures accepted by Config.Trips count:
// a rejected photo says nothing about the health of the model.
type Breaker struct {
	cfg  Config
	now  func() time.Time
	hook func(from, to State)

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	trialing  bool
}

// New creates a breaker with config
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// WithHook sets a callback run after every state change, outside the breaker lock.
func (b *Breaker) WithHook(fn func(from, to State)) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = fn
	return b
}

// Allow reports whether a call may proceed. In half-open state only one call
// is admitted until its outcome is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var from State
	changed := false
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		from, changed = b.setLocked(HalfOpen)
		b.trialing = true
	case HalfOpen:
		if b.trialing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.trialing = true
	}
	b.mu.Unlock()
	if changed {
		b.notify(from, HalfOpen)
	}
	return nil
}

// Record feeds a call outcome to the breaker. Errors that Config.Trips rejects
// count as successes since the service did answer.
func (b *Breaker) Record(err error) {
	if err != nil && b.cfg.Trips(err) {
		b.Failure()
		return
	}
	b.Success()
}

// Success records successful call
func (b *Breaker) Success() {
	b.mu.Lock()
	b.trialing = false
	var from State
	changed := false
	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenSuccesses {
			from, changed = b.setLocked(Closed)
		}
	case Closed:
		b.failures = 0
	}
	b.mu.Unlock()
	if changed {
		b.notify(from, Closed)
	}
}

// Failure records failed call
func (b *Breaker) Failure() {
	b.mu.Lock()
	b.trialing = false
	b.failures++
	var from State
	changed := false
	switch b.state {
	case HalfOpen:
		from, changed = b.setLocked(Open)
	case Closed:
		if b.failures >= b.cfg.Threshold {
			from, changed = b.setLocked(Open)
		}
	}
	failures := b.failures
	b.mu.Unlock()
	if changed {
		slog.Warn("circuit breaker opened", "breaker", b.cfg.Name, "failures", failures)
		b.notify(from, Open)
	}
}

// State returns current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current state and failure count.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{State: b.state, Failures: b.failures}
	if b.state != Closed {
		s.OpenedAt = b.openedAt
	}
	return s
}

// Reset forces breaker to closed state
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.trialing = false
	from, changed := b.setLocked(Closed)
	b.mu.Unlock()
	if changed {
		b.notify(from, Closed)
	}
}

// setLocked moves to state to and clears the counters that belong to the old state.
func (b *Breaker) setLocked(to State) (State, bool) {
	from := b.state
	if from == to {
		return from, false
	}
	b.state = to
	b.successes = 0
	switch to {
	case Closed:
		b.failures = 0
		b.openedAt = time.Time{}
	case Open:
		b.openedAt = b.now()
	}
	return from, true
}

func (b *Breaker) notify(from, to State) {
	slog.Info("circuit breaker state", "breaker", b.cfg.Name, "from", from.String(), "to", to.String())
	b.mu.Lock()
	hook := b.hook
	b.mu.Unlock()
	if hook != nil {
		hook(from, to)
	}
}

// Do runs fn behind the breaker and records its outcome.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := fn()
	b.Record(err)
	if err != nil {
		return zero, err
	}
	return result, nil
}
