package circuit

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by callers that fail fast while the breaker is open.
var ErrOpen = errors.New("circuit open")

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker is a three-state circuit for one outbound dependency. A run of
// consecutive transport failures opens it; while open every call fails
// fast. After the cooldown a single probe is let through; its outcome
// decides between closing and re-opening.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker. threshold is the consecutive-failure count
// that opens it; cooldown is the open interval before a probe.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, state: StateClosed}
}

// Allow reports whether a call may proceed. While open it returns false
// until the cooldown elapses, then true exactly once for the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		// One probe in flight; hold further calls until it reports.
		return false
	default:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	}
}

// Record reports a call outcome. Only transport-level outcomes belong here;
// a well-formed business rejection is a success for the circuit.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if success {
			b.state = StateClosed
			b.failures = 0
		} else {
			b.state = StateOpen
			b.openedAt = time.Now()
		}
		return
	}

	if success {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
