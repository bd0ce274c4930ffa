package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without attempting the call while the breaker
// for the target is open (or a half-open trial is already in flight).
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Breaker guards a single downstream target. Consecutive failures open the
// circuit; after the cooldown exactly one trial call is admitted, and its
// outcome decides between closing again and another full cooldown.
type Breaker struct {
	mu            sync.Mutex
	threshold     int
	cooldown      time.Duration
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool

	now func() time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = defaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In the half-open state only a
// single trial is admitted at a time; everyone else fails fast.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	b.state = StateClosed
}

// OnFailure records a failed call. In the half-open state any failure reopens
// the circuit and restarts the cooldown.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trip()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
	b.trialInFlight = false
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
