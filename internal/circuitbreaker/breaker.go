// Package circuitbreaker short-circuits calls to partners that keep
// failing, so a dead upstream sheds load fast instead of tying up
// gateway capacity on doomed requests.
package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed allows requests and tracks failures.
	StateClosed State = iota

	// StateOpen rejects all requests until the open timeout elapses.
	StateOpen

	// StateHalfOpen permits a single trial request.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// halfOpenRetryHint is the Retry-After handed to callers that lose the
// race for the half-open trial slot.
const halfOpenRetryHint = time.Second

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed indicates whether the call may proceed.
	Allowed bool

	// RetryAfter is how long a rejected caller should wait before the
	// breaker is worth consulting again.
	RetryAfter time.Duration
}

// Breaker is the fault-tolerance state machine for one partner. The
// only legal transitions are closed→open, open→half-open and
// half-open→{closed,open}; open→half-open happens lazily inside Admit,
// there is no background timer.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu               sync.Mutex
	state            State
	consecutiveFails int
	lastFailure      time.Time
	trialInFlight    bool
}

// New creates a breaker named after its partner.
func New(name string, config Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.applyDefaults()

	recordState(name, StateClosed)

	return &Breaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
	}
}

// Admit decides whether a call to the partner may proceed. In the open
// state it also performs the lazy open→half-open transition once the
// open timeout has elapsed since the last failure.
func (b *Breaker) Admit() Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case StateClosed:
		recordAdmission(b.name, true)
		return Decision{Allowed: true}

	case StateOpen:
		elapsed := now.Sub(b.lastFailure)
		if elapsed >= b.config.OpenTimeout {
			b.transitionTo(StateHalfOpen)
			b.trialInFlight = true
			recordAdmission(b.name, true)
			return Decision{Allowed: true}
		}

		recordAdmission(b.name, false)
		return Decision{Allowed: false, RetryAfter: b.config.OpenTimeout - elapsed}

	case StateHalfOpen:
		if !b.trialInFlight {
			b.trialInFlight = true
			recordAdmission(b.name, true)
			return Decision{Allowed: true}
		}

		recordAdmission(b.name, false)
		return Decision{Allowed: false, RetryAfter: halfOpenRetryHint}

	default:
		recordAdmission(b.name, false)
		return Decision{Allowed: false, RetryAfter: b.config.OpenTimeout}
	}
}

// RecordSuccess notes a successful partner call. In half-open it closes
// the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	recordOutcome(b.name, true)
	b.consecutiveFails = 0

	if b.state == StateHalfOpen {
		b.trialInFlight = false
		b.transitionTo(StateClosed)
	}
}

// CancelTrial releases the half-open trial slot without counting an
// outcome. Callers use it when an admitted request aborts before the
// partner is reached, so the next request can take the trial instead
// of being rejected forever.
func (b *Breaker) CancelTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

// RecordFailure notes a failed partner call. In the closed state it
// opens the circuit once the consecutive-failure threshold is reached;
// in half-open the failed trial reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	recordOutcome(b.name, false)
	b.consecutiveFails++
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		if b.consecutiveFails >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.trialInFlight = false
		b.transitionTo(StateOpen)
	}
}

// transitionTo must be called with the lock held.
func (b *Breaker) transitionTo(newState State) {
	oldState := b.state
	b.state = newState

	if newState == StateClosed {
		b.consecutiveFails = 0
	}

	recordStateChange(b.name, oldState, newState)

	b.logger.Info("partner breaker state changed",
		zap.String("partner", b.name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
	)
}

// State returns the current state without performing the lazy
// transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}
	b.consecutiveFails = 0
	b.trialInFlight = false
}

// Snapshot holds a point-in-time view of the breaker, used by the
// readiness and stats surfaces.
type Snapshot struct {
	Partner          string    `json:"partner"`
	State            string    `json:"state"`
	ConsecutiveFails int       `json:"consecutiveFailures"`
	LastFailure      time.Time `json:"lastFailure,omitempty"`
}

// Snapshot returns the current breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Partner:          b.name,
		State:            b.state.String(),
		ConsecutiveFails: b.consecutiveFails,
		LastFailure:      b.lastFailure,
	}
}
