package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/stackwatch/sentinel/pkg/errors"
	"github.com/stackwatch/sentinel/pkg/logging"
)

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed - calls are allowed and outcomes feed the window
	StateClosed State = iota
	// StateOpen - calls are rejected without a network attempt
	StateOpen
	// StateHalfOpen - a bounded number of trial calls are admitted
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Value returns the state encoded for the breaker state gauge
func (s State) Value() float64 {
	return float64(s)
}

// Config holds configuration for a circuit breaker
type Config struct {
	// Name of the protected dependency, used for logging/metrics
	Name string
	// WindowSize is the number of recent call outcomes kept in the window
	WindowSize int
	// MinimumCalls is the number of samples required before the failure
	// rate is evaluated, and the consecutive successes required to close
	// from half-open
	MinimumCalls int
	// FailureRateThreshold is the fraction of failures that opens the breaker
	FailureRateThreshold float64
	// OpenDuration is how long the breaker stays open before probing
	OpenDuration time.Duration
	// HalfOpenMaxCalls is the trial budget while half-open
	HalfOpenMaxCalls int
	// OnStateChange is called after every state transition, outside the
	// breaker's critical section
	OnStateChange func(name string, from, to State)
	// Clock overrides time.Now, for tests
	Clock func() time.Time
}

// transition is a pending state-change notification, delivered after the
// lock is released
type transition struct {
	from, to State
}

// CircuitBreaker is a per-dependency state machine gating outbound calls.
// One breaker guards one dependency; all call sites share it.
type CircuitBreaker struct {
	name                 string
	windowSize           int
	minimumCalls         int
	failureRateThreshold float64
	openDuration         time.Duration
	halfOpenMaxCalls     int
	onStateChange        func(name string, from, to State)
	now                  func() time.Time

	mu sync.Mutex
	// window is a ring of recent outcomes, true = failure
	window   []bool
	head     int
	count    int
	failures int

	state             State
	openedAt          time.Time
	halfOpenInFlight  int
	halfOpenSuccesses int

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config Config) *CircuitBreaker {
	if config.WindowSize <= 0 {
		config.WindowSize = 10
	}
	if config.MinimumCalls <= 0 {
		config.MinimumCalls = 5
	}
	if config.FailureRateThreshold <= 0 {
		config.FailureRateThreshold = 0.5
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = 10 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &CircuitBreaker{
		name:                 config.Name,
		windowSize:           config.WindowSize,
		minimumCalls:         config.MinimumCalls,
		failureRateThreshold: config.FailureRateThreshold,
		openDuration:         config.OpenDuration,
		halfOpenMaxCalls:     config.HalfOpenMaxCalls,
		onStateChange:        config.OnStateChange,
		now:                  config.Clock,
		window:               make([]bool, config.WindowSize),
		state:                StateClosed,
		logger:               logging.GetLogger(),
	}
}

// Name returns the name of the protected dependency
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow decides whether a call may proceed. It returns nil when the call is
// admitted and a circuit-open error otherwise. While half-open, at most
// HalfOpenMaxCalls callers are admitted concurrently; each admitted caller
// must report its outcome via RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	tr := cb.refreshLocked()

	var err error
	switch cb.state {
	case StateClosed:
		// admitted
	case StateOpen:
		err = errors.NewCircuitOpenError(cb.name)
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.halfOpenMaxCalls {
			err = errors.NewCircuitOpenError(cb.name).
				WithDetail("reason", "half-open trial budget exhausted")
		} else {
			cb.halfOpenInFlight++
		}
	}
	cb.mu.Unlock()

	cb.notify(tr)
	return err
}

// RecordSuccess records one successful call outcome
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var tr *transition

	switch cb.state {
	case StateClosed:
		cb.push(false)
	case StateHalfOpen:
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.minimumCalls {
			tr = cb.setStateLocked(StateClosed)
		}
	case StateOpen:
		// stale outcome from before the transition, ignore
	}
	cb.mu.Unlock()

	cb.notify(tr)
}

// RecordFailure records one failed call outcome. While half-open, the first
// failure reopens the breaker; outcomes arriving after that transition are
// no-ops, so concurrent trial failures reopen it exactly once.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var tr *transition

	switch cb.state {
	case StateClosed:
		cb.push(true)
		if cb.count >= cb.minimumCalls && cb.failureRateLocked() >= cb.failureRateThreshold {
			tr = cb.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		tr = cb.setStateLocked(StateOpen)
	case StateOpen:
		// stale outcome, ignore
	}
	cb.mu.Unlock()

	cb.notify(tr)
}

// State returns the current state, advancing OPEN to HALF_OPEN when the
// open duration has elapsed
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	tr := cb.refreshLocked()
	state := cb.state
	cb.mu.Unlock()

	cb.notify(tr)
	return state
}

// Snapshot is a point-in-time copy of breaker state for the status API
type Snapshot struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	WindowCount int       `json:"window_count"`
	Failures    int       `json:"failures"`
	FailureRate float64   `json:"failure_rate"`
	OpenedAt    time.Time `json:"opened_at,omitempty"`
}

// Snapshot returns a copy of the breaker's current state
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Snapshot{
		Name:        cb.name,
		State:       cb.state.String(),
		WindowCount: cb.count,
		Failures:    cb.failures,
	}
	if cb.count > 0 {
		s.FailureRate = cb.failureRateLocked()
	}
	if cb.state != StateClosed {
		s.OpenedAt = cb.openedAt
	}
	return s
}

// refreshLocked advances OPEN to HALF_OPEN once the open duration elapses
func (cb *CircuitBreaker) refreshLocked() *transition {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.openDuration {
		return cb.setStateLocked(StateHalfOpen)
	}
	return nil
}

// push records one outcome in the ring, evicting the oldest when full
func (cb *CircuitBreaker) push(failure bool) {
	if cb.count == cb.windowSize {
		if cb.window[cb.head] {
			cb.failures--
		}
	} else {
		cb.count++
	}
	cb.window[cb.head] = failure
	if failure {
		cb.failures++
	}
	cb.head = (cb.head + 1) % cb.windowSize
}

func (cb *CircuitBreaker) failureRateLocked() float64 {
	return float64(cb.failures) / float64(cb.count)
}

// setStateLocked transitions state and resets per-state accounting. The
// returned transition must be delivered after the lock is released.
func (cb *CircuitBreaker) setStateLocked(to State) *transition {
	if cb.state == to {
		return nil
	}

	from := cb.state
	cb.state = to

	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.resetWindowLocked()
	case StateHalfOpen:
		cb.halfOpenInFlight = 0
		cb.halfOpenSuccesses = 0
	case StateClosed:
		cb.resetWindowLocked()
	}

	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) resetWindowLocked() {
	for i := range cb.window {
		cb.window[i] = false
	}
	cb.head = 0
	cb.count = 0
	cb.failures = 0
	cb.halfOpenInFlight = 0
	cb.halfOpenSuccesses = 0
}

// notify delivers a state-change notification outside the critical section
func (cb *CircuitBreaker) notify(tr *transition) {
	if tr == nil {
		return
	}

	cb.logger.LogBreakerEvent(context.Background(), cb.name, tr.from.String(), tr.to.String(), nil)

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, tr.from, tr.to)
	}
}

// IsCircuitOpenError checks if an error is a circuit-open rejection
func IsCircuitOpenError(err error) bool {
	return errors.IsType(err, errors.ErrorTypeCircuitOpen)
}
