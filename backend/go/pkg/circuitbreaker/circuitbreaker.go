package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/pkg/ratelimiter"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed is the initial state where requests are allowed.
	Closed State = iota
	// Open state is when the circuit has tripped and requests are blocked.
	Open
	// HalfOpen is a state where a limited number of trial requests are allowed to test the system's recovery.
	HalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "Half-Open"
	default:
		return "Unknown"
	}
}

var (
	// ErrCircuitOpen is returned when the circuit breaker is in the Open state.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned in the HalfOpen state once every probe slot is taken.
	ErrTooManyProbes = errors.New("circuit breaker is half-open and all probe slots are in use")
)

// CircuitBreaker is the interface for the circuit breaker pattern.
type CircuitBreaker interface {
	// Execute runs the given request if the circuit breaker is closed or half-open.
	Execute(req func() (interface{}, error)) (interface{}, error)
	// State returns the current state of the circuit breaker.
	State() State
}

// Settings configures a Breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that trips the circuit.
	FailureThreshold uint32
	// SuccessThreshold is the number of consecutive successes in HalfOpen that closes the circuit.
	SuccessThreshold uint32
	// Timeout is how long the circuit stays Open before it becomes HalfOpen.
	Timeout time.Duration
	// QuotaErrorThreshold trips the circuit once this many quota errors fall inside QuotaWindow.
	// Zero disables the quota trigger.
	QuotaErrorThreshold int
	// QuotaWindow is the sliding window for QuotaErrorThreshold.
	QuotaWindow time.Duration
	// HalfOpenMaxRequests bounds concurrent probes in HalfOpen. Zero means one.
	HalfOpenMaxRequests uint32
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	// OnStateChange is invoked under the breaker lock after every transition.
	OnStateChange func(from, to State)
}

// Counts is a point-in-time view of the breaker counters.
type Counts struct {
	State                State     `json:"state"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	TotalRequests        uint64    `json:"total_requests"`
	TotalFailures        uint64    `json:"total_failures"`
	TotalQuotaErrors     uint64    `json:"total_quota_errors"`
	QuotaErrorsInWindow  int       `json:"quota_errors_in_window"`
	LastTransition       time.Time `json:"last_transition"`
	OpenUntil            time.Time `json:"open_until,omitempty"`
}

// Breaker is a circuit breaker whose outcome reporting can be decoupled from
// admission: callers ask Allow before a call and report RecordSuccess,
// RecordFailure, RecordQuotaError or Release afterwards. All state lives behind one mutex.
type Breaker struct {
	settings Settings

	state                State
	consecutiveSuccesses uint32 // Current count of consecutive successes.
	consecutiveFailures  uint32 // Current count of consecutive failures.
	halfOpenInFlight     uint32
	totalRequests        uint64
	totalFailures        uint64
	totalQuotaErrors     uint64
	quotaErrors          *ratelimiter.SlidingWindowLog
	lastTransition       time.Time
	openedAt             time.Time // Time when the circuit was opened.
	mutex                sync.Mutex
}

// New creates a new circuit breaker with the specified settings.
// failureThreshold: The number of consecutive failures required to open the circuit.
// successThreshold: The number of consecutive successes in the half-open state required to close the circuit.
// timeout: The duration the circuit remains open before transitioning to half-open.
func New(failureThreshold, successThreshold uint32, timeout time.Duration) CircuitBreaker {
	return NewBreaker(Settings{
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		Timeout:          timeout,
	})
}

// FromConfig builds the request-level breaker used by the HTTP and gRPC middleware.
func FromConfig(cfg config.CircuitBreakerConfig) (CircuitBreaker, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid circuit breaker timeout duration: %w", err)
	}
	return New(cfg.FailureThreshold, cfg.SuccessThreshold, timeout), nil
}

// NewBreaker creates a Breaker from Settings.
func NewBreaker(s Settings) *Breaker {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 1
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = 1
	}
	if s.HalfOpenMaxRequests == 0 {
		s.HalfOpenMaxRequests = 1
	}
	b := &Breaker{
		settings:       s,
		state:          Closed,
		lastTransition: s.Now(),
	}
	if s.QuotaErrorThreshold > 0 {
		b.quotaErrors = ratelimiter.NewSlidingWindowLogWithClock(s.QuotaErrorThreshold, s.QuotaWindow, s.Now)
	}
	return b
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() State {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.refresh()
	return b.state
}

// Counts returns a snapshot of the counters.
func (b *Breaker) Counts() Counts {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.refresh()
	c := Counts{
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		TotalRequests:        b.totalRequests,
		TotalFailures:        b.totalFailures,
		TotalQuotaErrors:     b.totalQuotaErrors,
		LastTransition:       b.lastTransition,
	}
	if b.quotaErrors != nil {
		c.QuotaErrorsInWindow = b.quotaErrors.Count()
	}
	if b.state == Open {
		c.OpenUntil = b.openedAt.Add(b.settings.Timeout)
	}
	return c
}

// Allow admits one request or returns ErrCircuitOpen / ErrTooManyProbes.
// An admitted request must be followed by exactly one Record* or Release call.
func (b *Breaker) Allow() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.refresh()

	switch b.state {
	case Open:
		return ErrCircuitOpen
	case HalfOpen:
		if b.halfOpenInFlight >= b.settings.HalfOpenMaxRequests {
			return ErrTooManyProbes
		}
		b.halfOpenInFlight++
	}
	b.totalRequests++
	return nil
}

// RecordSuccess handles the logic when a request succeeds.
func (b *Breaker) RecordSuccess() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	switch b.state {
	case HalfOpen:
		b.releaseProbe()
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.settings.SuccessThreshold {
			b.reset()
		}
	case Closed:
		b.consecutiveFailures = 0
	}
}

// RecordFailure handles the logic when a request fails.
func (b *Breaker) RecordFailure() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.totalFailures++
	switch b.state {
	case HalfOpen:
		b.releaseProbe()
		b.trip()
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.settings.FailureThreshold {
			b.trip()
		}
	}
}

// RecordQuotaError records a quota rejection. It does not count towards the
// consecutive-failure trigger; it trips the circuit once QuotaErrorThreshold
// quota errors fall inside QuotaWindow, or immediately while HalfOpen.
func (b *Breaker) RecordQuotaError() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.totalQuotaErrors++
	inWindow := 0
	if b.quotaErrors != nil {
		inWindow = b.quotaErrors.Record()
	}
	switch b.state {
	case HalfOpen:
		b.releaseProbe()
		b.trip()
	case Closed:
		if b.quotaErrors != nil && inWindow >= b.settings.QuotaErrorThreshold {
			b.trip()
		}
	}
}

// Release returns a half-open probe slot without reporting an outcome.
func (b *Breaker) Release() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.state == HalfOpen {
		b.releaseProbe()
	}
}

// Execute wraps the execution of a function with the circuit breaker logic.
func (b *Breaker) Execute(req func() (interface{}, error)) (interface{}, error) {
	if err := b.Allow(); err != nil {
		return nil, ErrCircuitOpen
	}
	res, err := req()
	if err != nil {
		b.RecordFailure()
		return nil, err
	}
	b.RecordSuccess()
	return res, nil
}

// refresh moves Open to HalfOpen once the timeout has fully elapsed. Caller holds the mutex.
func (b *Breaker) refresh() {
	if b.state == Open && !b.settings.Now().Before(b.openedAt.Add(b.settings.Timeout)) {
		b.setState(HalfOpen)
		b.consecutiveSuccesses = 0
		b.halfOpenInFlight = 0
	}
}

func (b *Breaker) releaseProbe() {
	if b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
}

// trip opens the circuit.
func (b *Breaker) trip() {
	b.openedAt = b.settings.Now()
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenInFlight = 0
	if b.quotaErrors != nil {
		b.quotaErrors.Reset()
	}
	b.setState(Open)
}

// reset closes the circuit and resets all counters.
func (b *Breaker) reset() {
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenInFlight = 0
	b.setState(Closed)
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	b.lastTransition = b.settings.Now()
	if from != to && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(from, to)
	}
}
