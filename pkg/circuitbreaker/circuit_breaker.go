package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pss-server/pkg/errors"
	"pss-server/pkg/metrics"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling an upstream service after repeated failures
// and lets a trial request through once the open timeout has passed
type CircuitBreaker struct {
	name     string
	logger   *logrus.Entry
	config   *Config
	now      func() time.Time
	mutex    sync.Mutex
	state    State
	failures int64
	// successes counts consecutive successes while half-open
	successes   int64
	nextAttempt time.Time
	window      []record
	stats       Statistics

	onStateChange func(name string, from State, to State)
}

// Config holds circuit breaker configuration
type Config struct {
	// Consecutive failures before the circuit opens
	FailureThreshold int64 `json:"failure_threshold"`

	// Consecutive half-open successes before the circuit closes
	SuccessThreshold int64 `json:"success_threshold"`

	// How long the circuit stays open before a trial request
	Timeout time.Duration `json:"timeout"`

	// Upper bound for the open timeout with exponential backoff
	MaxTimeout time.Duration `json:"max_timeout"`

	// Deadline applied to calls whose context has none; zero disables it
	RequestTimeout time.Duration `json:"request_timeout"`

	ExponentialBackoff bool `json:"exponential_backoff"`

	// Failure rate (0.0-1.0) within TimeWindow that opens the circuit
	FailureRateThreshold float64 `json:"failure_rate_threshold"`

	// Minimum requests within TimeWindow before the failure rate counts
	MinRequestThreshold int `json:"min_request_threshold"`

	TimeWindow time.Duration `json:"time_window"`
}

// Statistics is a snapshot of circuit breaker counters
type Statistics struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	RejectedRequests   int64     `json:"rejected_requests"`
	StateTransitions   int64     `json:"state_transitions"`
	LastFailureTime    time.Time `json:"last_failure_time"`
	LastSuccessTime    time.Time `json:"last_success_time"`
}

type record struct {
	at      time.Time
	success bool
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config *Config, logger *logrus.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}

	cb := &CircuitBreaker{
		name:   name,
		logger: logger.WithField("circuit_breaker", name),
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
	metrics.SetCircuitBreakerState(name, int(StateClosed))
	return cb
}

// Execute runs fn unless the circuit is open. Errors caused by the caller,
// such as invalid input or a cancelled context, do not count as failures.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return NewCircuitBreakerOpenError(cb.name)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && cb.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.config.RequestTimeout)
		defer cancel()
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.recordSuccess()
	case isCallerError(err):
		cb.recordNeutral()
	default:
		cb.recordFailure(err)
	}
	return err
}

func isCallerError(err error) bool {
	return errors.Is(err, errors.ErrInvalidInput) ||
		errors.Is(err, context.Canceled)
}

// allowRequest reports whether a call may proceed and counts rejections
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen {
		if cb.now().Before(cb.nextAttempt) {
			cb.stats.RejectedRequests++
			return false
		}
		cb.setState(StateHalfOpen)
	}
	return true
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	cb.failures = 0
	cb.stats.TotalRequests++
	cb.stats.SuccessfulRequests++
	cb.stats.LastSuccessTime = now
	cb.addWindowRecord(now, true)

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

// recordNeutral releases a half-open trial without judging the upstream
func (cb *CircuitBreaker) recordNeutral() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.stats.TotalRequests++
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	cb.failures++
	cb.stats.TotalRequests++
	cb.stats.FailedRequests++
	cb.stats.LastFailureTime = now
	cb.addWindowRecord(now, false)

	if cb.state == StateHalfOpen || cb.shouldTrip() {
		cb.setState(StateOpen)
	}

	cb.logger.WithError(err).WithFields(logrus.Fields{
		"failures": cb.failures,
		"state":    cb.state.String(),
	}).Debug("Circuit breaker recorded failure")
}

func (cb *CircuitBreaker) shouldTrip() bool {
	if cb.failures >= cb.config.FailureThreshold {
		return true
	}

	if cb.config.FailureRateThreshold <= 0 || len(cb.window) < cb.config.MinRequestThreshold {
		return false
	}
	var failed int
	for _, r := range cb.window {
		if !r.success {
			failed++
		}
	}
	return float64(failed)/float64(len(cb.window)) >= cb.config.FailureRateThreshold
}

// addWindowRecord appends a result and drops records older than TimeWindow
func (cb *CircuitBreaker) addWindowRecord(at time.Time, success bool) {
	cb.window = append(cb.window, record{at: at, success: success})

	cutoff := at.Add(-cb.config.TimeWindow)
	i := 0
	for i < len(cb.window) && !cb.window[i].at.After(cutoff) {
		i++
	}
	cb.window = cb.window[i:]
}

// setState must be called with the mutex held
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState

	switch newState {
	case StateOpen:
		timeout := cb.config.Timeout
		if cb.config.ExponentialBackoff && cb.failures > 1 {
			shift := cb.failures - 1
			if shift > 10 {
				shift = 10
			}
			timeout = cb.config.Timeout * time.Duration(int64(1)<<shift)
			if cb.config.MaxTimeout > 0 && timeout > cb.config.MaxTimeout {
				timeout = cb.config.MaxTimeout
			}
		}
		cb.nextAttempt = cb.now().Add(timeout)

	case StateHalfOpen:
		cb.successes = 0

	case StateClosed:
		cb.failures = 0
		cb.window = nil
		cb.nextAttempt = time.Time{}
	}

	cb.stats.StateTransitions++
	metrics.SetCircuitBreakerState(cb.name, int(newState))

	cb.logger.WithFields(logrus.Fields{
		"from_state": oldState.String(),
		"to_state":   newState.String(),
		"failures":   cb.failures,
	}).Info("Circuit breaker state changed")

	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, oldState, newState)
	}
}

// GetState returns the current circuit breaker state
func (cb *CircuitBreaker) GetState() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// GetStatistics returns a copy of the counters
func (cb *CircuitBreaker) GetStatistics() Statistics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.stats
}

// Reset closes the circuit and clears the failure history
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed)
	cb.failures = 0
	cb.successes = 0
	cb.window = nil
	cb.logger.Info("Circuit breaker reset")
}

// SetStateChangeCallback sets a callback for state changes
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(name string, from State, to State)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = callback
}

// Name returns the circuit breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen returns true if the circuit is open
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.GetState() == StateOpen
}
