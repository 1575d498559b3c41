// Package resilience shields the voice pipeline from flaky speech backends.
//
// Every interaction makes three remote calls in a row (transcribe, respond,
// synthesize), so one misbehaving backend can stall the whole assistant while
// each request burns its full timeout. [CircuitBreaker] cuts a backend off
// after repeated failures and probes it again later; [FallbackGroup] composes
// several backends of one provider type behind per-backend breakers so the
// next healthy one answers instead. The per-stage wrappers
// ([TranscribeFallback], [RespondFallback], [SynthFallback]) expose groups
// through the provider interfaces the controller consumes.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open and the retry wait has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call; the backend is considered healthy.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen]. Entered after too many
	// consecutive failures, left once RetryWait has passed.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through to test
	// whether the backend recovered. Success closes the breaker, any failure
	// re-opens it.
	StateHalfOpen
)

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

// CircuitBreakerConfig tunes one [CircuitBreaker]. The zero value gets
// usable defaults from [NewCircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the guarded backend in log output, e.g. "whisper".
	Name string

	// MaxFailures is how many consecutive failures open the breaker.
	// Default 5.
	MaxFailures int

	// RetryWait is how long an open breaker waits before probing the
	// backend again. Default 30s.
	RetryWait time.Duration

	// ProbeBudget bounds the calls allowed through in the half-open state
	// before the breaker commits to closed or open. Default 3.
	ProbeBudget int

	// Logger receives state-transition logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker is a three-state breaker guarding a single speech backend.
type CircuitBreaker struct {
	name        string
	maxFailures int
	retryWait   time.Duration
	probeBudget int
	logger      *slog.Logger

	mu         sync.Mutex
	state      State
	failures   int
	failedAt   time.Time
	probes     int
	probeFails int
}

// NewCircuitBreaker builds a breaker, filling zero config fields with
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		retryWait:   cfg.RetryWait,
		probeBudget: cfg.ProbeBudget,
		logger:      cfg.Logger,
		state:       StateClosed,
	}
}

// Execute runs fn unless the breaker rejects the call. Open breakers return
// [ErrCircuitOpen] without invoking fn; half-open breakers admit fn only
// while probe budget remains.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	inProbe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()
	cb.observe(err, inProbe)
	return err
}

// admit decides whether a call may proceed, handling the open → half-open
// transition. It reports whether the call counts against the probe budget.
func (cb *CircuitBreaker) admit() (inProbe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.failedAt) < cb.retryWait {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		cb.logger.Info("probing backend after retry wait", "backend", cb.name)

	case StateHalfOpen:
		if cb.probes >= cb.probeBudget {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// observe records the outcome of an admitted call.
func (cb *CircuitBreaker) observe(err error, inProbe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if !inProbe {
			cb.failures = 0
			return
		}
		if cb.probes-cb.probeFails >= cb.probeBudget {
			cb.state = StateClosed
			cb.failures = 0
			cb.probes = 0
			cb.probeFails = 0
			cb.logger.Info("backend recovered, breaker closed", "backend", cb.name)
		}
		return
	}

	cb.failedAt = time.Now()
	if inProbe {
		// One bad probe is enough; back to waiting.
		cb.probeFails++
		cb.state = StateOpen
		cb.failures = cb.maxFailures
		cb.logger.Warn("probe failed, breaker re-opened", "backend", cb.name)
		return
	}

	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		cb.logger.Warn("breaker opened",
			"backend", cb.name,
			"consecutive_failures", cb.failures)
	}
}

// State returns the breaker's current mode. An open breaker whose retry wait
// has elapsed reports [StateHalfOpen]; the stored state flips on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.failedAt) >= cb.retryWait {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeFails = 0
	cb.logger.Info("breaker reset", "backend", cb.name)
}
