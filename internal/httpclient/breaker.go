package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"imgrelay/internal/observability"
)

// ErrCircuitOpen is returned without contacting the upstream while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // consecutive half-open successes that close it
	Cooldown         time.Duration // time spent open before probing
}

// DefaultBreakerConfig returns the thresholds used for the image host.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker stops calling an upstream that keeps failing so callers can
// degrade immediately instead of waiting out every timeout.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	logger *observability.Logger

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	now         func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config BreakerConfig, logger *observability.Logger) *CircuitBreaker {
	defaults := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = defaults.Cooldown
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: observability.OrNop(logger).With("component", "circuit-breaker", "upstream", name),
		state:  StateClosed,
		now:    time.Now,
	}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if cb.now().Sub(cb.lastFailure) >= cb.config.Cooldown {
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.logger.Info("circuit half-open, probing upstream")
		return nil
	}
	return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
}

// Mark records a request outcome. Pass nil for success.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.state = StateClosed
				cb.failures = 0
				cb.successes = 0
				cb.logger.Info("circuit closed, upstream recovered")
			}
		}
		return
	}

	cb.lastFailure = cb.now()
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.logger.Warn("circuit opened", "failures", cb.failures, "error", err)
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successes = 0
		cb.logger.Warn("circuit reopened, probe failed", "error", err)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

type circuitBreakerRoundTripper struct {
	base    http.RoundTripper
	breaker *CircuitBreaker
}

// NewWithCircuitBreaker builds a bounded client guarded by breaker.
func NewWithCircuitBreaker(timeout time.Duration, breaker *CircuitBreaker) *http.Client {
	client := New(timeout)
	client.Transport = WrapTransport(client.Transport, breaker)
	return client
}

// WrapTransport wraps base with circuit breaker protection.
func WrapTransport(base http.RoundTripper, breaker *CircuitBreaker) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if breaker == nil {
		return base
	}
	return &circuitBreakerRoundTripper{base: base, breaker: breaker}
}

func (t *circuitBreakerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		// A caller giving up says nothing about upstream health.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		t.breaker.Mark(err)
		return nil, err
	}
	if isBreakerFailureStatus(resp.StatusCode) {
		t.breaker.Mark(fmt.Errorf("http status %d", resp.StatusCode))
	} else {
		t.breaker.Mark(nil)
	}
	return resp, nil
}

func isBreakerFailureStatus(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}
