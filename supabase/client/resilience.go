package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/supercopa/totem/internal/retry"
)

// =============================================================================
// Circuit Breaker
// =============================================================================

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// OnStateChange is called asynchronously on every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the defaults used for Supabase.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling a failing backend for a cool-down period.
type CircuitBreaker struct {
	mu sync.Mutex

	config CircuitBreakerConfig
	now    func() time.Time

	state     CircuitState
	failures  int
	successes int
	lastError error
	openedAt  time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// Allow returns ErrCircuitOpen while the circuit is open. Once the timeout
// has elapsed it moves to half-open and lets requests probe the backend.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.transitionTo(CircuitHalfOpen)
	}
	return nil
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastError = err
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(next CircuitState) {
	prev := cb.state
	cb.state = next
	cb.successes = 0

	switch next {
	case CircuitClosed:
		cb.failures = 0
	case CircuitOpen:
		cb.openedAt = cb.now()
	}

	if cb.config.OnStateChange != nil && prev != next {
		go cb.config.OnStateChange(prev, next)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// LastError returns the last recorded error.
func (cb *CircuitBreaker) LastError() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastError
}

// =============================================================================
// Resilient HTTP Client
// =============================================================================

// ResilientClientConfig configures the resilient client.
type ResilientClientConfig struct {
	BaseClient *http.Client
	// Retry is the backoff policy. MaxAttempts counts the first request.
	Retry retry.Policy
	// RetryableStatusCodes defaults to 429, 500, 502, 503 and 504.
	RetryableStatusCodes []int
	CircuitBreaker       CircuitBreakerConfig
}

// DefaultResilientClientConfig returns short waits suited to PostgREST.
func DefaultResilientClientConfig() ResilientClientConfig {
	return ResilientClientConfig{
		Retry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			Multiplier:  2,
			MaxDelay:    2 * time.Second,
		},
		CircuitBreaker: DefaultCircuitBreakerConfig(),
	}
}

var defaultRetryableStatusCodes = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// ResilientClient wraps an HTTP client with retry and a circuit breaker.
type ResilientClient struct {
	client         *http.Client
	policy         retry.Policy
	retryable      map[int]struct{}
	circuitBreaker *CircuitBreaker

	totalRequests   int64
	successRequests int64
	failedRequests  int64
	retriedRequests int64
}

// NewResilientClient creates a new resilient HTTP client.
func NewResilientClient(config ResilientClientConfig) *ResilientClient {
	if config.BaseClient == nil {
		config.BaseClient = &http.Client{Timeout: 30 * time.Second}
	}
	codes := config.RetryableStatusCodes
	if len(codes) == 0 {
		codes = defaultRetryableStatusCodes
	}
	retryable := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		retryable[code] = struct{}{}
	}

	return &ResilientClient{
		client:         config.BaseClient,
		policy:         config.Retry,
		retryable:      retryable,
		circuitBreaker: NewCircuitBreaker(config.CircuitBreaker),
	}
}

// StatusError is a retryable HTTP status that persisted across attempts.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Do executes req with retry and circuit breaking. Requests with a body
// are replayed through GetBody.
func (rc *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&rc.totalRequests, 1)

	if err := rc.circuitBreaker.Allow(); err != nil {
		atomic.AddInt64(&rc.failedRequests, 1)
		return nil, err
	}

	var resp *http.Response
	res, err := retry.Do(req.Context(), rc.policy, func(ctx context.Context, attempt int) error {
		attemptReq := req
		if attempt > 1 {
			attemptReq = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return err
				}
				attemptReq.Body = body
			}
		}

		r, err := rc.client.Do(attemptReq)
		if err != nil {
			return err
		}
		if _, ok := rc.retryable[r.StatusCode]; ok {
			r.Body.Close()
			return &StatusError{StatusCode: r.StatusCode}
		}
		resp = r
		return nil
	}, rc.isRetryable)

	if res.Retries > 0 {
		atomic.AddInt64(&rc.retriedRequests, int64(res.Retries))
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			rc.circuitBreaker.RecordFailure(err)
		}
		atomic.AddInt64(&rc.failedRequests, 1)
		return nil, err
	}

	rc.circuitBreaker.RecordSuccess()
	atomic.AddInt64(&rc.successRequests, 1)
	return resp, nil
}

func (rc *ResilientClient) isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Metrics returns request counters.
func (rc *ResilientClient) Metrics() map[string]int64 {
	return map[string]int64{
		"total_requests":   atomic.LoadInt64(&rc.totalRequests),
		"success_requests": atomic.LoadInt64(&rc.successRequests),
		"failed_requests":  atomic.LoadInt64(&rc.failedRequests),
		"retried_requests": atomic.LoadInt64(&rc.retriedRequests),
	}
}

// CircuitState returns the current circuit breaker state.
func (rc *ResilientClient) CircuitState() CircuitState {
	return rc.circuitBreaker.State()
}
