package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"copycat/internal/logging"
)

// circuitState represents the current state of a circuit breaker.
type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned instead of attempting an upload while the
// remote store keeps failing.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// circuitBreaker skips remote uploads after maxFailures consecutive errors
// until timeout has passed, then lets one attempt through.
type circuitBreaker struct {
	mu sync.Mutex

	maxFailures uint32
	timeout     time.Duration
	now         func() time.Time

	state           circuitState
	failures        uint32
	lastFailureTime time.Time
	probing         bool
}

func newCircuitBreaker(maxFailures uint32, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

// execute runs fn unless the circuit is open.
func (cb *circuitBreaker) execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case stateOpen:
		if cb.now().Sub(cb.lastFailureTime) <= cb.timeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = stateHalfOpen
		logging.Info("circuit_breaker_half_open", zap.Duration("timeout_elapsed", cb.timeout))
		fallthrough
	case stateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if err != nil {
		cb.failures++
		cb.lastFailureTime = cb.now()
		if cb.state == stateHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != stateOpen {
				logging.Warn("circuit_breaker_opened",
					zap.Uint32("failures", cb.failures),
					zap.Uint32("max_failures", cb.maxFailures),
					zap.Duration("timeout", cb.timeout),
				)
			}
			cb.state = stateOpen
		}
		return err
	}

	if cb.state == stateHalfOpen {
		logging.Info("circuit_breaker_closed", zap.String("reason", "recovery_successful"))
	}
	cb.state = stateClosed
	cb.failures = 0
	return nil
}

// guardedUploader puts a circuit breaker in front of an Uploader.
type guardedUploader struct {
	next Uploader
	cb   *circuitBreaker
}

func (g *guardedUploader) Upload(ctx context.Context, localPath, name string) error {
	return g.cb.execute(func() error {
		return g.next.Upload(ctx, localPath, name)
	})
}
