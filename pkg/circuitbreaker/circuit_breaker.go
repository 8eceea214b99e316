package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signalrelay/internal/metrics"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
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

// Config tunes a breaker. Zero values take defaults.
type Config struct {
	Name string
	// MaxFailures is the number of consecutive counted failures that opens the circuit
	MaxFailures int
	// OpenTimeout is how long the circuit stays open before allowing probes
	OpenTimeout time.Duration
	// HalfOpenProbes successful probes close the circuit again
	HalfOpenProbes int
	// IsFailure decides whether an error counts toward tripping. Errors the
	// remote side could never fix on retry (4xx) should return false.
	IsFailure func(error) bool
}

const (
	defaultMaxFailures    = 5
	defaultOpenTimeout    = 30 * time.Second
	defaultHalfOpenProbes = 1
)

// Breaker guards calls to one remote dependency (the relay API or Discord)
type Breaker struct {
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	probes      int
	inFlight    int
	openedAt    time.Time
	lastFailure error
}

func New(cfg Config, logger *logrus.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = defaultHalfOpenProbes
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if logger == nil {
		logger = logrus.New()
	}
	b := &Breaker{cfg: cfg, logger: logger, now: time.Now}
	b.publish()
	return b
}

// Execute runs fn unless the circuit is open. Context cancellation is never
// counted as a remote failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	b.release(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return &OpenError{Name: b.cfg.Name, State: b.state, Cause: b.lastFailure}
		}
		b.transition(StateHalfOpen)
	}
	if b.state == StateHalfOpen && b.inFlight >= b.cfg.HalfOpenProbes {
		return &OpenError{Name: b.cfg.Name, State: b.state, Cause: b.lastFailure}
	}
	b.inFlight++
	return nil
}

func (b *Breaker) release(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inFlight--
	counted := err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		b.cfg.IsFailure(err)

	switch b.state {
	case StateHalfOpen:
		if counted {
			b.lastFailure = err
			b.trip()
			return
		}
		b.probes++
		if b.probes >= b.cfg.HalfOpenProbes {
			b.transition(StateClosed)
		}
	case StateClosed:
		if !counted {
			b.failures = 0
			return
		}
		b.failures++
		b.lastFailure = err
		if b.failures >= b.cfg.MaxFailures {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.transition(StateOpen)
	b.logger.WithFields(logrus.Fields{
		"circuit_breaker": b.cfg.Name,
		"failures":        b.failures,
		"error":           b.lastFailure,
	}).Warn("Circuit breaker opened")
}

// transition must be called with mu held
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.failures = 0
	b.probes = 0
	b.publish()

	if to != StateOpen {
		b.logger.WithFields(logrus.Fields{
			"circuit_breaker": b.cfg.Name,
			"from":            from.String(),
			"to":              to.String(),
		}).Info("Circuit breaker state changed")
	}
}

func (b *Breaker) publish() {
	metrics.SetGauge(metrics.CircuitBreakerState, float64(b.state),
		map[string]string{"breaker": b.cfg.Name},
		"Circuit breaker state (0 closed, 1 open, 2 half-open)")
}

// State reports the current state. An open circuit whose timeout elapsed
// still reports OPEN until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OpenError is returned without calling fn while the circuit rejects calls
type OpenError struct {
	Name  string
	State State
	Cause error
}

func (e *OpenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("circuit breaker '%s' is %s (last error: %v)", e.Name, e.State, e.Cause)
	}
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsOpen reports whether err came from a rejecting breaker
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}
