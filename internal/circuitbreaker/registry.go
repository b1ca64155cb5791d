package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State is the state of a single breaker.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// ErrOpen is returned by Execute when the breaker rejects the call.
var ErrOpen = errors.New("circuit breaker is open")

// StateFunc observes breaker transitions.
type StateFunc func(service string, from, to State)

type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*gobreaker.CircuitBreaker
	threshold uint32
	timeout   time.Duration
	logger    *slog.Logger
	onChange  StateFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithStateCallback registers fn to be called on every state transition.
func WithStateCallback(fn StateFunc) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

func NewRegistry(threshold int, timeout time.Duration, logger *slog.Logger, opts ...Option) *Registry {
	if threshold < 1 {
		threshold = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		threshold: uint32(threshold), //nolint:gosec // bounded by config validation
		timeout:   timeout,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// GetBreaker returns the breaker for service, creating it on first use.
func (r *Registry) GetBreaker(service string) *gobreaker.CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[service]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// another goroutine may have created it
	if cb, exists = r.breakers[service]; exists {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker(r.settings(service))
	r.breakers[service] = cb
	return cb
}

func (r *Registry) settings(service string) gobreaker.Settings {
	threshold := r.threshold
	return gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Timeout:     r.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level := slog.LevelInfo
			if to == gobreaker.StateOpen {
				level = slog.LevelWarn
			}
			r.logger.Log(context.Background(), level, "Circuit breaker state changed",
				slog.String("service", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))

			if r.onChange != nil {
				r.onChange(name, from, to)
			}
		},
	}
}

// Execute runs fn through the service's breaker. A non-nil error from fn
// counts as a failure. ErrOpen is returned without calling fn when the
// breaker is open or its half-open probe is already in flight.
func (r *Registry) Execute(service string, fn func() error) error {
	_, err := r.GetBreaker(service).Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// Forget drops the breakers of the given services.
func (r *Registry) Forget(services ...string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, s := range services {
		delete(r.breakers, s)
	}
}

func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*gobreaker.CircuitBreaker)
}

// Stats returns the current state of every known breaker.
func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for service, cb := range r.breakers {
		stats[service] = cb.State()
	}
	return stats
}
