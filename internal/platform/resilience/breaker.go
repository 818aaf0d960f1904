package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when a call is rejected by an open circuit.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a circuit breaker around an external dependency.
type BreakerConfig struct {
	// Name identifies the protected dependency in logs and metrics.
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval between closed-state counter resets.
	Interval time.Duration
	// Timeout before an open circuit transitions to half-open.
	Timeout time.Duration
	// FailureThreshold is the consecutive-failure count that trips the
	// circuit.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns breaker defaults for exchange APIs.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker wraps calls to a single external dependency with a circuit
// breaker, mapping open-circuit rejections to ErrCircuitOpen so callers
// and the retry layer can branch on it.
type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

// NewBreaker creates a circuit breaker from config.
func NewBreaker[T any](cfg BreakerConfig) *Breaker[T] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

// Execute runs fn through the breaker.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrCircuitOpen
	}
	return res, err
}

// State returns the current breaker state name.
func (b *Breaker[T]) State() string {
	return b.cb.State().String()
}
