// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience guards outbound calls to the dubbing backend.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/opendub/internal/log"
	"github.com/ManuGH/opendub/internal/metrics"
	"github.com/rs/zerolog"
)

// State of a CircuitBreaker.
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
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrCircuitOpen matches every *OpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned instead of calling through while the breaker is open
// or another call is probing the backend.
type OpenError struct {
	Name string
	// RetryAfter is the remaining cooldown; 0 while a probe is in flight.
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: circuit open, retry in %s", e.Name, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("%s: circuit open, probe in progress", e.Name)
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

const (
	defaultThreshold = 5
	defaultCooldown  = 30 * time.Second
)

// CircuitBreaker opens after threshold consecutive counted failures and
// refuses calls for the cooldown. The first call after the cooldown is a
// single probe: its success closes the breaker, its failure reopens it.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	clock     Clock
	counts    func(error) bool
	logger    zerolog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

type Option func(*CircuitBreaker)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithFailurePredicate selects the errors that count towards the threshold.
// Other errors are returned unchanged and reset the failure streak.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) {
		if fn != nil {
			cb.counts = fn
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(cb *CircuitBreaker) { cb.logger = l }
}

// NewCircuitBreaker creates a closed breaker. Non-positive threshold or
// cooldown select the defaults (5, 30s).
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	cb := &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     wallClock{},
		counts:    func(err error) bool { return err != nil },
		logger:    log.WithComponent("resilience"),
	}
	for _, o := range opts {
		o(cb)
	}
	cb.logger = cb.logger.With().Str("breaker", name).Logger()
	metrics.BreakerState.WithLabelValues(name).Set(metrics.BreakerClosed)
	return cb
}

// Execute calls fn unless the breaker refuses, in which case it returns *OpenError.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.acquire()
	if err != nil {
		metrics.BreakerRejected.WithLabelValues(cb.name).Inc()
		return err
	}
	err = fn()
	cb.release(probe, err != nil && cb.counts(err))
	return err
}

func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		remaining := cb.cooldown - cb.clock.Now().Sub(cb.openedAt)
		if remaining > 0 {
			return false, &OpenError{Name: cb.name, RetryAfter: remaining}
		}
		cb.setLocked(StateHalfOpen)
	}
	if cb.probing {
		return false, &OpenError{Name: cb.name}
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) release(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
		if failed {
			cb.tripLocked("probe_failed")
		} else {
			cb.failures = 0
			cb.setLocked(StateClosed)
		}
		return
	}
	if !failed {
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.threshold {
		cb.tripLocked("threshold")
	}
}

func (cb *CircuitBreaker) tripLocked(cause string) {
	cb.openedAt = cb.clock.Now()
	metrics.BreakerTrips.WithLabelValues(cb.name, cause).Inc()
	cb.logger.Warn().
		Str("cause", cause).
		Int("failures", cb.failures).
		Dur("cooldown", cb.cooldown).
		Msg("circuit opened")
	cb.setLocked(StateOpen)
}

func (cb *CircuitBreaker) setLocked(s State) {
	if cb.state == s {
		return
	}
	if s == StateClosed {
		cb.logger.Info().Str(log.FieldOldState, cb.state.String()).Msg("circuit closed")
	}
	cb.state = s
	var v float64
	switch s {
	case StateHalfOpen:
		v = metrics.BreakerHalfOpen
	case StateOpen:
		v = metrics.BreakerOpen
	}
	metrics.BreakerState.WithLabelValues(cb.name).Set(v)
}

// State returns the current state. An open breaker whose cooldown elapsed
// still reports StateOpen until the next call probes.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
