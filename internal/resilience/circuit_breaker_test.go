// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/opendub/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	errOutage = errors.New("503 from backend")
	errClient = errors.New("400 from backend")
)

func fail() error    { return errOutage }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("t-open", 3, 10*time.Second, WithClock(clock))

	assert.ErrorIs(t, cb.Execute(fail), errOutage)
	assert.ErrorIs(t, cb.Execute(fail), errOutage)
	require.NoError(t, cb.Execute(succeed), "a success resets the streak")
	assert.ErrorIs(t, cb.Execute(fail), errOutage)
	assert.ErrorIs(t, cb.Execute(fail), errOutage)
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(fail), errOutage)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BreakerTrips.WithLabelValues("t-open", "threshold")))
	assert.Equal(t, float64(metrics.BreakerOpen), testutil.ToFloat64(metrics.BreakerState.WithLabelValues("t-open")))

	clock.Advance(4 * time.Second)
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.False(t, called, "open breaker must not call through")
	assert.ErrorIs(t, err, ErrCircuitOpen)

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 6*time.Second, openErr.RetryAfter)
	assert.Equal(t, "t-open: circuit open, retry in 6s", err.Error())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BreakerRejected.WithLabelValues("t-open")))
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("t-probe-ok", 1, 10*time.Second, WithClock(clock))

	_ = cb.Execute(fail)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Execute(succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, float64(metrics.BreakerClosed), testutil.ToFloat64(metrics.BreakerState.WithLabelValues("t-probe-ok")))
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("t-probe-fail", 1, 10*time.Second, WithClock(clock))

	_ = cb.Execute(fail)
	clock.Advance(11 * time.Second)

	assert.ErrorIs(t, cb.Execute(fail), errOutage)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(succeed), ErrCircuitOpen, "cooldown restarts at the failed probe")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BreakerTrips.WithLabelValues("t-probe-fail", "probe_failed")))
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("t-single", 1, time.Second, WithClock(clock))
	_ = cb.Execute(fail)
	clock.Advance(2 * time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe

	err := cb.Execute(succeed)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Zero(t, openErr.RetryAfter)
	assert.Equal(t, StateHalfOpen, cb.State())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(succeed))
}

func TestCircuitBreaker_PredicateExcludesClientErrors(t *testing.T) {
	cb := NewCircuitBreaker("t-predicate", 2, time.Minute,
		WithFailurePredicate(func(err error) bool { return !errors.Is(err, errClient) }))

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return errClient }), errClient)
	}
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(fail)
	_ = cb.Execute(func() error { return errClient })
	_ = cb.Execute(fail)
	assert.Equal(t, StateClosed, cb.State(), "an uncounted error breaks the streak")
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("t-defaults", 0, -time.Second)
	assert.Equal(t, defaultThreshold, cb.threshold)
	assert.Equal(t, defaultCooldown, cb.cooldown)
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
