// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	tickers chan *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{tickers: make(chan *fakeTicker, 4)}
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, 0) }

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	t := &fakeTicker{c: make(chan time.Time)}
	c.tickers <- t
	return t
}

// next waits for the poll loop to create its ticker.
func (c *fakeClock) next(t *testing.T) *fakeTicker {
	t.Helper()
	select {
	case tk := <-c.tickers:
		return tk
	case <-time.After(time.Second):
		t.Fatal("poll loop did not create a ticker")
		return nil
	}
}

type fakeTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

// fire blocks until the loop consumes the tick.
func (t *fakeTicker) fire(tb testing.TB) {
	tb.Helper()
	select {
	case t.c <- time.Unix(0, 0):
	case <-time.After(time.Second):
		tb.Fatal("poll loop did not consume tick")
	}
}

// scriptFetcher replays results in order and repeats the last one.
type scriptFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	job Job
	err error
}

func (f *scriptFetcher) JobStatus(_ context.Context, jobID string) (Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.calls, len(f.results)-1)
	f.calls++
	r := f.results[i]
	if r.err == nil && r.job.ID == "" {
		r.job.ID = jobID
	}
	return r.job, r.err
}

func (f *scriptFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func states(ss ...State) []fetchResult {
	out := make([]fetchResult, len(ss))
	for i, s := range ss {
		out[i] = fetchResult{job: Job{State: s}}
	}
	return out
}

type recorder struct {
	mu   sync.Mutex
	jobs []Job
}

func (r *recorder) add(j Job) {
	r.mu.Lock()
	r.jobs = append(r.jobs, j)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.jobs))
	for i, j := range r.jobs {
		out[i] = j.State
	}
	return out
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("poll loop did not exit")
	}
}

func TestPoller_StopsAfterTerminalUpdate(t *testing.T) {
	clk := newFakeClock()
	f := &scriptFetcher{results: states(StatePending, StateStarted, StateSuccess)}
	p := NewPoller(f, WithClock(clk))
	rec := &recorder{}

	h := p.Attach(context.Background(), "job-1", rec.add)
	tk := clk.next(t)
	for range 3 {
		tk.fire(t)
	}
	waitDone(t, h)

	assert.Equal(t, []State{StatePending, StateStarted, StateSuccess}, rec.states())
	assert.Equal(t, 3, f.Calls())
	assert.True(t, tk.stopped.Load(), "ticker stopped after terminal state")

	select {
	case tk.c <- time.Unix(0, 0):
		t.Fatal("loop consumed a tick after the terminal update")
	case <-time.After(20 * time.Millisecond):
	}
	h.Cancel()
}

func TestPoller_CancelBeforeFirstTick(t *testing.T) {
	clk := newFakeClock()
	f := &scriptFetcher{results: states(StateSuccess)}
	p := NewPoller(f, WithClock(clk))
	rec := &recorder{}

	h := p.Attach(context.Background(), "job-1", rec.add)
	tk := clk.next(t)
	h.Cancel()
	h.Cancel()
	waitDone(t, h)

	assert.Empty(t, rec.states())
	assert.Zero(t, f.Calls())
	assert.True(t, tk.stopped.Load())
}

func TestPoller_TransientErrorsKeepPolling(t *testing.T) {
	clk := newFakeClock()
	boom := errors.New("connection refused")
	f := &scriptFetcher{results: []fetchResult{
		{err: boom},
		{job: Job{State: StateFailure, Meta: Meta{Detail: "codec error"}}},
	}}
	p := NewPoller(f, WithClock(clk))
	rec := &recorder{}
	var transient []*TransientPollError

	h := p.Watch(context.Background(), "job-9", Callbacks{
		OnUpdate: rec.add,
		OnError:  func(e *TransientPollError) { transient = append(transient, e) },
	})
	tk := clk.next(t)
	tk.fire(t)
	tk.fire(t)
	waitDone(t, h)

	require.Len(t, transient, 1)
	assert.Equal(t, "job-9", transient[0].JobID)
	assert.ErrorIs(t, transient[0], boom)
	assert.Equal(t, []State{StateFailure}, rec.states(), "transient errors never surface as updates")
}

func TestPoller_UnknownStateIsNotTerminal(t *testing.T) {
	clk := newFakeClock()
	f := &scriptFetcher{results: states("RETRY", StateSuccess)}
	p := NewPoller(f, WithClock(clk))
	rec := &recorder{}

	h := p.Attach(context.Background(), "job-1", rec.add)
	tk := clk.next(t)
	tk.fire(t)
	tk.fire(t)
	waitDone(t, h)

	assert.Equal(t, []State{"RETRY", StateSuccess}, rec.states())
}

func TestHandle_CancelWaitsForInFlightDelivery(t *testing.T) {
	clk := newFakeClock()
	f := &scriptFetcher{results: states(StateStarted)}
	p := NewPoller(f, WithClock(clk))

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	h := p.Attach(context.Background(), "job-1", func(Job) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	})
	tk := clk.next(t)
	tk.fire(t)
	<-entered

	cancelled := make(chan struct{})
	go func() {
		h.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while a delivery was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	<-cancelled
	waitDone(t, h)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPoller_ContextCancelStopsLoop(t *testing.T) {
	clk := newFakeClock()
	f := &scriptFetcher{results: states(StatePending)}
	p := NewPoller(f, WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	h := p.Attach(ctx, "job-1", func(Job) {})
	clk.next(t)
	cancel()
	waitDone(t, h)
	h.Cancel()
}

func TestPoller_Await(t *testing.T) {
	clk := newFakeClock()
	f := &scriptFetcher{results: states(StatePending, StateSuccess)}
	p := NewPoller(f, WithClock(clk))

	type result struct {
		job Job
		err error
	}
	out := make(chan result, 1)
	go func() {
		j, err := p.Await(context.Background(), "job-7", nil)
		out <- result{j, err}
	}()

	tk := clk.next(t)
	tk.fire(t)
	tk.fire(t)

	r := <-out
	require.NoError(t, r.err)
	assert.Equal(t, "job-7", r.job.ID)
	assert.Equal(t, StateSuccess, r.job.State)
}

func TestPoller_AwaitContextDone(t *testing.T) {
	clk := newFakeClock()
	f := &scriptFetcher{results: states(StatePending)}
	p := NewPoller(f, WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan error, 1)
	go func() {
		_, err := p.Await(ctx, "job-7", nil)
		out <- err
	}()
	tk := clk.next(t)
	tk.fire(t)
	cancel()

	assert.ErrorIs(t, <-out, context.Canceled)
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(&scriptFetcher{}, WithInterval(-1))
	assert.Equal(t, DefaultInterval, p.Interval())
	assert.Equal(t, 250*time.Millisecond, NewPoller(nil, WithInterval(250*time.Millisecond)).Interval())
}
