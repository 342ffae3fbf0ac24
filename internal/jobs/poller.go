// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/opendub/internal/log"
	"github.com/ManuGH/opendub/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultInterval is the delay between status fetches.
const DefaultInterval = 1500 * time.Millisecond

// StatusFetcher fetches the current status of one job.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (Job, error)
}

// Callbacks receive the results of a poll loop. Both run on the loop goroutine,
// one at a time, and must not call Cancel on the handle that invoked them.
type Callbacks struct {
	OnUpdate func(Job)
	OnError  func(*TransientPollError)
}

// Cancellable is the part of a Handle its owner needs to stop polling.
type Cancellable interface {
	Cancel()
}

// Poller starts poll loops against a StatusFetcher.
type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
	clock    Clock
	logger   zerolog.Logger
}

type Option func(*Poller)

// WithInterval sets the tick interval. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// NewPoller creates a poller.
func NewPoller(fetcher StatusFetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		interval: DefaultInterval,
		clock:    realClock{},
		logger:   log.WithComponent("poller"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Interval returns the configured tick interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Handle controls one running poll loop.
type Handle struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}

	// mu is held while a callback runs; Cancel takes it so it returns only
	// after any in-flight delivery has finished.
	mu      sync.Mutex
	stopped bool
}

// JobID returns the polled job.
func (h *Handle) JobID() string { return h.jobID }

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel stops the loop. It is idempotent, and no callback runs after it returns.
func (h *Handle) Cancel() {
	h.cancel()
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}

// deliver runs fn unless the handle was cancelled.
func (h *Handle) deliver(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	fn()
	return true
}

// Attach polls jobID every interval and passes each fetched job to onUpdate
// until a terminal state has been delivered, ctx ends or the handle is cancelled.
func (p *Poller) Attach(ctx context.Context, jobID string, onUpdate func(Job)) *Handle {
	return p.Watch(ctx, jobID, Callbacks{OnUpdate: onUpdate})
}

// Watch is Attach with a hook for transient fetch failures.
func (p *Poller) Watch(ctx context.Context, jobID string, cb Callbacks) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		jobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(ctx, h, cb)
	return h
}

func (p *Poller) run(ctx context.Context, h *Handle, cb Callbacks) {
	defer close(h.done)
	defer h.cancel()

	metrics.ActivePollers.Inc()
	defer metrics.ActivePollers.Dec()

	logger := p.logger.With().Str(log.FieldJobID, h.jobID).Logger()
	logger.Debug().Dur("interval", p.interval).Msg("poll loop started")

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("poll loop cancelled")
			return
		case <-ticker.C():
		}
		// A tick and a cancellation may be ready together.
		if ctx.Err() != nil {
			return
		}

		job, err := p.fetcher.JobStatus(ctx, h.jobID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			perr := &TransientPollError{JobID: h.jobID, Err: err}
			metrics.RecordPollTick("transient_error")
			logger.Warn().Err(err).Msg("job status fetch failed, will retry")
			if cb.OnError != nil && !h.deliver(func() { cb.OnError(perr) }) {
				return
			}
			continue
		}
		if job.ID == "" {
			job.ID = h.jobID
		}

		delivered := h.deliver(func() {
			if cb.OnUpdate != nil {
				cb.OnUpdate(job)
			}
		})
		if !delivered {
			metrics.RecordPollTick("dropped")
			return
		}
		metrics.RecordPollTick("update")
		logger.Debug().
			Str(log.FieldJobState, job.State.String()).
			Str(log.FieldStep, job.Meta.Step).
			Msg("job update")

		if job.State.IsTerminal() {
			logger.Info().Str(log.FieldJobState, job.State.String()).Msg("job reached terminal state")
			return
		}
	}
}

// Await polls jobID until it is terminal and returns the final job.
// onUpdate may be nil.
func (p *Poller) Await(ctx context.Context, jobID string, onUpdate func(Job)) (Job, error) {
	var (
		last Job
		seen bool
	)
	h := p.Attach(ctx, jobID, func(j Job) {
		last, seen = j, true
		if onUpdate != nil {
			onUpdate(j)
		}
	})

	select {
	case <-h.Done():
	case <-ctx.Done():
	}
	h.Cancel()
	<-h.Done()

	if seen && last.Terminal() {
		return last, nil
	}
	if err := ctx.Err(); err != nil {
		return last, err
	}
	return last, ErrPollStopped
}
