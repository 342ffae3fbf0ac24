// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package workflow drives one upload, conversion and dubbing session against
// the backend and owns its observable state.
//
// Operations block for their network call. Poll updates arrive on the poll
// loop goroutine. Every transition happens under the machine mutex, and poll
// handles are only cancelled after that mutex is released, because a delivery
// in progress holds the handle while it waits for the machine.
package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/opendub/internal/backend"
	"github.com/ManuGH/opendub/internal/convert"
	"github.com/ManuGH/opendub/internal/fsm"
	"github.com/ManuGH/opendub/internal/jobs"
	"github.com/ManuGH/opendub/internal/log"
	"github.com/ManuGH/opendub/internal/metrics"
	"github.com/ManuGH/opendub/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Backend is the part of the backend client the machine drives.
type Backend interface {
	UploadFile(ctx context.Context, path string) (backend.Resource, error)
	ConvertAudio(ctx context.Context, videoID string, req convert.Request) (backend.ConversionResult, error)
	CreateJob(ctx context.Context, req convert.JobRequest) (string, error)
	ResolveURL(ref string) string
}

var _ Backend = (*backend.Client)(nil)

// Snapshot is a copy of the machine state.
type Snapshot struct {
	State State
	// Mode of the current request: learned from the conversion response, or
	// ModeAsync for dubbing jobs.
	Mode     Mode
	File     string
	Resource backend.Resource
	JobID    string
	// Job is the last delivered poll update.
	Job         jobs.Job
	ArtifactURL string
	Reason      string
	// Message is a one-line status for display.
	Message    string
	Err        error
	Generation uint64
	UpdatedAt  time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithParent bounds the machine lifetime by ctx. Cancelling it stops polling
// as Close does.
func WithParent(ctx context.Context) Option {
	return func(m *Machine) { m.parent = ctx }
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Machine) { m.tracer = t }
}

// Machine is the workflow state machine. It is safe for concurrent use; an
// operation that does not apply to the current state returns ErrNotAllowed.
type Machine struct {
	backend Backend
	poller  *jobs.Poller
	builder *convert.Builder
	logger  zerolog.Logger
	tracer  trace.Tracer
	events  *broadcaster

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	table    *fsm.Machine[State, trigger]
	snap     Snapshot
	convMode Mode
	gen      uint64
	handle   *jobs.Handle
	// opBase bounds the requests of the current generation.
	opBase   context.Context
	opCancel context.CancelFunc
	changed  chan struct{}
	closed   bool
}

// New creates a machine in StateIdle.
func New(b Backend, p *jobs.Poller, builder *convert.Builder, opts ...Option) *Machine {
	m := &Machine{
		backend: b,
		poller:  p,
		builder: builder,
		logger:  log.WithComponent("workflow"),
		tracer:  telemetry.Tracer(),
		events:  newBroadcaster(),
		parent:  context.Background(),
		table:   newTable(),
		changed: make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.builder == nil {
		m.builder = convert.NewBuilder(convert.DefaultDefaults)
	}
	m.ctx, m.cancel = context.WithCancel(m.parent)
	m.opBase, m.opCancel = context.WithCancel(m.ctx)
	m.snap = Snapshot{State: StateIdle, Message: "Select a video to upload", UpdatedAt: time.Now()}
	return m
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Subscribe streams events until the returned func is called or the machine
// is closed. buffer <= 0 selects a default; a full buffer drops events.
func (m *Machine) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.subscribe(buffer)
}

// SelectFile buffers the path the next Upload sends. The state is unchanged.
func (m *Machine) SelectFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.table.Can(trigSelectFile) {
		return notAllowed("select file", m.snap.State)
	}
	if path == "" {
		return ErrNoFile
	}
	m.snap.File = path
	m.snap.Message = "Selected " + filepath.Base(path)
	return m.fireLocked(trigSelectFile)
}

// Upload sends the selected file. Any running poll loop is cancelled first.
// On failure the machine returns to StateIdle.
func (m *Machine) Upload(ctx context.Context) (backend.Resource, error) {
	ctx, span := m.tracer.Start(ctx, "workflow.upload")
	defer span.End()

	gen, snap, err := m.begin(
		"upload",
		func(s Snapshot) (trigger, error) {
			if s.File == "" {
				return "", ErrNoFile
			}
			return trigUpload, nil
		},
		func(s *Snapshot) {
			clearRun(s)
			s.Resource = backend.Resource{}
			s.Message = "Uploading " + filepath.Base(s.File)
		},
	)
	if err != nil {
		return backend.Resource{}, err
	}
	span.SetAttributes(attribute.String(log.FieldPath, snap.File))

	opCtx, done := m.opContext(ctx, gen)
	res, err := m.backend.UploadFile(opCtx, snap.File)
	done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if cerr := m.currentLocked(gen); cerr != nil {
		return backend.Resource{}, cerr
	}
	if err != nil {
		recordSpanError(span, "upload", err)
		m.snap.Err = err
		m.snap.Message = "Upload failed: " + err.Error()
		_ = m.fireLocked(trigUploadFailed)
		return backend.Resource{}, err
	}

	span.SetAttributes(attribute.String(telemetry.VideoIDKey, res.ID))
	m.snap.Resource = res
	m.snap.Message = fmt.Sprintf("Uploaded %s", displayName(res, snap.File))
	_ = m.fireLocked(trigUploaded)
	m.logger.Info().Str(log.FieldVideoID, res.ID).Str(log.FieldPath, snap.File).Msg("video uploaded")
	return res, nil
}

// UseResource adopts a video uploaded earlier, entering StateUploaded without
// an upload. Any running poll loop is cancelled.
func (m *Machine) UseResource(res backend.Resource) error {
	if res.ID == "" {
		return fmt.Errorf("%w: empty video id", ErrNotAllowed)
	}
	_, _, err := m.begin(
		"use resource",
		func(Snapshot) (trigger, error) { return trigAdopt, nil },
		func(s *Snapshot) {
			clearRun(s)
			s.Resource = res
			s.Message = "Using video " + res.ID
		},
	)
	return err
}

// Convert requests an audio extraction of the uploaded video. An immediate
// answer ends in StateSucceeded; a queued one ends in StatePolling with a poll
// loop attached. Use Wait to block until the job finishes. On failure the
// machine returns to StateUploaded.
func (m *Machine) Convert(ctx context.Context, params convert.Params) (Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "workflow.convert")
	defer span.End()

	req, err := m.builder.Build(params)
	if err != nil {
		return m.reject("Invalid conversion settings: ", err)
	}

	gen, snap, err := m.begin(
		"convert",
		func(Snapshot) (trigger, error) {
			if m.convMode == ModeAsync {
				return trigSubmit, nil
			}
			return trigConvert, nil
		},
		func(s *Snapshot) {
			clearRun(s)
			s.Mode = m.convMode
			s.Message = "Converting to " + req.Format
		},
	)
	if err != nil {
		return m.Snapshot(), err
	}
	span.SetAttributes(telemetry.ConversionAttributes(snap.Resource.ID, req.Format, req.SampleRate, req.Channels, req.Bitrate)...)

	opCtx, done := m.opContext(log.ContextWithVideoID(ctx, snap.Resource.ID), gen)
	res, err := m.backend.ConvertAudio(opCtx, snap.Resource.ID, req)
	done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if cerr := m.currentLocked(gen); cerr != nil {
		return m.snap, cerr
	}
	if err != nil {
		recordSpanError(span, "convert", err)
		m.requestFailedLocked("Conversion failed: ", err)
		return m.snap, err
	}

	switch res.Kind {
	case backend.ResultImmediate:
		m.convMode = ModeSync
		m.snap.Mode = ModeSync
		m.snap.ArtifactURL = m.backend.ResolveURL(res.URL)
		m.snap.Message = "Conversion finished"
		_ = m.fireLocked(trigCompleted)
		m.logger.Info().
			Str(log.FieldVideoID, snap.Resource.ID).
			Str(log.FieldArtifactURL, m.snap.ArtifactURL).
			Msg("conversion finished")
	default:
		m.convMode = ModeAsync
		m.snap.Mode = ModeAsync
		m.snap.JobID = res.JobID
		if m.snap.State == StateConverting {
			m.snap.Message = "Conversion queued as " + res.JobID
			_ = m.fireLocked(trigQueued)
		}
		m.attachLocked(gen, res.JobID)
	}
	span.SetAttributes(attribute.String(telemetry.WorkflowModeKey, m.snap.Mode.String()))
	return m.snap, nil
}

// StartJob creates a dubbing job and attaches a poll loop. An empty VideoID
// selects the uploaded video. On failure the machine returns to StateUploaded.
func (m *Machine) StartJob(ctx context.Context, params convert.DubParams) (Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "workflow.start_job")
	defer span.End()

	if params.VideoID == "" {
		params.VideoID = m.Snapshot().Resource.ID
	}
	req, err := m.builder.BuildJob(params)
	if err != nil {
		return m.reject("Invalid dubbing request: ", err)
	}

	gen, _, err := m.begin(
		"start_job",
		func(Snapshot) (trigger, error) { return trigSubmit, nil },
		func(s *Snapshot) {
			clearRun(s)
			s.Mode = ModeAsync
			s.Message = "Submitting dubbing job"
		},
	)
	if err != nil {
		return m.Snapshot(), err
	}
	span.SetAttributes(
		attribute.String(telemetry.VideoIDKey, req.VideoID),
		attribute.StringSlice(telemetry.DubLanguagesKey, req.TargetLanguages),
	)

	opCtx, done := m.opContext(log.ContextWithVideoID(ctx, req.VideoID), gen)
	jobID, err := m.backend.CreateJob(opCtx, req)
	done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if cerr := m.currentLocked(gen); cerr != nil {
		return m.snap, cerr
	}
	if err != nil {
		recordSpanError(span, "start_job", err)
		m.requestFailedLocked("Could not start dubbing job: ", err)
		return m.snap, err
	}

	span.SetAttributes(telemetry.JobAttributes(jobID, "")...)
	m.snap.JobID = jobID
	m.attachLocked(gen, jobID)
	return m.snap, nil
}

// Wait blocks until the current conversion or job is terminal. A failed job
// returns *JobFailure; with nothing in flight it returns ErrNoActiveJob.
func (m *Machine) Wait(ctx context.Context) (Snapshot, error) {
	for {
		m.mu.Lock()
		snap, changed, closed := m.snap, m.changed, m.closed
		m.mu.Unlock()

		switch {
		case snap.State == StateSucceeded:
			return snap, nil
		case snap.State == StateFailed:
			return snap, &JobFailure{JobID: snap.JobID, Detail: snap.Reason}
		case closed:
			return snap, ErrClosed
		case !snap.State.Busy():
			if snap.Err != nil {
				return snap, snap.Err
			}
			return snap, ErrNoActiveJob
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-m.ctx.Done():
			return m.Snapshot(), ErrClosed
		}
	}
}

// Reset cancels any running poll loop and in-flight request and returns to
// StateIdle. The learned conversion mode is kept.
func (m *Machine) Reset() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	from := m.snap.State
	m.gen++
	cancelOps := m.renewOpsLocked()
	old := m.handle
	m.handle = nil
	m.table.Reset(StateIdle)
	m.snap = Snapshot{
		State:      StateIdle,
		Mode:       m.convMode,
		Message:    "Select a video to upload",
		Generation: m.gen,
		UpdatedAt:  time.Now(),
	}
	m.transitionedLocked(from, StateIdle)
	m.mu.Unlock()

	cancelOps()
	if old != nil {
		old.Cancel()
	}
}

// Close cancels polling and in-flight requests. No job update is applied
// after it returns. It is idempotent.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.gen++
	old := m.handle
	m.handle = nil
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()

	if old != nil {
		old.Cancel()
		<-old.Done()
	}
	m.cancel()
	m.events.close()
	return nil
}

// begin validates and enters the request state of an operation, supersedes
// the previous generation and cancels its poll loop.
func (m *Machine) begin(op string, choose func(Snapshot) (trigger, error), enter func(*Snapshot)) (uint64, Snapshot, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, Snapshot{}, ErrClosed
	}
	t, err := choose(m.snap)
	if err != nil {
		m.mu.Unlock()
		return 0, Snapshot{}, err
	}
	if !m.table.Can(t) {
		state := m.snap.State
		m.mu.Unlock()
		return 0, Snapshot{}, notAllowed(op, state)
	}

	m.gen++
	gen := m.gen
	cancelOps := m.renewOpsLocked()
	old := m.handle
	m.handle = nil
	m.snap.Generation = gen
	enter(&m.snap)
	_ = m.fireLocked(t)
	snap := m.snap
	m.mu.Unlock()

	cancelOps()

	if old != nil {
		m.logger.Debug().Str(log.FieldJobID, old.JobID()).Str(log.FieldOperation, op).Msg("superseding poll loop")
		old.Cancel()
	}
	return gen, snap, nil
}

// reject records a validation failure without changing state.
func (m *Machine) reject(prefix string, err error) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return m.snap, ErrClosed
	}
	m.snap.Err = err
	m.snap.Message = prefix + err.Error()
	m.snap.UpdatedAt = time.Now()
	return m.snap, err
}

func (m *Machine) currentLocked(gen uint64) error {
	if m.closed {
		return ErrClosed
	}
	if gen != m.gen {
		return ErrSuperseded
	}
	return nil
}

func (m *Machine) requestFailedLocked(prefix string, err error) {
	m.snap.Err = err
	m.snap.JobID = ""
	m.snap.Message = prefix + err.Error()
	_ = m.fireLocked(trigRequestFailed)
}

// attachLocked enters StatePolling and starts the poll loop for jobID.
func (m *Machine) attachLocked(gen uint64, jobID string) {
	m.snap.Message = "Waiting for job " + jobID
	_ = m.fireLocked(trigAttach)

	pollCtx := log.ContextWithJobID(log.ContextWithVideoID(m.ctx, m.snap.Resource.ID), jobID)
	m.handle = m.poller.Watch(pollCtx, jobID, jobs.Callbacks{
		OnUpdate: func(j jobs.Job) { m.onJobUpdate(gen, j) },
		OnError:  func(e *jobs.TransientPollError) { m.onPollError(gen, e) },
	})
	m.logger.Info().
		Str(log.FieldJobID, jobID).
		Uint64(log.FieldGeneration, gen).
		Msg("polling job")
}

func (m *Machine) onJobUpdate(gen uint64, job jobs.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		metrics.StaleUpdates.Inc()
		m.logger.Debug().
			Str(log.FieldJobID, job.ID).
			Uint64(log.FieldGeneration, gen).
			Msg("dropping update from superseded job")
		return
	}

	m.snap.Job = job
	m.snap.UpdatedAt = time.Now()
	m.events.publish(Event{Kind: EventJobUpdate, Job: job, From: m.snap.State, To: m.snap.State, Generation: gen, At: m.snap.UpdatedAt})

	switch job.State {
	case jobs.StateSuccess:
		m.handle = nil
		m.snap.ArtifactURL = m.backend.ResolveURL(job.Meta.URL)
		m.snap.Message = "Job " + job.ID + " finished"
		_ = m.fireLocked(trigJobSucceeded)
		m.logger.Info().
			Str(log.FieldJobID, job.ID).
			Str(log.FieldArtifactURL, m.snap.ArtifactURL).
			Msg("job succeeded")
	case jobs.StateFailure:
		m.handle = nil
		m.snap.Reason = job.FailureDetail()
		m.snap.Err = &JobFailure{JobID: job.ID, Detail: m.snap.Reason}
		m.snap.Message = "Job failed: " + m.snap.Reason
		_ = m.fireLocked(trigJobFailed)
		m.logger.Warn().
			Str(log.FieldJobID, job.ID).
			Str("detail", m.snap.Reason).
			Msg("job failed")
	default:
		m.snap.Message = progressMessage(job)
	}
}

func (m *Machine) onPollError(gen uint64, perr *jobs.TransientPollError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		return
	}
	m.events.publish(Event{
		Kind:       EventPollError,
		From:       m.snap.State,
		To:         m.snap.State,
		Err:        perr,
		Message:    m.snap.Message,
		Generation: gen,
		At:         time.Now(),
	})
}

func (m *Machine) fireLocked(t trigger) error {
	from := m.table.State()
	to, err := m.table.Fire(context.Background(), t)
	if err != nil {
		m.logger.Error().Err(err).Str(log.FieldOldState, from.String()).Msg("rejected transition")
		return err
	}
	m.snap.State = to
	m.snap.UpdatedAt = time.Now()
	m.transitionedLocked(from, to)
	return nil
}

func (m *Machine) transitionedLocked(from, to State) {
	metrics.RecordTransition(from.String(), to.String())
	m.logger.Debug().
		Str(log.FieldOldState, from.String()).
		Str(log.FieldNewState, to.String()).
		Uint64(log.FieldGeneration, m.gen).
		Msg("workflow transition")

	close(m.changed)
	m.changed = make(chan struct{})
	m.events.publish(Event{
		Kind:       EventTransition,
		From:       from,
		To:         to,
		Message:    m.snap.Message,
		Generation: m.gen,
		At:         m.snap.UpdatedAt,
	})
}

// renewOpsLocked starts a new request scope for the next generation and
// returns the cancel func of the previous one. Call it outside the mutex.
func (m *Machine) renewOpsLocked() context.CancelFunc {
	prev := m.opCancel
	m.opBase, m.opCancel = context.WithCancel(m.ctx)
	return prev
}

// opContext ends ctx when generation gen is superseded or the machine closes.
func (m *Machine) opContext(ctx context.Context, gen uint64) (context.Context, func()) {
	m.mu.Lock()
	base, current := m.opBase, gen == m.gen
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	if !current {
		cancel()
		return ctx, cancel
	}
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// clearRun drops the results of the previous conversion or job.
func clearRun(s *Snapshot) {
	s.JobID = ""
	s.Job = jobs.Job{}
	s.ArtifactURL = ""
	s.Reason = ""
	s.Err = nil
}

func progressMessage(job jobs.Job) string {
	switch {
	case job.Meta.Step != "":
		return fmt.Sprintf("Job %s: %s", job.ID, job.Meta.Step)
	case job.State == jobs.StatePending:
		return "Job " + job.ID + " is waiting for a worker"
	default:
		return fmt.Sprintf("Job %s: %s", job.ID, job.State)
	}
}

func displayName(res backend.Resource, path string) string {
	name := res.Filename
	if name == "" {
		name = filepath.Base(path)
	}
	return fmt.Sprintf("%s as %s", name, res.ID)
}

func recordSpanError(span trace.Span, errType string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(telemetry.ErrorAttributes(errType)...)
}
