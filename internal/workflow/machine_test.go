// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuGH/opendub/internal/backend"
	"github.com/ManuGH/opendub/internal/convert"
	"github.com/ManuGH/opendub/internal/jobs"
	"github.com/ManuGH/opendub/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMachine_InitialState(t *testing.T) {
	m := newFakeMachine(t, newFakeBackend())
	snap := m.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, ModeUnknown, snap.Mode)
	assert.NotEmpty(t, snap.Message)
}

func TestMachine_SelectFileKeepsState(t *testing.T) {
	m := newFakeMachine(t, newFakeBackend())
	require.NoError(t, m.SelectFile("/videos/clip.mp4"))
	snap := m.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, "/videos/clip.mp4", snap.File)

	assert.ErrorIs(t, m.SelectFile(""), ErrNoFile)
}

func TestMachine_OperationsRejectedInWrongState(t *testing.T) {
	m := newFakeMachine(t, newFakeBackend())

	_, err := m.Upload(context.Background())
	assert.ErrorIs(t, err, ErrNoFile)

	_, err = m.Convert(context.Background(), convert.Params{Format: "wav"})
	assert.ErrorIs(t, err, ErrNotAllowed)

	_, err = m.StartJob(context.Background(), convert.DubParams{VideoID: "v", TargetLanguages: []string{"es"}})
	assert.ErrorIs(t, err, ErrNotAllowed)

	assert.Equal(t, StateIdle, m.Snapshot().State)
}

func TestMachine_UploadFailureReturnsToIdle(t *testing.T) {
	f := newFakeBackend()
	f.uploadErr = &backend.UploadError{Status: 413}
	m := newFakeMachine(t, f)
	require.NoError(t, m.SelectFile("/videos/clip.mp4"))

	_, err := m.Upload(context.Background())
	var upErr *backend.UploadError
	require.ErrorAs(t, err, &upErr)

	snap := m.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Contains(t, snap.Message, "413")
	assert.Equal(t, "/videos/clip.mp4", snap.File, "file stays selected for a retry")
}

func TestMachine_SyncConversion(t *testing.T) {
	m := newFakeMachine(t, newFakeBackend())
	uploaded(t, m)

	snap, err := m.Convert(context.Background(), convert.Params{Format: "wav", SampleRate: "16000", Channels: "1"})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, snap.State)
	assert.Equal(t, ModeSync, snap.Mode)
	assert.Equal(t, "http://backend.test/api/assets/audio/vid-1.wav", snap.ArtifactURL)

	final, err := m.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, snap.ArtifactURL, final.ArtifactURL)
}

func TestMachine_ConversionFailureReturnsToUploaded(t *testing.T) {
	f := newFakeBackend()
	f.convert = func(string, convert.Request) (backend.ConversionResult, error) {
		return backend.ConversionResult{}, &backend.RequestCreationError{Operation: "convert_audio", Status: 500, Err: backend.ErrUpstreamError}
	}
	m := newFakeMachine(t, f)
	uploaded(t, m)

	_, err := m.Convert(context.Background(), convert.Params{Format: "mp3"})
	var rcErr *backend.RequestCreationError
	require.ErrorAs(t, err, &rcErr)

	snap := m.Snapshot()
	assert.Equal(t, StateUploaded, snap.State)
	assert.Equal(t, "vid-1", snap.Resource.ID)
	assert.Contains(t, snap.Message, "Conversion failed")

	_, err = m.Wait(waitCtx(t))
	assert.ErrorAs(t, err, &rcErr, "Wait reports the last failure when nothing runs")
}

func TestMachine_InvalidParamsKeepState(t *testing.T) {
	m := newFakeMachine(t, newFakeBackend())
	uploaded(t, m)

	_, err := m.Convert(context.Background(), convert.Params{Format: "flac"})
	assert.ErrorIs(t, err, convert.ErrInvalid)
	assert.Equal(t, StateUploaded, m.Snapshot().State)
	assert.Contains(t, m.Snapshot().Message, "Invalid conversion settings")
}

func TestMachine_AsyncConversionLearnsMode(t *testing.T) {
	f := newFakeBackend()
	f.convert = func(string, convert.Request) (backend.ConversionResult, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := f.jobIDs[0]
		f.jobIDs = f.jobIDs[1:]
		return backend.ConversionResult{Kind: backend.ResultQueued, JobID: id}, nil
	}
	done := jobs.Job{State: jobs.StateSuccess, Meta: jobs.Meta{URL: "/api/assets/audio/vid-1.mp3"}}
	f.queueJob("job-1", script("job-1", jobs.Job{State: jobs.StatePending}, done))
	f.queueJob("job-2", script("job-2", done))

	m := newFakeMachine(t, f)
	events, unsubscribe := m.Subscribe(256)
	defer unsubscribe()
	uploaded(t, m)

	snap, err := m.Convert(context.Background(), convert.Params{Format: "mp3"})
	require.NoError(t, err)
	assert.Equal(t, StatePolling, snap.State)
	assert.Equal(t, ModeAsync, snap.Mode)
	assert.Equal(t, "job-1", snap.JobID)

	final, err := m.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, final.State)
	assert.Equal(t, "http://backend.test/api/assets/audio/vid-1.mp3", final.ArtifactURL)

	// The learned mode routes the next conversion straight to Queued.
	_, err = m.Convert(context.Background(), convert.Params{Format: "mp3"})
	require.NoError(t, err)
	_, err = m.Wait(waitCtx(t))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	var path []State
	for _, ev := range drain(events) {
		if ev.Kind == EventTransition && ev.From != ev.To {
			path = append(path, ev.To)
		}
	}
	assert.Equal(t, []State{
		StateUploading, StateUploaded,
		StateConverting, StateQueued, StatePolling, StateSucceeded,
		StateQueued, StatePolling, StateSucceeded,
	}, path)
}

func TestMachine_JobFailure(t *testing.T) {
	f := newFakeBackend()
	f.queueJob("job-1", script("job-1",
		jobs.Job{State: jobs.StateStarted, Meta: jobs.Meta{Step: "tts:es"}},
		jobs.Job{State: jobs.StateFailure},
	))
	m := newFakeMachine(t, f)
	uploaded(t, m)

	_, err := m.StartJob(context.Background(), convert.DubParams{TargetLanguages: []string{"es"}})
	require.NoError(t, err)

	snap, err := m.Wait(waitCtx(t))
	var failure *JobFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "job-1", failure.JobID)
	assert.Equal(t, jobs.DefaultFailureDetail, failure.Detail)
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, jobs.DefaultFailureDetail, snap.Reason)
}

func TestMachine_TransientPollErrorsKeepPolling(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFakeBackend()
	f.queueJob("job-1", func(n int) (jobs.Job, error) {
		if n <= 2 {
			return jobs.Job{}, backend.ErrUpstreamUnavailable
		}
		return jobs.Job{ID: "job-1", State: jobs.StateSuccess}, nil
	})
	p := jobs.NewPoller(f, jobs.WithInterval(testInterval))
	m := New(f, p, nil)
	events, _ := m.Subscribe(64)
	require.NoError(t, m.UseResource(backend.Resource{ID: "vid-9"}))

	_, err := m.StartJob(context.Background(), convert.DubParams{TargetLanguages: []string{"de"}})
	require.NoError(t, err)
	snap, err := m.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, snap.State)
	assert.Empty(t, snap.ArtifactURL, "dubbing results may carry no url")
	require.NoError(t, m.Close())

	var pollErrors int
	for _, ev := range drain(events) {
		if ev.Kind == EventPollError {
			pollErrors++
			assert.Equal(t, StatePolling, ev.To)
			assert.ErrorIs(t, ev.Err, backend.ErrUpstreamUnavailable)
		}
		assert.NotEqual(t, StateFailed, ev.To)
	}
	assert.Equal(t, 2, pollErrors)
}

func TestMachine_NewJobSupersedesRunningJob(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFakeBackend()
	f.queueJob("job-A", script("job-A", jobs.Job{State: jobs.StateStarted, Meta: jobs.Meta{Step: "transcribe"}}))
	f.queueJob("job-B", script("job-B",
		jobs.Job{State: jobs.StatePending},
		jobs.Job{State: jobs.StateSuccess, Meta: jobs.Meta{URL: "/b.wav"}},
	))
	p := jobs.NewPoller(f, jobs.WithInterval(testInterval))
	m := New(f, p, nil)
	events, _ := m.Subscribe(4096)
	uploaded(t, m)

	_, err := m.StartJob(context.Background(), convert.DubParams{TargetLanguages: []string{"es"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.pollCount("job-A") >= 3 }, 5*time.Second, time.Millisecond)

	started, err := m.StartJob(context.Background(), convert.DubParams{TargetLanguages: []string{"fr"}})
	require.NoError(t, err)
	final, err := m.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "job-B", final.JobID)
	assert.Equal(t, "http://backend.test/b.wav", final.ArtifactURL)

	pollsA := f.pollCount("job-A")
	time.Sleep(10 * testInterval)
	assert.Equal(t, pollsA, f.pollCount("job-A"), "superseded loop must stop polling")
	require.NoError(t, m.Close())

	var seenA, afterB int
	cutover := false
	for _, ev := range drain(events) {
		if ev.Generation >= started.Generation {
			cutover = true
		}
		if ev.Kind == EventJobUpdate && ev.Job.ID == "job-A" {
			seenA++
			if cutover {
				afterB++
			}
		}
	}
	assert.Positive(t, seenA)
	assert.Zero(t, afterB, "no job A update may be observed once job B started")
}

func TestMachine_ResetStopsPolling(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFakeBackend()
	f.queueJob("job-1", script("job-1", jobs.Job{State: jobs.StateStarted}))
	p := jobs.NewPoller(f, jobs.WithInterval(testInterval))
	m := New(f, p, nil)
	uploaded(t, m)

	_, err := m.StartJob(context.Background(), convert.DubParams{TargetLanguages: []string{"es"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.pollCount("job-1") >= 2 }, 5*time.Second, time.Millisecond)

	m.Reset()
	snap := m.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.JobID)
	assert.Empty(t, snap.Resource.ID)

	polls := f.pollCount("job-1")
	time.Sleep(10 * testInterval)
	assert.Equal(t, polls, f.pollCount("job-1"))
	assert.Equal(t, StateIdle, m.Snapshot().State)

	_, err = m.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrNoActiveJob)
	require.NoError(t, m.Close())
}

func TestMachine_ResetSupersedesInFlightUpload(t *testing.T) {
	f := newFakeBackend()
	f.uploadGate = make(chan struct{})
	m := newFakeMachine(t, f)
	require.NoError(t, m.SelectFile("/videos/clip.mp4"))

	errc := make(chan error, 1)
	go func() {
		_, err := m.Upload(context.Background())
		errc <- err
	}()
	require.Eventually(t, func() bool { return m.Snapshot().State == StateUploading }, 5*time.Second, time.Millisecond)
	assert.ErrorIs(t, m.SelectFile("/videos/other.mp4"), ErrNotAllowed)

	// The gate stays closed: only cancellation can end the request.
	m.Reset()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("reset did not cancel the in-flight upload")
	}
	assert.ErrorIs(t, f.uploadAbandoned(), context.Canceled)
	assert.Equal(t, StateIdle, m.Snapshot().State)
	assert.Empty(t, m.Snapshot().Resource.ID)
}

func TestMachine_CloseCancelsInFlightUpload(t *testing.T) {
	f := newFakeBackend()
	f.uploadGate = make(chan struct{})
	m := newFakeMachine(t, f)
	require.NoError(t, m.SelectFile("/videos/clip.mp4"))

	errc := make(chan error, 1)
	go func() {
		_, err := m.Upload(context.Background())
		errc <- err
	}()
	require.Eventually(t, func() bool { return m.Snapshot().State == StateUploading }, 5*time.Second, time.Millisecond)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, <-errc, ErrClosed)
	require.NoError(t, m.Close(), "close is idempotent")

	_, err := m.Convert(context.Background(), convert.Params{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMachine_WaitHonoursContext(t *testing.T) {
	f := newFakeBackend()
	f.queueJob("job-1", script("job-1", jobs.Job{State: jobs.StatePending}))
	m := newFakeMachine(t, f)
	uploaded(t, m)
	_, err := m.StartJob(context.Background(), convert.DubParams{TargetLanguages: []string{"es"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	snap, err := m.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatePolling, snap.State)
}

func TestMachine_WaitReturnsOnClose(t *testing.T) {
	f := newFakeBackend()
	f.queueJob("job-1", script("job-1", jobs.Job{State: jobs.StatePending}))
	m := newFakeMachine(t, f)
	uploaded(t, m)
	_, err := m.StartJob(context.Background(), convert.DubParams{TargetLanguages: []string{"es"}})
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Wait(context.Background())
		errc <- err
	}()
	require.NoError(t, m.Close())
	assert.ErrorIs(t, <-errc, ErrClosed)
}

func TestMachine_ProgressMessages(t *testing.T) {
	f := newFakeBackend()
	f.queueJob("job-1", script("job-1",
		jobs.Job{State: jobs.StatePending},
		jobs.Job{State: jobs.StateStarted, Meta: jobs.Meta{Step: "translate:es"}},
	))
	m := newFakeMachine(t, f)
	uploaded(t, m)
	_, err := m.StartJob(context.Background(), convert.DubParams{TargetLanguages: []string{"es"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Snapshot().Message == "Job job-1: translate:es"
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, "translate:es", m.Snapshot().Job.Meta.Step)
}

func TestMachine_SlowSubscriberDropsEvents(t *testing.T) {
	m := newFakeMachine(t, newFakeBackend())
	events, unsubscribe := m.Subscribe(1)
	defer unsubscribe()

	before := testutil.ToFloat64(metrics.DroppedEvents)
	uploaded(t, m)

	assert.Len(t, events, 1)
	assert.Greater(t, testutil.ToFloat64(metrics.DroppedEvents), before)
}

func TestMachine_UnsubscribeClosesChannel(t *testing.T) {
	m := newFakeMachine(t, newFakeBackend())
	events, unsubscribe := m.Subscribe(0)
	unsubscribe()
	unsubscribe()

	_, ok := <-events
	assert.False(t, ok)

	require.NoError(t, m.Close())
	late, _ := m.Subscribe(0)
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}

func TestJobFailure_Error(t *testing.T) {
	err := error(&JobFailure{JobID: "j1", Detail: "codec error"})
	assert.Equal(t, "job j1 failed: codec error", err.Error())

	var jf *JobFailure
	assert.True(t, errors.As(err, &jf))
}
