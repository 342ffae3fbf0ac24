// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/opendub/internal/backend"
	"github.com/ManuGH/opendub/internal/convert"
	"github.com/ManuGH/opendub/internal/jobs"
	"github.com/stretchr/testify/require"
)

const testInterval = 2 * time.Millisecond

// statusFunc answers the n-th poll (starting at 1) of a job.
type statusFunc func(n int) (jobs.Job, error)

// fakeBackend is an in-memory Backend and StatusFetcher.
type fakeBackend struct {
	mu         sync.Mutex
	uploadGate chan struct{}
	uploadErr  error
	// uploadCtxErr is the context error an upload gave up on.
	uploadCtxErr error
	convert      func(videoID string, req convert.Request) (backend.ConversionResult, error)
	jobIDs       []string
	statuses     map[string]statusFunc
	polls        map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		statuses: make(map[string]statusFunc),
		polls:    make(map[string]int),
	}
}

func (f *fakeBackend) UploadFile(ctx context.Context, path string) (backend.Resource, error) {
	f.mu.Lock()
	gate, err := f.uploadGate, f.uploadErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.mu.Lock()
			f.uploadCtxErr = ctx.Err()
			f.mu.Unlock()
			return backend.Resource{}, ctx.Err()
		}
	}
	if err != nil {
		return backend.Resource{}, err
	}
	return backend.Resource{ID: "vid-1", Filename: "clip.mp4"}, nil
}

func (f *fakeBackend) ConvertAudio(_ context.Context, videoID string, req convert.Request) (backend.ConversionResult, error) {
	f.mu.Lock()
	fn := f.convert
	f.mu.Unlock()
	if fn == nil {
		return backend.ConversionResult{Kind: backend.ResultImmediate, URL: "/api/assets/audio/" + videoID + "." + req.Format}, nil
	}
	return fn(videoID, req)
}

func (f *fakeBackend) CreateJob(context.Context, convert.JobRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobIDs) == 0 {
		return "", fmt.Errorf("no job queued")
	}
	id := f.jobIDs[0]
	f.jobIDs = f.jobIDs[1:]
	return id, nil
}

func (f *fakeBackend) ResolveURL(ref string) string {
	if ref == "" {
		return ""
	}
	return "http://backend.test" + ref
}

func (f *fakeBackend) JobStatus(_ context.Context, jobID string) (jobs.Job, error) {
	f.mu.Lock()
	f.polls[jobID]++
	n := f.polls[jobID]
	fn := f.statuses[jobID]
	f.mu.Unlock()
	if fn == nil {
		return jobs.Job{ID: jobID, State: jobs.StatePending}, nil
	}
	return fn(n)
}

func (f *fakeBackend) queueJob(id string, fn statusFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobIDs = append(f.jobIDs, id)
	f.statuses[id] = fn
}

func (f *fakeBackend) uploadAbandoned() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploadCtxErr
}

func (f *fakeBackend) pollCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[id]
}

// script returns the states in order and repeats the last one.
func script(id string, steps ...jobs.Job) statusFunc {
	return func(n int) (jobs.Job, error) {
		i := min(n-1, len(steps)-1)
		j := steps[i]
		j.ID = id
		return j, nil
	}
}

func newFakeMachine(t *testing.T, f *fakeBackend) *Machine {
	t.Helper()
	p := jobs.NewPoller(f, jobs.WithInterval(testInterval))
	m := New(f, p, convert.NewBuilder(convert.DefaultDefaults))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func uploaded(t *testing.T, m *Machine) {
	t.Helper()
	require.NoError(t, m.SelectFile("/videos/clip.mp4"))
	_, err := m.Upload(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateUploaded, m.Snapshot().State)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// drain collects events until the channel closes.
func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}
