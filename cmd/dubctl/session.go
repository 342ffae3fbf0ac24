// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ManuGH/opendub/internal/backend"
	"github.com/ManuGH/opendub/internal/history"
	"github.com/ManuGH/opendub/internal/jobs"
	"github.com/ManuGH/opendub/internal/log"
	"github.com/ManuGH/opendub/internal/workflow"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// session is one workflow run: a client, a machine and optional progress
// output and history recording.
type session struct {
	client  *backend.Client
	machine *workflow.Machine
	history *history.Store
	logger  zerolog.Logger
	console *console

	progressDone chan struct{}
}

func (c *commandContext) openSession(cmd *cobra.Command) (*session, error) {
	client, err := c.newClient()
	if err != nil {
		return nil, err
	}
	s := &session{
		client:  client,
		logger:  log.WithComponentFromContext(cmd.Context(), "cli"),
		console: newConsole(cmd.ErrOrStderr()),
	}
	s.machine = workflow.New(client, c.newPoller(client), c.newBuilder(),
		workflow.WithParent(cmd.Context()))

	store, err := c.openHistory()
	if err != nil {
		s.logger.Warn().Err(err).Msg("history disabled for this run")
	}
	s.history = store

	if !c.flags.quiet {
		s.watch()
	}
	return s, nil
}

// watch prints status lines as the machine moves.
func (s *session) watch() {
	// The channel closes with the machine.
	events, _ := s.machine.Subscribe(0)
	s.progressDone = make(chan struct{})

	go func() {
		defer close(s.progressDone)
		for ev := range events {
			s.console.progress(progressLine(ev))
		}
		s.console.finish()
	}()
}

func progressLine(ev workflow.Event) string {
	switch ev.Kind {
	case workflow.EventTransition:
		return ev.Message
	case workflow.EventJobUpdate:
		if ev.Job.Terminal() {
			return ""
		}
		if ev.Job.Meta.Step != "" {
			return fmt.Sprintf("Job %s: %s", ev.Job.ID, ev.Job.Meta.Step)
		}
		return fmt.Sprintf("Job %s: %s", ev.Job.ID, strings.ToLower(ev.Job.State.String()))
	case workflow.EventPollError:
		return fmt.Sprintf("%s (retrying: %v)", ev.Message, ev.Err)
	default:
		return ""
	}
}

// Close stops the machine and waits for progress output to drain.
func (s *session) Close() {
	_ = s.machine.Close()
	if s.progressDone != nil {
		<-s.progressDone
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close history")
		}
	}
}

// prepare puts the machine in StateUploaded, uploading path or adopting videoID.
func (s *session) prepare(ctx context.Context, path, videoID string) (backend.Resource, error) {
	if videoID != "" {
		res := backend.Resource{ID: videoID}
		return res, s.machine.UseResource(res)
	}
	if err := s.machine.SelectFile(path); err != nil {
		return backend.Resource{}, err
	}
	return s.machine.Upload(ctx)
}

// record stores the outcome of a finished run. A run that ended with runErr
// outside a terminal state is stored as failed. Store errors are logged only.
func (s *session) record(ctx context.Context, run history.Run, snap workflow.Snapshot, runErr error) {
	if s.history == nil || snap.Resource.ID == "" {
		return
	}
	run.File = snap.File
	run.VideoID = snap.Resource.ID
	run.JobID = snap.JobID
	run.Mode = snap.Mode.String()
	run.State = snap.State.String()
	run.ArtifactURL = snap.ArtifactURL
	run.Detail = snap.Reason
	if runErr != nil {
		if !snap.State.Terminal() {
			run.State = workflow.StateFailed.String()
		}
		if run.Detail == "" {
			run.Detail = runErr.Error()
		}
	}
	run.FinishedAt = time.Now()

	stored, err := s.history.Record(context.WithoutCancel(ctx), run)
	if err != nil {
		s.logger.Warn().Err(err).Msg("record history")
		return
	}
	s.logger.Debug().Str(log.FieldRunID, stored.ID).Str(log.FieldJobID, stored.JobID).Msg("run recorded")
}

// wait follows a queued conversion or job. Interrupts surface as
// context.Canceled so the job id can be reported for a later status call.
func (s *session) wait(ctx context.Context, snap workflow.Snapshot) (workflow.Snapshot, error) {
	if !snap.State.Busy() {
		return snap, nil
	}
	final, err := s.machine.Wait(ctx)
	if cerr := ctx.Err(); cerr != nil && final.JobID != "" {
		return final, fmt.Errorf("stopped waiting for job %s (resume with `dubctl status --watch %s`): %w",
			final.JobID, final.JobID, cerr)
	}
	return final, err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func jobStateLabel(s jobs.State) string {
	if s == "" {
		return "-"
	}
	return s.String()
}
