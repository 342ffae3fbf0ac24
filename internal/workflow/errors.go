// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAllowed is returned when an operation does not apply to the current state.
	ErrNotAllowed = errors.New("workflow: operation not allowed in current state")
	// ErrNoFile is returned by Upload before a file was selected.
	ErrNoFile = errors.New("workflow: no file selected")
	// ErrSuperseded is returned when Reset, Close or a newer operation replaced
	// the one whose result just arrived.
	ErrSuperseded = errors.New("workflow: operation superseded")
	// ErrNoActiveJob is returned by Wait when nothing is in flight.
	ErrNoActiveJob = errors.New("workflow: no conversion or job in progress")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("workflow: machine closed")
)

// JobFailure is a backend-reported terminal failure.
type JobFailure struct {
	JobID  string
	Detail string
}

func (e *JobFailure) Error() string {
	if e.JobID == "" {
		return "job failed: " + e.Detail
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Detail)
}

func notAllowed(op string, state State) error {
	return fmt.Errorf("%w: %s while %s", ErrNotAllowed, op, state)
}
