// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"errors"
	"fmt"
)

// ErrPollStopped is returned by Await when polling ended before a terminal state.
var ErrPollStopped = errors.New("polling stopped before job finished")

// TransientPollError wraps a failed status fetch. Polling continues after it.
type TransientPollError struct {
	JobID string
	Err   error
}

func (e *TransientPollError) Error() string {
	return fmt.Sprintf("poll job %s: %v", e.JobID, e.Err)
}

func (e *TransientPollError) Unwrap() error { return e.Err }
