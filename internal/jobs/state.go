// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jobs models backend jobs and polls their status until a terminal state.
package jobs

import "strings"

// State is the backend job state. Strings outside the known set are kept verbatim.
type State string

const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
)

// ParseState normalises a backend state string.
func ParseState(s string) State {
	return State(strings.ToUpper(strings.TrimSpace(s)))
}

// IsTerminal reports whether no further updates follow. Only SUCCESS and FAILURE are terminal.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure
}

func (s State) String() string { return string(s) }
