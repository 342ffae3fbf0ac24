// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package workflow

import (
	"github.com/ManuGH/opendub/internal/fsm"
)

// State is the observable workflow state.
type State string

const (
	StateIdle       State = "idle"
	StateUploading  State = "uploading"
	StateUploaded   State = "uploaded"
	StateConverting State = "converting"
	StateQueued     State = "queued"
	StatePolling    State = "polling"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

func (s State) String() string { return string(s) }

// Terminal reports whether s ends a conversion or job.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Busy reports whether a request or poll loop is in flight.
func (s State) Busy() bool {
	switch s {
	case StateUploading, StateConverting, StateQueued, StatePolling:
		return true
	default:
		return false
	}
}

// Mode is the conversion mode learned from the backend.
type Mode int

const (
	ModeUnknown Mode = iota
	// ModeSync means conversions answer with the artifact URL.
	ModeSync
	// ModeAsync means conversions answer with a job id to poll.
	ModeAsync
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	default:
		return "unknown"
	}
}

// trigger names an edge in the transition table.
type trigger string

const (
	trigSelectFile    trigger = "select_file"
	trigUpload        trigger = "upload"
	trigUploaded      trigger = "uploaded"
	trigUploadFailed  trigger = "upload_failed"
	trigAdopt         trigger = "adopt"
	trigConvert       trigger = "convert"
	trigSubmit        trigger = "submit"
	trigCompleted     trigger = "completed"
	trigQueued        trigger = "queued"
	trigRequestFailed trigger = "request_failed"
	trigAttach        trigger = "attach"
	trigJobSucceeded  trigger = "job_succeeded"
	trigJobFailed     trigger = "job_failed"
)

// stable states accept a new file, upload or request.
var stable = []State{StateUploaded, StateSucceeded, StateFailed}

func transitions() []fsm.Transition[State, trigger] {
	var t []fsm.Transition[State, trigger]
	add := func(edges ...fsm.Transition[State, trigger]) { t = append(t, edges...) }

	add(fsm.Edges(trigSelectFile, StateIdle, StateIdle)...)
	for _, s := range stable {
		add(fsm.Edges(trigSelectFile, s, s)...)
	}

	add(fsm.Edges(trigUpload, StateUploading, StateIdle, StateUploaded, StateSucceeded, StateFailed, StatePolling)...)
	add(fsm.Edges(trigUploaded, StateUploaded, StateUploading)...)
	add(fsm.Edges(trigUploadFailed, StateIdle, StateUploading)...)
	add(fsm.Edges(trigAdopt, StateUploaded, StateIdle, StateUploaded, StateSucceeded, StateFailed, StatePolling)...)

	// A running poll loop is superseded by a new request.
	add(fsm.Edges(trigConvert, StateConverting, StateUploaded, StateSucceeded, StateFailed, StatePolling)...)
	add(fsm.Edges(trigSubmit, StateQueued, StateUploaded, StateSucceeded, StateFailed, StatePolling)...)

	add(fsm.Edges(trigCompleted, StateSucceeded, StateConverting, StateQueued)...)
	add(fsm.Edges(trigQueued, StateQueued, StateConverting)...)
	add(fsm.Edges(trigRequestFailed, StateUploaded, StateConverting, StateQueued)...)
	add(fsm.Edges(trigAttach, StatePolling, StateQueued)...)

	add(fsm.Edges(trigJobSucceeded, StateSucceeded, StatePolling)...)
	add(fsm.Edges(trigJobFailed, StateFailed, StatePolling)...)
	return t
}

func newTable() *fsm.Machine[State, trigger] {
	m, err := fsm.New(StateIdle, transitions())
	if err != nil {
		// The table is static; a duplicate edge is a programming error.
		panic(err)
	}
	return m
}
