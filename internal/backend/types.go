// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

// Resource is an uploaded video as acknowledged by the backend.
type Resource struct {
	ID       string
	Filename string
	Path     string
}

// ResultKind tags a ConversionResult.
type ResultKind int

const (
	// ResultImmediate carries an artifact URL; the conversion already finished.
	ResultImmediate ResultKind = iota + 1
	// ResultQueued carries a job id to poll.
	ResultQueued
)

func (k ResultKind) String() string {
	switch k {
	case ResultImmediate:
		return "immediate"
	case ResultQueued:
		return "queued"
	default:
		return "unknown"
	}
}

// ConversionResult is the resolved shape of a conversion response.
// URL is set for ResultImmediate and JobID for ResultQueued.
type ConversionResult struct {
	Kind  ResultKind
	URL   string
	JobID string
}

// Assets lists the files the backend produced for one video.
type Assets struct {
	Transcripts  []string `json:"transcripts"`
	Translations []string `json:"translations"`
	Dubs         []string `json:"dubs"`
}

// Health is the backend liveness report.
type Health struct {
	Status  string            `json:"status"`
	Env     string            `json:"env"`
	Engines map[string]string `json:"engines"`
}

// Wire shapes.

type uploadResponse struct {
	VideoID  string `json:"video_id"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

type convertResponse struct {
	URL   string `json:"url"`
	JobID string `json:"job_id"`
}

type createJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type jobStatusResponse struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
	Meta  any    `json:"meta"`
}
