// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldJobID         = "job_id"
	FieldVideoID       = "video_id"
	FieldRunID         = "run_id"
	FieldTraceID       = "trace_id"
	FieldSpanID        = "span_id"

	// Process / workflow fields
	FieldEvent      = "event"
	FieldComponent  = "component"
	FieldOperation  = "operation"
	FieldMode       = "mode"
	FieldGeneration = "generation"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldJobState = "job_state"
	FieldStep     = "step"

	// Media fields
	FieldFormat     = "format"
	FieldSampleRate = "sample_rate"
	FieldChannels   = "channels"
	FieldBitrate    = "bitrate"
	FieldLanguages  = "target_languages"

	// Path / URL fields
	FieldPath        = "path"
	FieldBaseURL     = "base_url"
	FieldArtifactURL = "artifact_url"
	FieldStatus      = "http_status"
)
