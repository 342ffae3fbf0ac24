// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by opendub spans.
const (
	VideoIDKey        = "opendub.video.id"
	JobIDKey          = "opendub.job.id"
	JobStateKey       = "opendub.job.state"
	WorkflowStateKey  = "opendub.workflow.state"
	WorkflowModeKey   = "opendub.workflow.mode"
	ConvFormatKey     = "opendub.conversion.format"
	ConvSampleRateKey = "opendub.conversion.sample_rate"
	ConvChannelsKey   = "opendub.conversion.channels"
	ConvBitrateKey    = "opendub.conversion.bitrate"
	DubLanguagesKey   = "opendub.dub.languages"
	UploadBytesKey    = "opendub.upload.bytes"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// ConversionAttributes describes a conversion request.
func ConversionAttributes(videoID, format string, sampleRate, channels int, bitrate string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(VideoIDKey, videoID),
		attribute.String(ConvFormatKey, format),
		attribute.Int(ConvSampleRateKey, sampleRate),
		attribute.Int(ConvChannelsKey, channels),
	}
	if bitrate != "" {
		attrs = append(attrs, attribute.String(ConvBitrateKey, bitrate))
	}
	return attrs
}

// JobAttributes describes a backend job. Empty values are omitted.
func JobAttributes(jobID, state string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if jobID != "" {
		attrs = append(attrs, attribute.String(JobIDKey, jobID))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(JobStateKey, state))
	}
	return attrs
}

// ErrorAttributes marks a span as failed with a short error class.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
