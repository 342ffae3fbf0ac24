// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package convert turns user input into backend request bodies.
package convert

// Supported output formats.
const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// Request is the audio extraction body sent to the backend.
// Bitrate is set for mp3 and empty for every other format.
type Request struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Bitrate    string `json:"bitrate,omitempty"`
}

// JobRequest is the dubbing job body. Empty engines let the backend choose.
type JobRequest struct {
	VideoID             string   `json:"video_id"`
	TargetLanguages     []string `json:"target_languages"`
	TranscriptionEngine string   `json:"transcription_engine,omitempty"`
	TranslationEngine   string   `json:"translation_engine,omitempty"`
	TTSEngine           string   `json:"tts_engine,omitempty"`
}
