// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package convert

import (
	"regexp"
	"strconv"
	"strings"
)

// Defaults fill in values the user left out or gave in unusable form.
type Defaults struct {
	Format     string
	SampleRate int
	Channels   int
	MP3Bitrate string
}

// DefaultDefaults matches what the backend assumes for an empty body.
var DefaultDefaults = Defaults{
	Format:     FormatWAV,
	SampleRate: 16000,
	Channels:   1,
	MP3Bitrate: "192k",
}

// Params is raw user input, typically straight from flags or a form.
type Params struct {
	Format     string
	SampleRate string
	Channels   string
	Bitrate    string
}

// Builder validates and normalises conversion input. It is stateless and safe for concurrent use.
type Builder struct {
	defaults Defaults
}

// NewBuilder creates a builder. Zero fields in d fall back to DefaultDefaults.
func NewBuilder(d Defaults) *Builder {
	if d.Format == "" {
		d.Format = DefaultDefaults.Format
	}
	if d.SampleRate <= 0 {
		d.SampleRate = DefaultDefaults.SampleRate
	}
	if d.Channels <= 0 {
		d.Channels = DefaultDefaults.Channels
	}
	if d.MP3Bitrate == "" {
		d.MP3Bitrate = DefaultDefaults.MP3Bitrate
	}
	return &Builder{defaults: d}
}

var bitratePattern = regexp.MustCompile(`^[0-9]+k?$`)

// Build turns p into a request.
//   - Format must be wav or mp3; empty selects the default format.
//   - SampleRate and Channels that are not positive integers become the defaults.
//   - mp3 always carries a bitrate in kbps; an empty one becomes the default
//     and a bare number gets the "k" suffix.
//   - wav never carries a bitrate; any input is dropped.
func (b *Builder) Build(p Params) (Request, error) {
	format := strings.ToLower(strings.TrimSpace(p.Format))
	if format == "" {
		format = b.defaults.Format
	}

	req := Request{
		Format:     format,
		SampleRate: positiveOr(p.SampleRate, b.defaults.SampleRate),
		Channels:   positiveOr(p.Channels, b.defaults.Channels),
	}

	switch format {
	case FormatWAV:
	case FormatMP3:
		bitrate := strings.ToLower(strings.TrimSpace(p.Bitrate))
		if bitrate == "" {
			bitrate = b.defaults.MP3Bitrate
		}
		if !validBitrate(bitrate) {
			return Request{}, &ValidationError{Field: "bitrate", Value: p.Bitrate, Reason: "expected kbps like 192k or 192"}
		}
		if !strings.HasSuffix(bitrate, "k") {
			bitrate += "k"
		}
		req.Bitrate = bitrate
	default:
		return Request{}, &ValidationError{Field: "format", Value: p.Format, Reason: "supported formats are wav and mp3"}
	}
	return req, nil
}

func validBitrate(s string) bool {
	if !bitratePattern.MatchString(s) {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, "k"))
	return err == nil && n > 0
}

func positiveOr(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
