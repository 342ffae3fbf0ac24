// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"fmt"
)

// DefaultFailureDetail is reported when a failed job carries no detail.
const DefaultFailureDetail = "job failed"

// Meta is the typed projection of the backend job meta object.
// Which fields are set depends on the job kind and its progress.
type Meta struct {
	// Conversion result.
	URL      string
	Filename string
	Format   string

	// Failure detail or progress step.
	Detail string
	Step   string

	// Dubbing result.
	Transcript   string
	Translations []string
	Dubs         []string

	Raw map[string]any
}

// Job is a read-only snapshot of a backend job.
type Job struct {
	ID    string
	State State
	Meta  Meta
}

// Terminal reports whether the job reached SUCCESS or FAILURE.
func (j Job) Terminal() bool { return j.State.IsTerminal() }

// FailureDetail returns the backend detail or a generic message.
func (j Job) FailureDetail() string {
	if j.Meta.Detail != "" {
		return j.Meta.Detail
	}
	return DefaultFailureDetail
}

// MetaFromMap projects a decoded meta object. Unknown keys stay in Raw.
func MetaFromMap(raw map[string]any) Meta {
	m := Meta{Raw: raw}
	if raw == nil {
		return m
	}
	m.URL = str(raw["url"])
	m.Filename = str(raw["filename"])
	m.Format = str(raw["format"])
	m.Detail = str(raw["detail"])
	m.Step = str(raw["step"])
	m.Transcript = str(raw["transcript"])
	m.Translations = strs(raw["translations"])
	m.Dubs = strs(raw["dubs"])
	return m
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func strs(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := str(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}
