// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package convert

import (
	"strings"

	"golang.org/x/text/language"
)

// DubParams is raw input for a dubbing job.
type DubParams struct {
	VideoID             string
	TargetLanguages     []string
	TranscriptionEngine string
	TranslationEngine   string
	TTSEngine           string
}

// BuildJob validates a dubbing request. Language codes are trimmed and
// de-duplicated in order; the backend receives them as typed.
func (b *Builder) BuildJob(p DubParams) (JobRequest, error) {
	videoID := strings.TrimSpace(p.VideoID)
	if videoID == "" {
		return JobRequest{}, &ValidationError{Field: "video_id", Reason: "must not be empty"}
	}

	langs := normalizeLanguages(p.TargetLanguages)
	if len(langs) == 0 {
		return JobRequest{}, &ValidationError{Field: "target_languages", Reason: "at least one language is required"}
	}

	return JobRequest{
		VideoID:             videoID,
		TargetLanguages:     langs,
		TranscriptionEngine: strings.TrimSpace(p.TranscriptionEngine),
		TranslationEngine:   strings.TrimSpace(p.TranslationEngine),
		TTSEngine:           strings.TrimSpace(p.TTSEngine),
	}, nil
}

func normalizeLanguages(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		code := strings.TrimSpace(raw)
		if code == "" {
			continue
		}
		k := languageKey(code)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, code)
	}
	return out
}

// languageKey folds spellings of one language ("pt-br", "pt-BR", "iw", "he")
// to the same key. Codes that are not BCP 47 compare case-insensitively.
func languageKey(code string) string {
	if tag, err := language.Parse(code); err == nil {
		return strings.ToLower(tag.String())
	}
	return strings.ToLower(code)
}
