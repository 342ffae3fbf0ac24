// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ManuGH/opendub/internal/convert"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
)

// SupportedFormats are the conversion formats the backend accepts.
var SupportedFormats = []string{convert.FormatWAV, convert.FormatMP3}

var (
	supportedExporters  = []string{"grpc", "http"}
	supportedLogFormats = []string{"auto", "json", "console", "text", "pretty"}
)

// FieldError is one invalid setting, addressed by its YAML key path.
type FieldError struct {
	Key     string
	Value   any
	Problem string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Key, e.Problem, e.Value)
}

// ValidationError lists every invalid setting found by Validate.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Has reports whether key failed validation.
func (e *ValidationError) Has(key string) bool {
	return slices.ContainsFunc(e.Fields, func(f FieldError) bool { return f.Key == key })
}

type checker struct {
	fields []FieldError
}

func (c *checker) expect(ok bool, key string, value any, problem string) {
	if !ok {
		c.fields = append(c.fields, FieldError{Key: key, Value: value, Problem: problem})
	}
}

func (c *checker) positive(key string, d time.Duration) {
	c.expect(d > 0, key, d, "must be positive")
}

func (c *checker) oneOf(key, value string, allowed []string) {
	c.expect(slices.Contains(allowed, value), key, value, "must be one of "+strings.Join(allowed, ", "))
}

// Validate reports every invalid setting in cfg as a *ValidationError.
func Validate(cfg Config) error {
	var c checker

	c.expect(validBaseURL(cfg.Backend.BaseURL), "backend.baseURL", cfg.Backend.BaseURL, "must be an absolute http(s) URL")
	c.positive("backend.timeout", cfg.Backend.Timeout)
	c.positive("backend.uploadTimeout", cfg.Backend.UploadTimeout)
	c.positive("poll.interval", cfg.Poll.Interval)

	conv := cfg.Conversion
	c.oneOf("conversion.format", conv.Format, SupportedFormats)
	c.expect(conv.SampleRate > 0, "conversion.sampleRate", conv.SampleRate, "must be positive")
	c.expect(conv.Channels >= 1 && conv.Channels <= 8, "conversion.channels", conv.Channels, "must be between 1 and 8")
	// The builder owns the bitrate grammar.
	_, err := convert.NewBuilder(convert.DefaultDefaults).Build(convert.Params{Format: convert.FormatMP3, Bitrate: conv.MP3Bitrate})
	c.expect(conv.MP3Bitrate != "" && err == nil, "conversion.mp3Bitrate", conv.MP3Bitrate, "must look like 192k")

	for _, tag := range cfg.Dubbing.TargetLanguages {
		_, err := language.Parse(strings.TrimSpace(tag))
		c.expect(err == nil, "dubbing.targetLanguages", tag, "must be a BCP 47 language tag")
	}

	res := cfg.Resilience
	c.expect(res.BreakerThreshold > 0, "resilience.breakerThreshold", res.BreakerThreshold, "must be positive")
	c.positive("resilience.breakerReset", res.BreakerReset)
	c.expect(res.RateLimit >= 0, "resilience.rateLimit", res.RateLimit, "cannot be negative")
	if res.RateLimit > 0 {
		c.expect(res.RateBurst > 0, "resilience.rateBurst", res.RateBurst, "must be positive when rateLimit is set")
	}

	_, err = zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	c.expect(err == nil && cfg.Logging.Level != "", "logging.level", cfg.Logging.Level, "must be trace, debug, info, warn or error")
	if cfg.Logging.Format != "" {
		c.oneOf("logging.format", strings.ToLower(cfg.Logging.Format), supportedLogFormats)
	}

	if cfg.History.Enabled {
		c.expect(strings.TrimSpace(cfg.History.Path) != "", "history.path", cfg.History.Path, "required when history is enabled")
	}

	if tel := cfg.Telemetry; tel.Enabled {
		c.oneOf("telemetry.exporter", tel.Exporter, supportedExporters)
		c.expect(tel.Endpoint != "", "telemetry.endpoint", tel.Endpoint, "required when telemetry is enabled")
		c.expect(tel.SamplingRate >= 0 && tel.SamplingRate <= 1, "telemetry.samplingRate", tel.SamplingRate, "must be between 0 and 1")
	}

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		_, _, err := net.SplitHostPort(addr)
		c.expect(err == nil, "metrics.listenAddr", addr, "must be host:port")
	}

	if len(c.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: c.fields}
}

func validBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https")
}
