// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads dubctl configuration with precedence ENV > YAML file > defaults.
package config

import "time"

// Config is the effective client configuration.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Poll       PollConfig       `yaml:"poll"`
	Conversion ConversionConfig `yaml:"conversion"`
	Dubbing    DubbingConfig    `yaml:"dubbing"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Logging    LoggingConfig    `yaml:"logging"`
	History    HistoryConfig    `yaml:"history"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// Version is the build version, never read from file.
	Version string `yaml:"-"`
}

// BackendConfig addresses the dubbing backend.
type BackendConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	Timeout       time.Duration `yaml:"timeout"`
	UploadTimeout time.Duration `yaml:"uploadTimeout"`
}

// PollConfig controls job status polling.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ConversionConfig holds defaults for audio extraction requests.
type ConversionConfig struct {
	Format     string `yaml:"format"`
	SampleRate int    `yaml:"sampleRate"`
	Channels   int    `yaml:"channels"`
	MP3Bitrate string `yaml:"mp3Bitrate"`
}

// DubbingConfig holds defaults for dubbing jobs. Empty engines defer to the backend.
type DubbingConfig struct {
	TargetLanguages     []string `yaml:"targetLanguages"`
	TranscriptionEngine string   `yaml:"transcriptionEngine,omitempty"`
	TranslationEngine   string   `yaml:"translationEngine,omitempty"`
	TTSEngine           string   `yaml:"ttsEngine,omitempty"`
}

// ResilienceConfig tunes outbound protection.
type ResilienceConfig struct {
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
}

// HistoryConfig controls the local run history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}

// MetricsConfig exposes Prometheus metrics while a command runs. Empty disables.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// Default values.
const (
	DefaultBaseURL          = "http://localhost:8000"
	DefaultTimeout          = 30 * time.Second
	DefaultUploadTimeout    = 10 * time.Minute
	DefaultPollInterval     = 1500 * time.Millisecond
	DefaultFormat           = "wav"
	DefaultSampleRate       = 16000
	DefaultChannels         = 1
	DefaultMP3Bitrate       = "192k"
	DefaultBreakerThreshold = 5
	DefaultBreakerReset     = 30 * time.Second
	DefaultRateLimit        = 10.0
	DefaultRateBurst        = 5
	DefaultHistoryFile      = "history.db"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:       DefaultBaseURL,
			Timeout:       DefaultTimeout,
			UploadTimeout: DefaultUploadTimeout,
		},
		Poll: PollConfig{Interval: DefaultPollInterval},
		Conversion: ConversionConfig{
			Format:     DefaultFormat,
			SampleRate: DefaultSampleRate,
			Channels:   DefaultChannels,
			MP3Bitrate: DefaultMP3Bitrate,
		},
		Dubbing: DubbingConfig{TargetLanguages: []string{"es"}},
		Resilience: ResilienceConfig{
			BreakerThreshold: DefaultBreakerThreshold,
			BreakerReset:     DefaultBreakerReset,
			RateLimit:        DefaultRateLimit,
			RateBurst:        DefaultRateBurst,
		},
		Logging: LoggingConfig{Level: "info", Format: "auto", Service: "dubctl"},
		History: HistoryConfig{Enabled: true, Path: defaultHistoryPath()},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "development",
		},
	}
}
