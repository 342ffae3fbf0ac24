// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	explicit        bool
	version         string
	lookup          lookupFunc
	logger          zerolog.Logger
	ConsumedEnvKeys map[string]struct{} // keys the loader consulted
}

// NewLoader creates a loader. An empty configPath uses DefaultConfigPath and
// tolerates its absence; an explicit path must exist.
func NewLoader(configPath, version string) *Loader {
	l := &Loader{
		configPath:      configPath,
		explicit:        configPath != "",
		version:         version,
		lookup:          os.LookupEnv,
		logger:          envLogger(),
		ConsumedEnvKeys: make(map[string]struct{}),
	}
	if !l.explicit {
		l.configPath = DefaultConfigPath()
	}
	return l
}

// Path returns the file the loader reads.
func (l *Loader) Path() string { return l.configPath }

// Load resolves defaults, the YAML file and the environment, then validates.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if err := l.mergeFile(&cfg); err != nil {
		return Config{}, err
	}
	l.mergeEnv(&cfg)

	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")
	cfg.Conversion.Format = strings.ToLower(strings.TrimSpace(cfg.Conversion.Format))
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l *Loader) mergeFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if l.explicit {
				return fmt.Errorf("%w: %s", ErrConfigNotFound, l.configPath)
			}
			l.logger.Debug().Str("path", l.configPath).Msg("no config file, using defaults")
			return nil
		}
		return fmt.Errorf("read config %s: %w", l.configPath, err)
	}
	if err := decodeStrict(data, cfg); err != nil {
		return fmt.Errorf("%s: %w", l.configPath, err)
	}
	l.logger.Debug().Str("path", l.configPath).Msg("loaded config file")
	return nil
}

// decodeStrict overlays a single YAML document onto cfg, rejecting unknown keys.
func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *Config) {
	cfg.Backend.BaseURL = l.envString("BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.Timeout = l.envDuration("BACKEND_TIMEOUT", cfg.Backend.Timeout)
	cfg.Backend.UploadTimeout = l.envDuration("UPLOAD_TIMEOUT", cfg.Backend.UploadTimeout)

	cfg.Poll.Interval = l.envDuration("POLL_INTERVAL", cfg.Poll.Interval)

	cfg.Conversion.Format = l.envString("CONVERT_FORMAT", cfg.Conversion.Format)
	cfg.Conversion.SampleRate = l.envInt("CONVERT_SAMPLE_RATE", cfg.Conversion.SampleRate)
	cfg.Conversion.Channels = l.envInt("CONVERT_CHANNELS", cfg.Conversion.Channels)
	cfg.Conversion.MP3Bitrate = l.envString("MP3_BITRATE", cfg.Conversion.MP3Bitrate)

	cfg.Dubbing.TargetLanguages = l.envList("DUB_LANGUAGES", cfg.Dubbing.TargetLanguages)
	cfg.Dubbing.TranscriptionEngine = l.envString("TRANSCRIPTION_ENGINE", cfg.Dubbing.TranscriptionEngine)
	cfg.Dubbing.TranslationEngine = l.envString("TRANSLATION_ENGINE", cfg.Dubbing.TranslationEngine)
	cfg.Dubbing.TTSEngine = l.envString("TTS_ENGINE", cfg.Dubbing.TTSEngine)

	cfg.Resilience.BreakerThreshold = l.envInt("BREAKER_THRESHOLD", cfg.Resilience.BreakerThreshold)
	cfg.Resilience.BreakerReset = l.envDuration("BREAKER_RESET", cfg.Resilience.BreakerReset)
	cfg.Resilience.RateLimit = l.envFloat("RATE_LIMIT", cfg.Resilience.RateLimit)
	cfg.Resilience.RateBurst = l.envInt("RATE_BURST", cfg.Resilience.RateBurst)

	cfg.Logging.Level = l.envString("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = l.envString("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Service = l.envString("LOG_SERVICE", cfg.Logging.Service)

	cfg.History.Enabled = l.envBool("HISTORY_ENABLED", cfg.History.Enabled)
	cfg.History.Path = l.envString("HISTORY_PATH", cfg.History.Path)

	cfg.Telemetry.Enabled = l.envBool("TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("OTEL_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = l.envString("ENV", cfg.Telemetry.Environment)

	cfg.Metrics.ListenAddr = l.envString("METRICS_LISTEN", cfg.Metrics.ListenAddr)
}

// Wrapper methods track every consulted key.

func (l *Loader) envString(suffix, def string) string {
	key := l.consume(suffix)
	v, _ := parseEnv(l.logger, l.lookup, key, def, parseString)
	return v
}

func (l *Loader) envInt(suffix string, def int) int {
	key := l.consume(suffix)
	v, _ := parseEnv(l.logger, l.lookup, key, def, strconv.Atoi)
	return v
}

func (l *Loader) envBool(suffix string, def bool) bool {
	key := l.consume(suffix)
	v, _ := parseEnv(l.logger, l.lookup, key, def, parseBool)
	return v
}

func (l *Loader) envDuration(suffix string, def time.Duration) time.Duration {
	key := l.consume(suffix)
	v, _ := parseEnv(l.logger, l.lookup, key, def, time.ParseDuration)
	return v
}

func (l *Loader) envFloat(suffix string, def float64) float64 {
	key := l.consume(suffix)
	v, _ := parseEnv(l.logger, l.lookup, key, def, parseFloat)
	return v
}

func (l *Loader) envList(suffix string, def []string) []string {
	key := l.consume(suffix)
	v, _ := parseEnv(l.logger, l.lookup, key, def, parseList)
	return v
}

func (l *Loader) consume(suffix string) string {
	key := EnvPrefix + suffix
	l.ConsumedEnvKeys[key] = struct{}{}
	return key
}
