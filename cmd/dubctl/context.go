// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ManuGH/opendub/internal/backend"
	"github.com/ManuGH/opendub/internal/config"
	"github.com/ManuGH/opendub/internal/convert"
	"github.com/ManuGH/opendub/internal/history"
	"github.com/ManuGH/opendub/internal/jobs"
	"github.com/ManuGH/opendub/internal/log"
	"github.com/ManuGH/opendub/internal/telemetry"
	"github.com/ManuGH/opendub/internal/version"
	"golang.org/x/time/rate"
)

type globalFlags struct {
	config        string
	backendURL    string
	logLevel      string
	metricsListen string
	noHistory     bool
	quiet         bool
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     config.Config
	configErr  error

	telemetry *telemetry.Provider
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

// ensureConfig loads the configuration once, applies flag overrides and
// configures logging from the result.
func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		loader := config.NewLoader(strings.TrimSpace(c.flags.config), version.Version)
		cfg, err := loader.Load()
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		if v := strings.TrimSpace(c.flags.backendURL); v != "" {
			cfg.Backend.BaseURL = strings.TrimRight(v, "/")
		}
		if v := strings.TrimSpace(c.flags.logLevel); v != "" {
			cfg.Logging.Level = v
		}
		if v := strings.TrimSpace(c.flags.metricsListen); v != "" {
			cfg.Metrics.ListenAddr = v
		}
		if c.flags.noHistory {
			cfg.History.Enabled = false
		}

		log.Configure(log.Config{
			Level:   cfg.Logging.Level,
			Format:  cfg.Logging.Format,
			Service: cfg.Logging.Service,
			Version: cfg.Version,
		})
		logger := log.WithComponent("cli")
		logger.Debug().
			Str(log.FieldPath, loader.Path()).
			Str(log.FieldBaseURL, cfg.Backend.BaseURL).
			Msg("configuration loaded")
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) startTelemetry(ctx context.Context) error {
	if c.telemetry != nil {
		return nil
	}
	cfg := c.config.Telemetry
	p, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Enabled,
		ServiceName:    c.config.Logging.Service,
		ServiceVersion: version.Version,
		Environment:    cfg.Environment,
		ExporterType:   cfg.Exporter,
		Endpoint:       cfg.Endpoint,
		SamplingRate:   cfg.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("start telemetry: %w", err)
	}
	c.telemetry = p
	return nil
}

// shutdown flushes spans. It runs after every invocation, including failed ones.
func (c *commandContext) shutdown() {
	if c.telemetry == nil {
		return
	}
	if err := c.telemetry.Shutdown(context.Background()); err != nil {
		logger := log.WithComponent("cli")
		logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	c.telemetry = nil
}

func (c *commandContext) newClient() (*backend.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return backend.New(cfg.Backend.BaseURL, backend.Options{
		Timeout:          cfg.Backend.Timeout,
		UploadTimeout:    cfg.Backend.UploadTimeout,
		RateLimit:        rate.Limit(cfg.Resilience.RateLimit),
		RateLimitBurst:   cfg.Resilience.RateBurst,
		BreakerThreshold: cfg.Resilience.BreakerThreshold,
		BreakerReset:     cfg.Resilience.BreakerReset,
	})
}

func (c *commandContext) newPoller(client *backend.Client) *jobs.Poller {
	return jobs.NewPoller(client, jobs.WithInterval(c.config.Poll.Interval))
}

func (c *commandContext) newBuilder() *convert.Builder {
	conv := c.config.Conversion
	return convert.NewBuilder(convert.Defaults{
		Format:     conv.Format,
		SampleRate: conv.SampleRate,
		Channels:   conv.Channels,
		MP3Bitrate: conv.MP3Bitrate,
	})
}

// openHistory returns nil when history is disabled.
func (c *commandContext) openHistory() (*history.Store, error) {
	if !c.config.History.Enabled {
		return nil, nil
	}
	s, err := history.Open(c.config.History.Path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return s, nil
}
