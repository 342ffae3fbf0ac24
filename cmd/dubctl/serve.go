// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/opendub/internal/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	metricsShutdownTimeout = 2 * time.Second

	// Per client IP; a scraper polls far below this.
	metricsRequestLimit = 120
	metricsRateWindow   = time.Minute
)

// serve runs fn, exposing /metrics alongside it when a listen address is
// configured. The server stops when fn returns.
func (c *commandContext) serve(ctx context.Context, fn func(context.Context) error) error {
	addr := c.config.Metrics.ListenAddr
	if addr == "" {
		return fn(ctx)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           metricsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger := log.WithComponent("metrics")
	logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn().Err(err).Msg("metrics server shutdown failed")
			}
		}()
		return fn(gctx)
	})
	return g.Wait()
}

func metricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(httprate.Limit(
		metricsRequestLimit,
		metricsRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(metricsRateWindow.Seconds())))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		}),
	))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}
