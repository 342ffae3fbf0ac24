// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package backend is the HTTP client for the dubbing backend API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/opendub/internal/log"
	"github.com/ManuGH/opendub/internal/metrics"
	"github.com/ManuGH/opendub/internal/platform/httpx"
	"github.com/ManuGH/opendub/internal/resilience"
	"github.com/ManuGH/opendub/internal/version"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// HeaderRequestID carries a per-request id for correlation with backend logs.
const HeaderRequestID = "X-Request-ID"

// Options configures the client behavior.
type Options struct {
	Timeout          time.Duration
	UploadTimeout    time.Duration
	RateLimit        rate.Limit // requests per second; 0 disables limiting
	RateLimitBurst   int
	BreakerThreshold int
	BreakerReset     time.Duration

	// HTTPClient overrides the API client. UploadClient overrides the client used
	// for uploads and downloads; it defaults to HTTPClient when that is set.
	HTTPClient   *http.Client
	UploadClient *http.Client
	Logger       *zerolog.Logger
}

const (
	defaultTimeout       = 30 * time.Second
	defaultUploadTimeout = 10 * time.Minute
)

// Client talks to one backend base URL. It is safe for concurrent use.
type Client struct {
	base     string
	http     *http.Client
	transfer *http.Client
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	polls    singleflight.Group
	timeout  time.Duration
	logger   zerolog.Logger
}

// New creates a client. baseURL must be an absolute http(s) URL; a path
// prefix such as https://host/dubber is kept for every request.
func New(baseURL string, opts Options) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("backend: invalid base URL %q", baseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = defaultUploadTimeout
	}

	c := &Client{
		base:     trimmed,
		http:     opts.HTTPClient,
		transfer: opts.UploadClient,
		timeout:  opts.Timeout,
	}
	if c.http == nil {
		c.http = httpx.NewClient(opts.Timeout)
	}
	if c.transfer == nil {
		if opts.HTTPClient != nil {
			c.transfer = opts.HTTPClient
		} else {
			c.transfer = httpx.NewClient(opts.UploadTimeout)
		}
	}
	if opts.RateLimit > 0 {
		burst := opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	c.breaker = resilience.NewCircuitBreaker("backend", opts.BreakerThreshold, opts.BreakerReset,
		resilience.WithFailurePredicate(countsAsOutage))

	if opts.Logger != nil {
		c.logger = *opts.Logger
	} else {
		c.logger = log.WithComponent("backend")
	}
	c.logger = c.logger.With().Str(log.FieldBaseURL, trimmed).Logger()
	return c, nil
}

// BaseURL returns the normalised base URL.
func (c *Client) BaseURL() string { return c.base }

// ResolveURL turns a backend artifact reference into an absolute URL.
// Absolute URLs pass through; paths are appended to the base URL, keeping its path prefix.
func (c *Client) ResolveURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() && u.Host != "" {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.base + ref
}

func (c *Client) endpoint(path string) string {
	return c.base + path
}

// send runs one HTTP exchange through the limiter and breaker. Transport
// failures and 5xx responses come back as *APIError with the body consumed;
// any other response is returned open for the caller.
func (c *Client) send(ctx context.Context, hc *http.Client, op string, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, wrapError(op, err, 0, nil)
		}
	}

	reqID := uuid.NewString()
	req.Header.Set(HeaderRequestID, reqID)
	req.Header.Set("User-Agent", version.UserAgent())
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	logger := log.WithContext(ctx, c.logger).With().
		Str(log.FieldOperation, op).
		Str(log.FieldRequestID, reqID).
		Logger()

	start := time.Now()
	var resp *http.Response
	err := c.breaker.Execute(func() error {
		r, err := hc.Do(req)
		if err != nil {
			return wrapError(op, err, 0, nil)
		}
		if r.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(r.Body, maxErrorBody))
			_ = r.Body.Close()
			return wrapError(op, nil, r.StatusCode, body)
		}
		resp = r
		return nil
	})
	if err != nil {
		// *resilience.OpenError arrives unwrapped.
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			err = wrapError(op, err, 0, nil)
		}
		status := StatusOf(err)
		metrics.ObserveBackendRequest(op, status, time.Since(start))
		logger.Warn().Err(err).Int(log.FieldStatus, status).Dur("elapsed", time.Since(start)).Msg("backend request failed")
		return nil, err
	}

	metrics.ObserveBackendRequest(op, resp.StatusCode, time.Since(start))
	logger.Debug().Int(log.FieldStatus, resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("backend request")
	return resp, nil
}

// doJSON sends body (when non-nil) as JSON and decodes a 2xx response into out.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.send(ctx, c.http, op, req)
	if err != nil {
		return err
	}
	return decodeResponse(op, resp, out)
}

// decodeResponse closes resp. Non-2xx statuses become *APIError; an
// undecodable 2xx body is ErrBadResponse.
func decodeResponse(op string, resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return wrapError(op, nil, resp.StatusCode, body)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func badResponse(op string, status int, msg string) error {
	return &APIError{Sentinel: ErrBadResponse, Operation: op, Status: status, Body: msg}
}
