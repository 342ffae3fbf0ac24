// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ManuGH/opendub/internal/resilience"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound            = errors.New("backend: resource not found")
	ErrRejected            = errors.New("backend: request rejected")
	ErrUpstreamUnavailable = errors.New("backend: host unreachable or transport failure")
	ErrUpstreamError       = errors.New("backend: internal error (5xx)")
	ErrBadResponse         = errors.New("backend: invalid response format or malformed data")
	ErrTimeout             = errors.New("backend: request timed out")
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// APIError is a rich error type that wraps the sentinel errors with context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Err}
}

// wrapError classifies a transport error or HTTP status into an *APIError.
// A nil err with a 2xx status returns nil.
func wrapError(operation string, err error, status int, body []byte) error {
	if err == nil && status >= 200 && status < 300 {
		return nil
	}
	e := &APIError{
		Operation: operation,
		Status:    status,
		Body:      apiDetail(trimBody(body)),
		Err:       err,
	}
	switch {
	case err != nil:
		e.Sentinel = classifyTransport(err)
	case status == http.StatusNotFound:
		e.Sentinel = ErrNotFound
	case status >= 500:
		e.Sentinel = ErrUpstreamError
	default:
		e.Sentinel = ErrRejected
	}
	return e
}

func classifyTransport(err error) error {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return ErrUpstreamUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return context.Canceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrUpstreamUnavailable
}

// trimBody keeps a bounded, printable prefix of an error body.
func trimBody(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}

// countsAsOutage reports whether err should trip the circuit breaker.
func countsAsOutage(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrUpstreamError) ||
		errors.Is(err, ErrTimeout)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// UploadError reports a failed upload. Status is the HTTP status, or 0 when
// no response was received.
type UploadError struct {
	Status int
	Body   string
	Err    error
}

func (e *UploadError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("upload failed: %v", e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("upload failed: HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("upload failed: HTTP %d", e.Status)
}

func (e *UploadError) Unwrap() error { return e.Err }

// RequestCreationError reports that the backend did not accept a conversion or job request.
type RequestCreationError struct {
	Operation string
	Status    int
	Err       error
}

func (e *RequestCreationError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s request failed: HTTP %d: %v", e.Operation, e.Status, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Operation, e.Err)
}

func (e *RequestCreationError) Unwrap() error { return e.Err }

// apiDetail extracts the message from a {"detail": "..."} error body.
func apiDetail(body string) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal([]byte(body), &payload) != nil || payload.Detail == nil {
		return body
	}
	if s, ok := payload.Detail.(string); ok {
		return s
	}
	return body
}
