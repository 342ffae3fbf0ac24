// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/ManuGH/opendub/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapError_Sentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		sentinel error
	}{
		{"HTTP 404", nil, http.StatusNotFound, ErrNotFound},
		{"HTTP 400", nil, http.StatusBadRequest, ErrRejected},
		{"HTTP 413", nil, http.StatusRequestEntityTooLarge, ErrRejected},
		{"HTTP 422", nil, http.StatusUnprocessableEntity, ErrRejected},
		{"HTTP 500", nil, http.StatusInternalServerError, ErrUpstreamError},
		{"HTTP 503", nil, http.StatusServiceUnavailable, ErrUpstreamError},
		{"Network Timeout", &net.DNSError{IsTimeout: true}, 0, ErrTimeout},
		{"Context Timeout", context.DeadlineExceeded, 0, ErrTimeout},
		{"Context Canceled", context.Canceled, 0, context.Canceled},
		{"Connection Refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, 0, ErrUpstreamUnavailable},
		{"Circuit Open", resilience.ErrCircuitOpen, 0, ErrUpstreamUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := wrapError("test", tc.err, tc.status, nil)
			assert.ErrorIs(t, wrapped, tc.sentinel)

			var apiErr *APIError
			require.ErrorAs(t, wrapped, &apiErr)
			assert.Equal(t, "test", apiErr.Operation)
			assert.Equal(t, tc.status, apiErr.Status)
			if tc.err != nil {
				assert.ErrorIs(t, wrapped, tc.err, "cause stays reachable")
			}
		})
	}
}

func TestWrapError_SuccessIsNil(t *testing.T) {
	assert.NoError(t, wrapError("test", nil, http.StatusOK, nil))
	assert.NoError(t, wrapError("test", nil, http.StatusNoContent, []byte("ignored")))
}

func TestWrapError_Body(t *testing.T) {
	err := wrapError("convert_audio", nil, http.StatusBadRequest, []byte(`{"detail":"unsupported format"}`))
	assert.Equal(t, "convert_audio: backend: request rejected (HTTP 400): unsupported format", err.Error())

	err = wrapError("convert_audio", nil, http.StatusBadGateway, []byte("<html>bad gateway</html>"))
	assert.Contains(t, err.Error(), "<html>bad gateway</html>")

	long := strings.Repeat("x", maxErrorBody*2)
	var apiErr *APIError
	require.ErrorAs(t, wrapError("op", nil, http.StatusBadRequest, []byte(long)), &apiErr)
	assert.Len(t, apiErr.Body, maxErrorBody)
}

func TestCountsAsOutage(t *testing.T) {
	assert.True(t, countsAsOutage(wrapError("op", nil, 500, nil)))
	assert.True(t, countsAsOutage(wrapError("op", context.DeadlineExceeded, 0, nil)))
	assert.True(t, countsAsOutage(wrapError("op", errors.New("reset"), 0, nil)))
	assert.False(t, countsAsOutage(wrapError("op", nil, 404, nil)))
	assert.False(t, countsAsOutage(wrapError("op", nil, 422, nil)))
	assert.False(t, countsAsOutage(wrapError("op", context.Canceled, 0, nil)))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, 404, StatusOf(wrapError("op", nil, 404, nil)))
	assert.Equal(t, 502, StatusOf(fmt.Errorf("outer: %w", wrapError("op", nil, 502, nil))))
	assert.Zero(t, StatusOf(errors.New("plain")))
}

func TestUploadError_Message(t *testing.T) {
	assert.Equal(t, "upload failed: HTTP 413", (&UploadError{Status: 413}).Error())
	assert.Equal(t, "upload failed: HTTP 422: file part missing", (&UploadError{Status: 422, Body: "file part missing"}).Error())

	cause := errors.New("connection refused")
	err := &UploadError{Err: cause}
	assert.Equal(t, "upload failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestRequestCreationError_Unwrap(t *testing.T) {
	inner := wrapError("create_job", nil, http.StatusNotFound, []byte(`{"detail":"video not found"}`))
	err := creationError("create_job", inner)

	var rcErr *RequestCreationError
	require.ErrorAs(t, err, &rcErr)
	assert.Equal(t, http.StatusNotFound, rcErr.Status)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "video not found")
}
