// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the Prometheus collectors of the opendub client.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendRequests counts backend API calls by operation and outcome.
	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opendub_backend_requests_total",
		Help: "Backend API requests by operation and HTTP status class (transport errors use status=error)",
	}, []string{"operation", "status"})

	// BackendRequestDuration tracks backend API latency.
	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opendub_backend_request_duration_seconds",
		Help:    "Latency of backend API requests",
		Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 10), // 10ms to ~38s
	}, []string{"operation"})

	// UploadBytes counts bytes streamed to the upload endpoint.
	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opendub_upload_bytes_total",
		Help: "Bytes streamed to the backend upload endpoint",
	})
)

// ObserveBackendRequest records one backend call. status is the HTTP status code,
// or 0 when the request failed before a response arrived.
func ObserveBackendRequest(operation string, status int, elapsed time.Duration) {
	BackendRequests.WithLabelValues(operation, statusLabel(status)).Inc()
	BackendRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func statusLabel(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
