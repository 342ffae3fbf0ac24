// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker state gauge values.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

var (
	// BreakerState is 0 closed, 1 half-open (probing), 2 open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "opendub_breaker_state",
		Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
	}, []string{"breaker"})

	// BreakerTrips counts transitions to open.
	BreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opendub_breaker_trips_total",
		Help: "Circuit breaker transitions to open, by cause",
	}, []string{"breaker", "cause"})

	// BreakerRejected counts calls refused while open.
	BreakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opendub_breaker_rejected_total",
		Help: "Calls refused by an open circuit breaker",
	}, []string{"breaker"})
)
