// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollTicks counts poll ticks by result: update, transient_error, dropped.
	PollTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opendub_poll_ticks_total",
		Help: "Job status poll ticks by result",
	}, []string{"result"})

	// ActivePollers tracks running poll loops.
	ActivePollers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opendub_active_pollers",
		Help: "Number of job poll loops currently running",
	})

	// WorkflowTransitions counts state machine transitions.
	WorkflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opendub_workflow_transitions_total",
		Help: "Workflow state transitions",
	}, []string{"from", "to"})

	// StaleUpdates counts job updates discarded because a newer job superseded them.
	StaleUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opendub_workflow_stale_updates_total",
		Help: "Job updates discarded because they belonged to a superseded poll loop",
	})

	// DroppedEvents counts events not delivered to a slow subscriber.
	DroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opendub_workflow_dropped_events_total",
		Help: "Workflow events dropped because a subscriber buffer was full",
	})
)

// RecordPollTick increments the tick counter for the given result.
func RecordPollTick(result string) {
	PollTicks.WithLabelValues(result).Inc()
}

// RecordTransition increments the transition counter.
func RecordTransition(from, to string) {
	WorkflowTransitions.WithLabelValues(from, to).Inc()
}
