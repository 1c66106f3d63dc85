// Package metrics exposes Prometheus instrumentation for the capture store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store
	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_events_appended_total",
			Help: "Append attempts by event kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	EventsEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_events_evicted_total",
			Help: "Events removed from the log by reason",
		},
		[]string{"reason"}, // "capacity", "retention", "superseded", "cleared"
	)

	EventLogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultline_event_log_size",
			Help: "Number of events in the persisted log after the last write",
		},
	)

	StoreQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultline_store_queue_depth",
			Help: "Mutations waiting for the store writer",
		},
	)

	// Persistence
	KVErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_kv_errors_total",
			Help: "Failed key-value operations by backend and operation",
		},
		[]string{"backend", "op"},
	)

	// Sanitizer
	Redactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_redactions_total",
			Help: "Values redacted by policy rule",
		},
		[]string{"rule"},
	)

	// Inbound
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_messages_received_total",
			Help: "Inbound messages by type",
		},
		[]string{"type"},
	)

	ClosedContexts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultline_closed_contexts",
			Help: "Closed contexts still inside the retention window",
		},
	)
)

// Append outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeInvalid   = "invalid"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)
