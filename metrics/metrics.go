package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesApplied counts reconciliation steps applied by the store.
	// source: snapshot, event, mutation, rollback
	UpdatesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_store_updates_applied_total",
			Help: "Total number of reconciliation steps applied to the entity store",
		},
		[]string{"source"},
	)

	// StaleUpdatesRejected counts monotonic-field regressions that were discarded.
	StaleUpdatesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_store_stale_updates_rejected_total",
			Help: "Total number of field updates rejected because they would regress a monotonic field",
		},
		[]string{"kind", "field"},
	)

	// WindowEvictions counts entries dropped from a bounded window.
	WindowEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_store_window_evictions_total",
			Help: "Total number of entries evicted from a bounded window",
		},
		[]string{"window"},
	)

	// WindowSize tracks the current number of entries per window.
	WindowSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_store_window_size",
			Help: "Current number of entries held in a bounded window",
		},
		[]string{"window"},
	)

	UpdateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_store_update_duration_seconds",
			Help:    "Time taken to apply one reconciliation step",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PollsTotal counts snapshot fetches by collection and result.
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_poller_fetches_total",
			Help: "Total number of snapshot fetches",
		},
		[]string{"collection", "result"},
	)

	// StreamConnectionState is 1 for the current push connection state, 0 otherwise.
	StreamConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_stream_connection_state",
			Help: "Push connection state (1 = current state)",
		},
		[]string{"state"},
	)

	StreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_stream_reconnects_total",
			Help: "Total number of push connection reconnect attempts",
		},
	)

	// StreamMessages counts received push messages by outcome.
	// result: applied, ignored, malformed
	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_stream_messages_total",
			Help: "Total number of push messages received",
		},
		[]string{"result"},
	)

	// Mutations counts user commands by command and result.
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_mutations_total",
			Help: "Total number of user-initiated mutations",
		},
		[]string{"command", "result"},
	)

	MutationsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_mutations_pending",
			Help: "Number of optimistic mutations awaiting backend confirmation",
		},
	)

	// ErrorsReported counts errors sent to the error channel by kind.
	ErrorsReported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_errors_reported_total",
			Help: "Total number of errors reported, by kind",
		},
		[]string{"kind"},
	)

	// BackendRequests counts backend HTTP requests by operation and status class.
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_backend_requests_total",
			Help: "Total number of backend API requests",
		},
		[]string{"op", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_backend_request_duration_seconds",
			Help:    "Backend API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// ViewClients tracks connected view feed websocket clients.
	ViewClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_view_feed_clients",
			Help: "Number of connected view feed clients",
		},
	)
)
