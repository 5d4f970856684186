// Package metrics holds the Prometheus collectors for the relay. Collectors
// register on the default registry and are served by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsReceived counts submissions by the transport they arrived on
	// (json, beacon, disguised, pixel).
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelrelay_events_received_total",
			Help: "Events received at the ingestion boundary by transport",
		},
		[]string{"transport"},
	)

	// Admissions counts admission decisions by resulting status.
	Admissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelrelay_admissions_total",
			Help: "Admission decisions by resulting event status",
		},
		[]string{"status"},
	)

	IngestRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelrelay_ingest_rejections_total",
			Help: "Submissions rejected before persistence by error code",
		},
		[]string{"code"},
	)

	DispatchChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelrelay_dispatch_chunks_total",
			Help: "Delivery chunks submitted to the conversions API by result",
		},
		[]string{"result"}, // "sent", "failed"
	)

	DispatchEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelrelay_dispatch_events_total",
			Help: "Events marked by dispatch, by result",
		},
		[]string{"result"},
	)

	CAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixelrelay_capi_request_duration_seconds",
			Help:    "Latency of conversions API calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	BreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelrelay_breaker_state_changes_total",
			Help: "Circuit breaker transitions per channel",
		},
		[]string{"channel", "to"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixelrelay_dispatch_queue_depth",
			Help: "Dispatch tasks waiting in the queue at last observation",
		},
	)

	SinkFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelrelay_sink_flushes_total",
			Help: "Analytics sink flushes by result",
		},
		[]string{"result"},
	)
)
