package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Send pipeline metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_messages_sent_total",
			Help: "Total send attempts by outcome",
		},
		[]string{"result"}, // "delivered", "failed", "rejected"
	)

	SendRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_send_rate_limited_total",
			Help: "Total sends rejected by the rate limiter",
		},
	)

	ConversationRollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_conversation_rollbacks_total",
			Help: "Total empty conversations deleted after a failed first send",
		},
	)

	// Read receipt metrics
	ReadFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_read_flushes_total",
			Help: "Total read receipt flushes by outcome",
		},
		[]string{"result"}, // "ok", "error"
	)

	ReadMarked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_read_marked_total",
			Help: "Total messages marked read (server-reported affected rows)",
		},
	)

	// Sync metrics
	PaginationFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_pagination_fetches_total",
			Help: "Total message page fetches",
		},
		[]string{"kind"}, // "initial", "older", "resync"
	)

	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_realtime_events_total",
			Help: "Total realtime push events processed",
		},
		[]string{"type"}, // "insert", "update", "duplicate", "unknown"
	)

	Resyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_resyncs_total",
			Help: "Total full resynchronizations after channel degradation",
		},
	)

	DraftsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_drafts_persisted_total",
			Help: "Total draft persist operations",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_store_latency_seconds",
			Help:    "Backend store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"},
	)
)
