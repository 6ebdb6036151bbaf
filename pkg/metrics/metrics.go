package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheEvents counts cache activity per collection (hit|miss|set|evict|expire|invalidate).
	CacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dentaldesk_cache_events_total",
			Help: "Total number of cache events by collection and type",
		},
		[]string{"collection", "event"},
	)

	// CacheEntries tracks the number of live entries held per collection cache.
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dentaldesk_cache_entries",
			Help: "Number of entries currently held in each collection cache",
		},
		[]string{"collection"},
	)

	// HandledErrors counts failures funnelled through the error handler by class.
	HandledErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dentaldesk_handled_errors_total",
			Help: "Total number of backend failures by classification",
		},
		[]string{"collection", "operation", "class"},
	)

	// RetryAttempts counts backoff retries issued by the error handler.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dentaldesk_retry_attempts_total",
			Help: "Total number of retried backend attempts",
		},
		[]string{"collection", "operation"},
	)

	// PendingWrites tracks writes deferred to the pending-write queue.
	PendingWrites = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dentaldesk_pending_writes",
			Help: "Number of writes waiting in the pending-write queue",
		},
	)

	// RepositoryOps records repository operation outcomes (ok|error).
	RepositoryOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dentaldesk_repository_operations_total",
			Help: "Total number of repository operations by outcome",
		},
		[]string{"collection", "operation", "result"},
	)

	// ActiveListeners tracks live subscriptions per collection.
	ActiveListeners = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dentaldesk_active_listeners",
			Help: "Number of live subscriptions per collection",
		},
		[]string{"collection"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dentaldesk_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
