package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrisync_transactions_submitted_total",
		Help: "Total number of trade submissions, by outcome (delivered, queued, failed).",
	},
		[]string{"outcome"},
	)

	TransactionsSyncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agrisync_transactions_synced_total",
		Help: "Total number of pending transactions confirmed delivered during sync.",
	})

	SyncAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrisync_sync_attempts_total",
		Help: "Total number of per-transaction delivery attempts during sync, by result.",
	},
		[]string{"result"},
	)

	DeadTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agrisync_dead_transactions",
		Help: "Number of pending transactions that exhausted their delivery attempts.",
	})

	PendingTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agrisync_pending_transactions",
		Help: "Number of unsynced transactions currently in the durable queue.",
	})

	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrisync_cache_hits_total",
		Help: "Cache partition hits, by partition.",
	},
		[]string{"partition"},
	)

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrisync_cache_misses_total",
		Help: "Cache partition misses, by partition.",
	},
		[]string{"partition"},
	)

	CacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrisync_cache_evictions_total",
		Help: "Entries evicted from a cache partition to respect its cap.",
	},
		[]string{"partition"},
	)

	OfflineFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrisync_offline_fallbacks_total",
		Help: "Synthetic offline responses served, by kind (market_data, offline_page).",
	},
		[]string{"kind"},
	)

	UpstreamOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agrisync_upstream_online",
		Help: "1 when the upstream backend is reachable, 0 otherwise.",
	})

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrisync_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)
)
