package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artifact_cache_hits_total",
		Help: "The number of artifact cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artifact_cache_misses_total",
		Help: "The number of artifact cache misses",
	})

	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_calls_total",
		Help: "Provider API calls broken up by capability, provider and result",
	}, []string{"capability", "provider", "result"})
	ProviderFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_fallbacks_total",
		Help: "How often a capability fell through to a fallback provider",
	}, []string{"capability", "from", "to"})

	AssetDownloadDurationSec = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asset_download_duration_seconds",
		Help:    "Time taken to download a remote asset",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	})
	SceneRenderDurationSec = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scene_render_duration_seconds",
		Help:    "Time taken to render a single scene, by scene type",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"scene_type"})
	ComposeDurationSec = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "compose_duration_seconds",
		Help:    "Time taken to concatenate and encode the final video",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	TaskResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "task_results_total",
		Help: "Terminal task results by status",
	}, []string{"status"})
	CreditOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_operations_total",
		Help: "Credit debits and refunds by outcome",
	}, []string{"op", "result"})
	MemoryCleanups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memory_cleanups_total",
		Help: "Memory-pressure cleanups by threshold level",
	}, []string{"level"})
	ReconciledTasks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciled_stuck_tasks_total",
		Help: "Stuck tasks failed by the reconciler",
	})
)
