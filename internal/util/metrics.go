package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuyProcessesSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buy_processes_submitted_total",
		Help: "Total number of buy processes received",
	}, []string{"channel"})

	BuyProcessesRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "buy_processes_rejected_total",
		Help: "Total number of buy processes that failed validation",
	})

	RuleFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buy_process_rule_failures_total",
		Help: "Total number of validation rule failures",
	}, []string{"rule"})

	ValidationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "buy_process_validation_latency_seconds",
		Help:    "Latency of a full validation pass",
		Buckets: prometheus.DefBuckets,
	})

	BuyProcessesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "buy_processes_completed_total",
		Help: "Total number of buy processes whose loan was disbursed",
	})

	StageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioning_stage_failures_total",
		Help: "Total number of failed provisioning stages",
	}, []string{"stage"})

	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provisioning_stage_latency_seconds",
		Help:    "Latency of provisioning stage calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	MessageCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "channel_message_cache_hits_total",
		Help: "Total number of channel message lookups served from cache",
	})

	MessageCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "channel_message_cache_misses_total",
		Help: "Total number of channel message lookups that reached the store",
	})

	MessageCacheInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "channel_message_cache_invalidations_total",
		Help: "Total number of channel message cache invalidations",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
