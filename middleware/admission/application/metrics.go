package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var admissionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "admission_outcomes_total",
	Help: "Number of admission pipeline runs by terminal outcome",
}, []string{"outcome"})

var storeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "admission_store_failures_total",
	Help: "Number of shared store failures converted to fail-open behavior",
}, []string{"component"})

var rateCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "admission_rate_check_duration_seconds",
	Help:    "Latency of the atomic sliding window check",
	Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
})

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "admission_cache_lookups_total",
	Help: "Number of cache reads by result",
}, []string{"result"})

var cacheComputes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "admission_cache_computes_total",
	Help: "Number of compute function invocations after a cache miss",
})

var cacheLockWaits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "admission_cache_lock_waits_total",
	Help: "Number of callers that waited on another caller's cache lock",
})

var cacheStampedeFallthrough = promauto.NewCounter(prometheus.CounterOpts{
	Name: "admission_cache_stampede_fallthrough_total",
	Help: "Number of lock waits that gave up and computed directly",
})

var cacheRequestsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
	Name: "admission_cache_requests_coalesced",
	Help: "Number of in-process cache loads coalesced into another caller's load",
})

var concurrencyRejected = promauto.NewCounter(prometheus.CounterOpts{
	Name: "admission_concurrency_rejected_total",
	Help: "Number of requests rejected for lack of an in-flight slot",
})
