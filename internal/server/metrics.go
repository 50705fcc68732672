package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	steps       prometheus.Histogram
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	limited     prometheus.Counter
}

// newMetrics registers the server's collectors on reg.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "armory",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "armory",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		steps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "armory",
			Name:      "allocation_steps",
			Help:      "Committed level-ups per allocation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "armory",
			Name:      "result_cache_hits_total",
			Help:      "Allocations answered from the result cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "armory",
			Name:      "result_cache_misses_total",
			Help:      "Allocations computed because no cached result existed.",
		}),
		limited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "armory",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}
	reg.MustRegister(
		m.requests, m.duration, m.steps, m.cacheHits, m.cacheMisses, m.limited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
