package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSubmitted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "requests_submitted_total", Help: "Total service requests submitted"})
	AcceptsWon        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "accepts_won_total", Help: "Accept attempts that claimed a request"})
	AcceptsLost       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "accepts_lost_total", Help: "Accept attempts rejected as already claimed"})
	CASConflicts      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "cas_conflicts_total", Help: "Conditional writes that lost a version race"})
	CandidatesServed  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "roadside_dispatch", Name: "candidates_per_query", Help: "Candidate list sizes returned to providers", Buckets: prometheus.LinearBuckets(0, 2, 10)})
	ProvidersTracked  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "roadside_dispatch", Name: "providers_tracked", Help: "Providers currently known to the geo index"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roadside_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
