package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Check-in outcomes used as the "outcome" label.
const (
	OutcomeSuccess          = "success"
	OutcomePermissionDenied = "permission_denied"
	OutcomeInvalidArgument  = "invalid_argument"
	OutcomeInternal         = "internal"
)

var (
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "checkins_total",
		Help:      "Check-in submissions by outcome.",
	}, []string{"outcome"})

	StoreWriteSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "store_write_seconds",
		Help:      "Latency of the attendance record write.",
		Buckets:   prometheus.DefBuckets,
	})

	DashboardStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance",
		Name:      "dashboard_streams",
		Help:      "Open live dashboard websocket streams.",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})
)
