package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tripwire"

var (
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Upstream market-data requests by provider, need and outcome.",
		},
		[]string{"provider", "need", "outcome"}, // outcome: ok/error/quota/unsupported/breaker_open
	)

	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Upstream market-data request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"provider", "need"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result.",
		},
		[]string{"result"}, // hit/miss/shared
	)

	ProviderUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_daily_usage",
			Help:      "Calls counted against the provider's quota today.",
		},
		[]string{"provider"},
	)

	AlertsEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_evaluated_total",
			Help:      "Alerts evaluated by type and verdict.",
		},
		[]string{"alert_type", "verdict"}, // triggered/quiet/error
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alert_run_duration_seconds",
			Help:      "Duration of alert processing runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"status"}, // ok/timeout/failed
	)
)

var registerOnce sync.Once

// MustRegister adds every collector to the default registry. Safe to call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ProviderRequests,
			ProviderLatency,
			CacheLookups,
			ProviderUsage,
			AlertsEvaluated,
			Notifications,
			RunDuration,
		)
	})
}
