package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "adserver"

var (
	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_block_total",
			Help:      "Total number of outbound calls blocked by the rate limiter.",
		},
		[]string{"client", "host"},
	)

	CBRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of circuit breaker rejections.",
		},
		[]string{"client", "host", "reason"},
	)

	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0 closed / 1 half_open / 2 open).",
		},
		[]string{"name"},
	)

	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by result.",
		},
		[]string{"job", "result"}, // result: ok/locked/error/panic
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job run latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"job"},
	)

	PaymentsTransitionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ads_payments_transition_total",
			Help:      "Ads payment status transitions.",
		},
		[]string{"to"},
	)

	DetailsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_details_skipped_total",
			Help:      "Remote payment detail rows that could not be matched locally.",
		},
		[]string{"kind"}, // events/boost
	)

	RemoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Outbound HTTP call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"client", "op", "status"},
	)

	ReportsTransitionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reports_transition_total",
			Help:      "Payment report status transitions.",
		},
		[]string{"to"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		RateLimitBlockTotal, CBRejectTotal, CBState,
		JobRunsTotal, JobDuration,
		PaymentsTransitionTotal, DetailsSkippedTotal, RemoteCallDuration, ReportsTransitionTotal,
	)
}
