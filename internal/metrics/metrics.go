// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tunevault",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "path"},
	)

	ledgerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "ledger",
			Name:      "calls_total",
			Help:      "Ledger API calls by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tunevault",
			Subsystem: "ledger",
			Name:      "call_duration_seconds",
			Help:      "Duration of ledger API calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"endpoint"},
	)

	registrationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "assets",
			Name:      "registration_attempts_total",
			Help:      "Asset registration attempts against the ledger.",
		},
		[]string{"outcome"},
	)

	assetTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "assets",
			Name:      "status_transitions_total",
			Help:      "Asset status transitions by target status.",
		},
		[]string{"status"},
	)

	sponsoredFees = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "sponsor",
			Name:      "fees_total",
			Help:      "Sum of fees paid by the platform wallet.",
		},
		[]string{"action"},
	)

	sponsorDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "sponsor",
			Name:      "decisions_total",
			Help:      "Sponsorship decisions by result.",
		},
		[]string{"result"},
	)

	sponsorDailySpent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tunevault",
			Subsystem: "sponsor",
			Name:      "daily_spent",
			Help:      "Fees committed for the current UTC day.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		ledgerCalls,
		ledgerDuration,
		registrationAttempts,
		assetTransitions,
		sponsoredFees,
		sponsorDecisions,
		sponsorDailySpent,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func RecordLedgerCall(endpoint, outcome string, duration time.Duration) {
	ledgerCalls.WithLabelValues(endpoint, outcome).Inc()
	ledgerDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func RecordRegistrationAttempt(outcome string) {
	registrationAttempts.WithLabelValues(outcome).Inc()
}

func RecordAssetTransition(status string) {
	assetTransitions.WithLabelValues(status).Inc()
}

func RecordSponsorDecision(result string) {
	sponsorDecisions.WithLabelValues(result).Inc()
}

func RecordSponsoredFee(action string, amount float64) {
	sponsoredFees.WithLabelValues(action).Add(amount)
}

func SetSponsorDailySpent(amount float64) {
	sponsorDailySpent.Set(amount)
}
