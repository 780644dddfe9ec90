package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "printquote"

var (
	ordersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_processed_total",
			Help:      "Orders driven to a terminal state by result (quoted, error)",
		},
		[]string{"result"},
	)

	claimAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_attempts_total",
			Help:      "Claim attempts by result (claimed, skipped, error)",
		},
		[]string{"result"},
	)

	stageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	bridgeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_calls_total",
			Help:      "Bridge calls by provider, action and result",
		},
		[]string{"provider", "action", "result"},
	)

	loopErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_errors_total",
			Help:      "Poll loop iterations that failed before reaching an order",
		},
	)

	coveragePct = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "coverage_percent",
			Help:      "Measured ink coverage of analyzed documents",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Synchronous API requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

var initOnce sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(ordersProcessed, claimAttempts, stageLatency, bridgeCalls, loopErrors, coveragePct, httpRequests)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncProcessed(result string) { ordersProcessed.WithLabelValues(result).Inc() }
func IncClaim(result string) { claimAttempts.WithLabelValues(result).Inc() }
func IncLoopError() { loopErrors.Inc() }
func ObserveCoverage(pct float64) { coveragePct.Observe(pct) }
func IncHTTP(route, code string) { httpRequests.WithLabelValues(route, code).Inc() }

func ObserveStage(stage string, dur time.Duration) {
	stageLatency.WithLabelValues(stage).Observe(dur.Seconds())
}

func ObserveBridge(provider, action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	bridgeCalls.WithLabelValues(provider, action, result).Inc()
}
