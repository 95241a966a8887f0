package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metalcalc",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "metalcalc",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// Entitlement metrics
	meteredActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metalcalc",
			Subsystem: "billing",
			Name:      "metered_actions_total",
			Help:      "Metered action attempts by result (charged, unlimited, denied, failed)",
		},
		[]string{"result"},
	)

	planTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metalcalc",
			Subsystem: "billing",
			Name:      "plan_transitions_total",
			Help:      "Plan transitions by origin and outcome",
		},
		[]string{"origin", "outcome"},
	)

	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metalcalc",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Payment provider webhook events by type and result",
		},
		[]string{"type", "result"},
	)

	planDrift = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "metalcalc",
			Subsystem: "billing",
			Name:      "plan_drift_accounts",
			Help:      "Accounts whose plan disagrees with their subscription status",
		},
		[]string{"kind"},
	)

	// Notifier metrics
	streamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "metalcalc",
			Subsystem: "notify",
			Name:      "stream_subscribers",
			Help:      "Open live snapshot streams",
		},
	)

	quoteFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metalcalc",
			Subsystem: "quotes",
			Name:      "fetch_total",
			Help:      "Quote refreshes by result (ok, fallback)",
		},
		[]string{"result"},
	)
)

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordMeteredAction(result string) {
	meteredActionsTotal.WithLabelValues(result).Inc()
}

func RecordPlanTransition(origin, outcome string) {
	planTransitionsTotal.WithLabelValues(origin, outcome).Inc()
}

func RecordWebhookEvent(eventType, result string) {
	webhookEventsTotal.WithLabelValues(eventType, result).Inc()
}

func SetPlanDrift(kind string, count int) {
	planDrift.WithLabelValues(kind).Set(float64(count))
}

func IncStreamSubscribers() {
	streamSubscribers.Inc()
}

func DecStreamSubscribers() {
	streamSubscribers.Dec()
}

func RecordQuoteFetch(result string) {
	quoteFetchTotal.WithLabelValues(result).Inc()
}
