package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	RequestTotal        *prometheus.CounterVec
	SessionRefreshTotal *prometheus.CounterVec
	ForwardDurationMs   *prometheus.HistogramVec
	UpstreamErrorsTotal *prometheus.CounterVec
	RateLimitHitsTotal  *prometheus.CounterVec
}

// NewMetrics creates the gateway metrics and registers them with reg.
// A nil reg registers with the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_requests_total",
			Help: "Requests handled by the gateway, by route class and access decision.",
		}, []string{"class", "decision"}),

		SessionRefreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_session_refresh_total",
			Help: "Session refresh attempts by outcome.",
		}, []string{"outcome"}),

		ForwardDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medgate_forward_duration_ms",
			Help:    "Duration of forwarded API calls in milliseconds, including backend latency.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"route", "status"}),

		UpstreamErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_upstream_errors_total",
			Help: "Failed upstream calls by upstream and failure reason.",
		}, []string{"upstream", "reason"}),

		RateLimitHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_rate_limit_hits_total",
			Help: "Requests rejected by the per-route rate limit.",
		}, []string{"route"}),
	}
}

func (m *Metrics) RecordRequest(class, decision string) {
	m.RequestTotal.WithLabelValues(class, decision).Inc()
}

func (m *Metrics) RecordRefresh(outcome string) {
	m.SessionRefreshTotal.WithLabelValues(outcome).Inc()
}

// RecordForward records one forwarded API call. status is the HTTP status
// returned to the caller.
func (m *Metrics) RecordForward(route string, status int, durationMs float64) {
	m.ForwardDurationMs.WithLabelValues(route, strconv.Itoa(status)).Observe(durationMs)
}

func (m *Metrics) RecordUpstreamError(upstream, reason string) {
	m.UpstreamErrorsTotal.WithLabelValues(upstream, reason).Inc()
}

func (m *Metrics) RecordRateLimitHit(route string) {
	m.RateLimitHitsTotal.WithLabelValues(route).Inc()
}
