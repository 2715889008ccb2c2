package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authguard"

// Metrics holds the Prometheus collectors.
type Metrics struct {
	tokensIssued       *prometheus.CounterVec
	tokenValidations   *prometheus.CounterVec
	flowOutcomes       *prometheus.CounterVec
	flowDuration       *prometheus.HistogramVec
	rateLimitDecisions *prometheus.CounterVec
	rateLimitFailOpen  *prometheus.CounterVec
	autoBlocks         *prometheus.CounterVec
	auditDropped       prometheus.Counter
}

// New registers the collectors on reg. A nil reg registers on the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		tokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by kind",
		}, []string{"kind"}),
		tokenValidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Token validations by kind and result",
		}, []string{"kind", "result"}),
		flowOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_outcomes_total",
			Help:      "Engine flow completions by flow and outcome",
		}, []string{"flow", "outcome"}),
		flowDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_duration_seconds",
			Help:      "Engine flow latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow"}),
		rateLimitDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate-limit admission decisions by rule",
		}, []string{"rule", "decision"}),
		rateLimitFailOpen: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_fail_open_total",
			Help:      "Admission checks let through because the cache was unavailable",
		}, []string{"operation"}),
		autoBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_auto_blocks_total",
			Help:      "Identifiers blocked automatically by rule",
		}, []string{"rule"}),
		auditDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Audit events dropped because the dispatcher buffer was full",
		}),
	}
}

// Handler serves the gatherer in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) TokenValidated(kind, result string) {
	if m == nil {
		return
	}
	m.tokenValidations.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) FlowCompleted(flow, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.flowOutcomes.WithLabelValues(flow, outcome).Inc()
	m.flowDuration.WithLabelValues(flow).Observe(d.Seconds())
}

func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

func (m *Metrics) RateLimitDecision(rule string, allowed bool) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(rule, decision(allowed)).Inc()
}

func (m *Metrics) RateLimitFailOpen(op string) {
	if m == nil {
		return
	}
	m.rateLimitFailOpen.WithLabelValues(op).Inc()
}

func (m *Metrics) RateLimitAutoBlock(rule string) {
	if m == nil {
		return
	}
	m.autoBlocks.WithLabelValues(rule).Inc()
}

func decision(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
