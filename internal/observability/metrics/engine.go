package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics counts ingestion outcomes and lifecycle transitions.
type EngineMetrics struct {
	ingested      *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	violations    *prometheus.CounterVec
	payoutAmounts *prometheus.HistogramVec
	outboxBacklog prometheus.Gauge
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

func Engine() *EngineMetrics {
	return EngineWithConfig(Config{})
}

func EngineWithConfig(cfg Config) *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = newEngineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return engineMetrics
}

func ResetEngineMetricsForTest() {
	engineMetricsOnce = sync.Once{}
	engineMetrics = newEngineMetrics(prometheus.NewRegistry(), Config{})
	engineMetricsOnce.Do(func() {})
}

func newEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "partnerledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	ingested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "partnerledger_payment_events_total",
		Help:        "Payment events received, by outcome and mode.",
		ConstLabels: constLabels,
	}, []string{"event_type", "outcome", "mode"}) // accepted | duplicate_ignored | rejected

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "partnerledger_transitions_total",
		Help:        "State transitions by entity type.",
		ConstLabels: constLabels,
	}, []string{"entity_type", "from", "to"})

	violations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "partnerledger_consistency_violations_total",
		Help:        "Consistency violations found by the integrity check.",
		ConstLabels: constLabels,
	}, []string{"kind"})

	payoutAmounts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "partnerledger_payout_amount_minor",
		Help:        "Payout totals in minor units at the moment they are paid.",
		Buckets:     prometheus.ExponentialBuckets(1000, 4, 8), // $10 .. ~$163k
		ConstLabels: constLabels,
	}, []string{"mode"})

	outboxBacklog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "partnerledger_outbox_backlog",
		Help:        "Unpublished transition events seen by the last relay run.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(ingested, transitions, violations, payoutAmounts, outboxBacklog)

	return &EngineMetrics{
		ingested:      ingested,
		transitions:   transitions,
		violations:    violations,
		payoutAmounts: payoutAmounts,
		outboxBacklog: outboxBacklog,
	}
}

func (m *EngineMetrics) IncIngested(eventType, outcome string, livemode bool) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(eventType, outcome, modeLabel(livemode)).Inc()
}

func (m *EngineMetrics) IncTransition(entityType, from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(entityType, from, to).Inc()
}

func (m *EngineMetrics) IncViolation(kind string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(kind).Inc()
}

func (m *EngineMetrics) ObservePayoutPaid(amount int64, livemode bool) {
	if m == nil {
		return
	}
	m.payoutAmounts.WithLabelValues(modeLabel(livemode)).Observe(float64(amount))
}

func (m *EngineMetrics) SetOutboxBacklog(n int) {
	if m == nil {
		return
	}
	m.outboxBacklog.Set(float64(n))
}

func modeLabel(livemode bool) string {
	if livemode {
		return "live"
	}
	return "test"
}
