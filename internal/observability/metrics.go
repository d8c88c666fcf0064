package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	providerCallTotal    *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	providerCost         *prometheus.CounterVec
	providerBreakerOpen  *prometheus.GaugeVec

	routingTotal      *prometheus.CounterVec
	routingFallbacks  *prometheus.CounterVec
	routingConfidence prometheus.Histogram

	planItemsTotal   *prometheus.CounterVec
	planDuration     prometheus.Histogram
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter

	fusionTotal     *prometheus.CounterVec
	fusionAgreement prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			providerCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_call_total",
					Help: "Total provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "provider_call_duration_seconds",
					Help:    "Provider call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerCost: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_cost_dollars_total",
					Help: "Cumulative provider cost in dollars by provider.",
				},
				[]string{"provider"},
			),
			providerBreakerOpen: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "provider_breaker_open",
					Help: "Provider circuit breaker open state (1 open, 0 closed).",
				},
				[]string{"provider"},
			),
			routingTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "routing_decisions_total",
					Help: "Total routing decisions by strategy and chosen provider.",
				},
				[]string{"strategy", "provider"},
			),
			routingFallbacks: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "routing_fallbacks_used_total",
					Help: "Total fallback provider attempts by provider.",
				},
				[]string{"provider"},
			),
			routingConfidence: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "routing_decision_confidence",
					Help:    "Confidence of routing decisions.",
					Buckets: prometheus.LinearBuckets(0, 0.1, 11),
				},
			),
			planItemsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "plan_items_total",
					Help: "Total plan work items by terminal status.",
				},
				[]string{"status"},
			),
			planDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "plan_duration_seconds",
					Help:    "Plan execution duration in seconds.",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
				},
			),
			cacheHitsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "result_cache_hits_total",
					Help: "Total work item result cache hits.",
				},
			),
			cacheMissesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "result_cache_misses_total",
					Help: "Total work item result cache misses.",
				},
			),
			fusionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fusion_calls_total",
					Help: "Total fusion calls by status.",
				},
				[]string{"status"},
			),
			fusionAgreement: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "fusion_agreement_ratio",
					Help:    "Agreement ratio of fusion consensus.",
					Buckets: prometheus.LinearBuckets(0, 0.1, 11),
				},
			),
		}

		prometheus.MustRegister(
			m.providerCallTotal,
			m.providerCallDuration,
			m.providerCost,
			m.providerBreakerOpen,
			m.routingTotal,
			m.routingFallbacks,
			m.routingConfidence,
			m.planItemsTotal,
			m.planDuration,
			m.cacheHitsTotal,
			m.cacheMissesTotal,
			m.fusionTotal,
			m.fusionAgreement,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordProviderCall(provider string, duration time.Duration, cost float64, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.providerCallTotal.WithLabelValues(provider, status).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if cost > 0 {
		m.providerCost.WithLabelValues(provider).Add(cost)
	}
}

func SetBreakerOpen(provider string, open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	getMetrics().providerBreakerOpen.WithLabelValues(provider).Set(value)
}

func RecordRoutingDecision(strategy, provider string, confidence float64) {
	m := getMetrics()
	m.routingTotal.WithLabelValues(strategy, provider).Inc()
	m.routingConfidence.Observe(confidence)
}

func RecordFallbackUsed(provider string) {
	getMetrics().routingFallbacks.WithLabelValues(provider).Inc()
}

func RecordPlanItem(status string) {
	getMetrics().planItemsTotal.WithLabelValues(status).Inc()
}

func RecordPlanDuration(duration time.Duration) {
	getMetrics().planDuration.Observe(duration.Seconds())
}

func RecordCacheHit()  { getMetrics().cacheHitsTotal.Inc() }
func RecordCacheMiss() { getMetrics().cacheMissesTotal.Inc() }

func RecordFusion(success bool, agreement float64) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.fusionTotal.WithLabelValues(status).Inc()
	if success {
		m.fusionAgreement.Observe(agreement)
	}
}
