package metrics

import "github.com/prometheus/client_golang/prometheus"

// AssistantMetrics exposes counters/histograms for the request pipeline.
type AssistantMetrics struct {
	requestsTotal   *prometheus.CounterVec
	guardBlocks     *prometheus.CounterVec
	fallbackTotal   prometheus.Counter
	requestLatency  *prometheus.HistogramVec
	healthCacheHits prometheus.Counter
}

func NewAssistantMetrics(reg prometheus.Registerer) *AssistantMetrics {
	m := &AssistantMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduassistant",
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Total chat requests by outcome and answering provider",
		}, []string{"outcome", "provider"}),
		guardBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduassistant",
			Subsystem: "pipeline",
			Name:      "guard_blocks_total",
			Help:      "Turns blocked or rewritten by a guard",
		}, []string{"guard"}),
		fallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eduassistant",
			Subsystem: "pipeline",
			Name:      "fallback_total",
			Help:      "Requests answered by a non-primary provider",
		}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eduassistant",
			Subsystem: "pipeline",
			Name:      "request_latency_seconds",
			Help:      "End-to-end chat request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		healthCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eduassistant",
			Subsystem: "pipeline",
			Name:      "health_cache_hits_total",
			Help:      "Health probe verdicts served from cache",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.guardBlocks, m.fallbackTotal, m.requestLatency, m.healthCacheHits)
	return m
}

func (m *AssistantMetrics) ObserveRequest(outcome, provider string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome, provider).Inc()
	m.requestLatency.WithLabelValues(provider).Observe(seconds)
}

func (m *AssistantMetrics) ObserveGuardBlock(guard string) {
	if m == nil {
		return
	}
	m.guardBlocks.WithLabelValues(guard).Inc()
}

func (m *AssistantMetrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.fallbackTotal.Inc()
}

func (m *AssistantMetrics) ObserveHealthCacheHit() {
	if m == nil {
		return
	}
	m.healthCacheHits.Inc()
}
