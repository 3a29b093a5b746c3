package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Open-Meteo API call rate per operation (current, forecast, hourly, historical, geocode).
	// Watch for: error vs success ratio.
	ProviderCallsTotal *prometheus.CounterVec

	// External API latency per request. Watch for: p95 > 2s (upstream degradation), p99 > 5s (timeout risk).
	ProviderCallDuration *prometheus.HistogramVec

	// Retry attempts for provider calls. Watch for: high retries = unstable upstream.
	ProviderRetriesTotal *prometheus.CounterVec

	// Cache hits per tier (fast, shared). Hit rate = hits/(hits+misses).
	CacheHitsTotal *prometheus.CounterVec

	// Cache misses (both tiers empty or expired).
	CacheMissesTotal prometheus.Counter

	// Cache infrastructure errors per operation. These are swallowed, not surfaced; the
	// counter is the only place they remain visible.
	CacheErrorsTotal *prometheus.CounterVec

	// Shared-tier fallback state: 1 while serving from the in-process emulation
	// because the backend is unreachable.
	CacheSharedFallbackActive prometheus.Gauge

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions, labeled from/to.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Alert evaluation cycles, labeled ok/error.
	AlertCyclesTotal *prometheus.CounterVec

	// Alerts evaluated per cycle.
	AlertsEvaluatedTotal prometheus.Counter

	// Alert triggers fired (cooldown-gated).
	AlertTriggersTotal prometheus.Counter

	// Alerts skipped because of the cooldown window.
	AlertCooldownSkipsTotal prometheus.Counter

	// SSE events pushed, labeled by event type.
	SSEEventsTotal *prometheus.CounterVec

	// SSE events dropped because a subscriber buffer was full.
	SSEDroppedTotal prometheus.Counter

	// Active SSE subscribers.
	SSESubscribers prometheus.Gauge

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"operation", "status"},
	)
	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "providerCallDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)
	ProviderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerRetriesTotal",
			Help: "Total number of retry attempts for provider calls",
		},
		[]string{"operation"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits per tier",
		},
		[]string{"tier"},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of lookups that missed both cache tiers",
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Total number of swallowed cache infrastructure errors",
		},
		[]string{"operation", "category"},
	)
	CacheSharedFallbackActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cacheSharedFallbackActive",
			Help: "1 while the shared tier serves from its in-process fallback",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	AlertCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertCyclesTotal",
			Help: "Alert evaluation cycles",
		},
		[]string{"status"},
	)
	AlertsEvaluatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alertsEvaluatedTotal",
			Help: "Individual alert evaluations across all cycles",
		},
	)
	AlertTriggersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alertTriggersTotal",
			Help: "Alert trigger events fired",
		},
	)
	AlertCooldownSkipsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alertCooldownSkipsTotal",
			Help: "Alert conditions met but skipped by the cooldown window",
		},
	)
	SSEEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sseEventsTotal",
			Help: "Events pushed to the SSE hub",
		},
		[]string{"eventType"},
	)
	SSEDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sseDroppedTotal",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)
	SSESubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sseSubscribers",
			Help: "Active SSE subscribers",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ProviderCallsTotal, ProviderCallDuration, ProviderRetriesTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheSharedFallbackActive,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		AlertCyclesTotal, AlertsEvaluatedTotal, AlertTriggersTotal, AlertCooldownSkipsTotal,
		SSEEventsTotal, SSEDroppedTotal, SSESubscribers,
		RateLimitDeniedTotal,
	)
}

// RecordCircuitBreakerTransition records a state transition for a component
// and keeps the state gauge in sync. Wire as the breaker's OnStateChange hook.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
