package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Status server request rate.
	HTTPRequestsTotal *prometheus.CounterVec

	// Status server latency.
	HTTPRequestDuration *prometheus.HistogramVec

	// Status server concurrency.
	HTTPRequestsInFlight prometheus.Gauge

	// Status server rate-limit denials.
	RateLimitDeniedTotal prometheus.Counter

	// Upstream METAR request outcomes. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream latency per request. Watch for: p95 near weather.timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts. Watch for: a sustained rate means the upstream is flapping.
	WeatherAPIRetriesTotal prometheus.Counter

	// Per-airport fetch failures after retries are exhausted, by error category.
	FetchFailuresTotal *prometheus.CounterVec

	// Control loop cycles by outcome (ok, fetch_failed, write_failed).
	CyclesTotal *prometheus.CounterVec

	// Wall time of one control loop cycle.
	CycleDurationSeconds prometheus.Histogram

	// Airports currently rendered in each flight category.
	AirportsByCategory *prometheus.GaugeVec

	// Airports whose cached observation is past the staleness threshold.
	StaleAirports prometheus.Gauge

	// LED frame writes by result.
	LEDWritesTotal *prometheus.CounterVec

	// Durable cache saves by result.
	CachePersistTotal *prometheus.CounterVec

	// 1 while night colors are in use.
	NightMode prometheus.Gauge

	// Circuit breaker state: 0=closed, 1=open, 2=half_open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec
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
			Help: "Total number of status server HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "Status server request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of status server requests currently being served",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Status server requests denied by the rate limiter (429)",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of METAR API requests",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "METAR API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of METAR fetch retry attempts",
		},
	)
	FetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchFailuresTotal",
			Help: "Airports that kept their cached observation after retries were exhausted",
		},
		[]string{"reason"},
	)
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyclesTotal",
			Help: "Control loop cycles by outcome",
		},
		[]string{"outcome"},
	)
	CycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cycleDurationSeconds",
			Help:    "Control loop cycle duration in seconds",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60},
		},
	)
	AirportsByCategory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airportsByCategory",
			Help: "Airports rendered in each flight category in the last frame",
		},
		[]string{"category"},
	)
	StaleAirports = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "staleAirports",
			Help: "Airports whose cached observation is past the staleness threshold",
		},
	)
	LEDWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledWritesTotal",
			Help: "LED frame writes by result",
		},
		[]string{"result"},
	)
	CachePersistTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachePersistTotal",
			Help: "Durable weather cache saves by result",
		},
		[]string{"result"},
	)
	NightMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightMode",
			Help: "1 when night colors are in use, else 0",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
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

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight, RateLimitDeniedTotal,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, FetchFailuresTotal,
		CyclesTotal, CycleDurationSeconds,
		AirportsByCategory, StaleAirports,
		LEDWritesTotal, CachePersistTotal, NightMode,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// SetNightMode records whether night colors are active.
func SetNightMode(night bool) {
	if night {
		NightMode.Set(1)
		return
	}
	NightMode.Set(0)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
