// Package feedback implements the progress-reporting surface: stdout
// progress lines, Prometheus metrics, an optional Redis progress
// broadcast, and an HTTP health/metrics listener. Termination itself is
// decided by internal/evidence.Accumulator.Done; this package only
// reports it.
package feedback

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nestedsampling/polychord-go/internal/resilience"
)

// Metrics holds the Prometheus collectors this engine exposes: the
// nested-sampling run quantities plus the state of the circuit breakers
// internal/resilience trips around the optional sinks, fed via
// ObserveBreaker.
type Metrics struct {
	NDead                prometheus.Gauge
	NLive                prometheus.Gauge
	ActiveWorkers        prometheus.Gauge
	LogZ                 prometheus.Gauge
	LogZSigma            prometheus.Gauge
	MeanLikelihoodCalls  prometheus.Gauge
	LikelihoodCallsTotal prometheus.Counter
	PromotionsTotal      prometheus.Counter
	StallWarningsTotal   prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
	HTTPRequestsTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers the nested-sampling Prometheus
// collectors against the default registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		NDead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polychord_ndead",
			Help: "Number of dead points promoted so far.",
		}),
		NLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polychord_nlive",
			Help: "Current size of the live-point population.",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polychord_active_workers",
			Help: "Number of workers currently gestating a sample.",
		}),
		LogZ: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polychord_log_z",
			Help: "Running log-evidence estimate.",
		}),
		LogZSigma: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polychord_log_z_sigma",
			Help: "Error bar on the log-evidence estimate.",
		}),
		MeanLikelihoodCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polychord_mean_likelihood_calls",
			Help: "EWMA of likelihood evaluations consumed per dead point.",
		}),
		LikelihoodCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polychord_likelihood_calls_total",
			Help: "Total likelihood evaluations performed across all workers.",
		}),
		PromotionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polychord_promotions_total",
			Help: "Total live-to-dead promotions performed by the master.",
		}),
		StallWarningsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polychord_stall_warnings_total",
			Help: "Total iterations where no valid seed could be generated.",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "polychord_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open) for optional sinks.",
		}, []string{"name"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polychord_http_requests_total",
			Help: "Total requests served by the feedback HTTP listener, by path and status.",
		}, []string{"path", "status"}),
	}
	prometheus.MustRegister(
		m.NDead,
		m.NLive,
		m.ActiveWorkers,
		m.LogZ,
		m.LogZSigma,
		m.MeanLikelihoodCalls,
		m.LikelihoodCallsTotal,
		m.PromotionsTotal,
		m.StallWarningsTotal,
		m.CircuitBreakerState,
		m.HTTPRequestsTotal,
	)
	return m
}

// ObserveBreaker mirrors cb's state transitions into the
// CircuitBreakerState gauge, keyed by the breaker's name.
func (m *Metrics) ObserveBreaker(cb *resilience.CircuitBreaker) {
	cb.OnStateChange(func(name string, state resilience.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	})
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
