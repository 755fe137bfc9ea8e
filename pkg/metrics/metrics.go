package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the resilience layer
type Metrics struct {
	registry *prometheus.Registry

	// Circuit breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// Guarded client metrics
	GuardedCallsTotal   *prometheus.CounterVec
	GuardedCallDuration *prometheus.HistogramVec
	GuardedCallRetries  *prometheus.CounterVec
	CircuitOpenRejected *prometheus.CounterVec

	// Supervisor metrics
	ProbesTotal          *prometheus.CounterVec
	ProbeDuration        *prometheus.HistogramVec
	RecoveryActionsTotal *prometheus.CounterVec
	InstancesEscalated   *prometheus.GaugeVec

	// Alerting metrics
	AlertsFiredTotal    *prometheus.CounterVec
	AlertsResolvedTotal *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "sentinel",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics on a private
// registry so multiple instances can coexist in tests
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "breaker_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"dependency"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"dependency", "from", "to"},
		),

		GuardedCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "guarded_calls_total",
				Help:      "Total number of guarded calls by final outcome",
			},
			[]string{"dependency", "outcome"},
		),
		GuardedCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "guarded_call_duration_seconds",
				Help:      "Guarded call duration in seconds, including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"dependency"},
		),
		GuardedCallRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "guarded_call_retries_total",
				Help:      "Total number of retry attempts within guarded calls",
			},
			[]string{"dependency"},
		),
		CircuitOpenRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "circuit_open_rejected_total",
				Help:      "Calls rejected without a network attempt because the breaker was open",
			},
			[]string{"dependency"},
		),

		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "probes_total",
				Help:      "Total number of health probes by verdict",
			},
			[]string{"instance", "verdict"},
		),
		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "probe_duration_seconds",
				Help:      "Health probe duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"instance"},
		),
		RecoveryActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "recovery_actions_total",
				Help:      "Total number of recovery actions by result",
			},
			[]string{"instance", "result"},
		),
		InstancesEscalated: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "instances_escalated",
				Help:      "Whether an instance is escalated for manual intervention (0/1)",
			},
			[]string{"instance"},
		),

		AlertsFiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "alerts_fired_total",
				Help:      "Total number of alert rule firings",
			},
			[]string{"rule", "severity"},
		),
		AlertsResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "alerts_resolved_total",
				Help:      "Total number of alert rule resolutions",
			},
			[]string{"rule", "severity"},
		),
	}

	m.registry.MustRegister(
		m.BreakerState,
		m.BreakerTransitions,
		m.GuardedCallsTotal,
		m.GuardedCallDuration,
		m.GuardedCallRetries,
		m.CircuitOpenRejected,
		m.ProbesTotal,
		m.ProbeDuration,
		m.RecoveryActionsTotal,
		m.InstancesEscalated,
		m.AlertsFiredTotal,
		m.AlertsResolvedTotal,
	)

	return m
}

// Enabled reports whether collectors were registered
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// Handler returns a Gin handler exposing the metrics endpoint
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordGuardedCall records the final outcome of one logical guarded call
func (m *Metrics) RecordGuardedCall(dependency, outcome string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.GuardedCallsTotal.WithLabelValues(dependency, outcome).Inc()
	m.GuardedCallDuration.WithLabelValues(dependency).Observe(duration.Seconds())
}

// RecordBreakerTransition records a state transition and the new state gauge
func (m *Metrics) RecordBreakerTransition(dependency, from, to string, stateValue float64) {
	if !m.Enabled() {
		return
	}
	m.BreakerTransitions.WithLabelValues(dependency, from, to).Inc()
	m.BreakerState.WithLabelValues(dependency).Set(stateValue)
}

// RecordProbe records a single probe result
func (m *Metrics) RecordProbe(instance, verdict string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.ProbesTotal.WithLabelValues(instance, verdict).Inc()
	m.ProbeDuration.WithLabelValues(instance).Observe(duration.Seconds())
}

// RecordRecoveryAction records a recovery action attempt
func (m *Metrics) RecordRecoveryAction(instance, result string) {
	if !m.Enabled() {
		return
	}
	m.RecoveryActionsTotal.WithLabelValues(instance, result).Inc()
}
