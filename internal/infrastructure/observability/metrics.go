package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/garyjia/agent-runtime/internal/application/port"
)

// Metrics exposes the runtime's Prometheus collectors. A nil *Metrics is a
// valid no-op sink.
type Metrics struct {
	runDuration      *prometheus.HistogramVec
	gateDecisions    *prometheus.CounterVec
	taskRetries      *prometheus.CounterVec
	taskFailures     *prometheus.CounterVec
	approvalsResolve *prometheus.CounterVec
	approvalsExpired prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the instance registered with the global registry
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the collectors with reg. Collectors that are
// already registered are reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent_runtime",
			Subsystem: "runtime",
			Name:      "run_duration_seconds",
			Help:      "Duration of agent runs by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent_type", "outcome"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_runtime",
			Subsystem: "runtime",
			Name:      "gate_decisions_total",
			Help:      "Approval gate outcomes for proposed actions.",
		}, []string{"agent_type", "gate"}),
		taskRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_runtime",
			Subsystem: "orchestrator",
			Name:      "task_retries_total",
			Help:      "Tasks re-enqueued after a retryable failure.",
		}, []string{"name"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_runtime",
			Subsystem: "orchestrator",
			Name:      "task_failures_total",
			Help:      "Tasks that failed permanently.",
		}, []string{"name"}),
		approvalsResolve: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_runtime",
			Subsystem: "approvals",
			Name:      "resolved_total",
			Help:      "Approval items resolved by final status.",
		}, []string{"status"}),
		approvalsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agent_runtime",
			Subsystem: "approvals",
			Name:      "expired_total",
			Help:      "Approval items expired by the sweep.",
		}),
	}

	m.runDuration = register(reg, m.runDuration)
	m.gateDecisions = register(reg, m.gateDecisions)
	m.taskRetries = register(reg, m.taskRetries)
	m.taskFailures = register(reg, m.taskFailures)
	m.approvalsResolve = register(reg, m.approvalsResolve)
	m.approvalsExpired = register(reg, m.approvalsExpired)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) RunObserved(agentType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(agentType, outcome).Observe(seconds)
}

func (m *Metrics) GateDecided(agentType, gate string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(agentType, gate).Inc()
}

func (m *Metrics) TaskRetried(name string) {
	if m == nil {
		return
	}
	m.taskRetries.WithLabelValues(name).Inc()
}

func (m *Metrics) TaskFailed(name string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(name).Inc()
}

func (m *Metrics) ApprovalResolved(status string) {
	if m == nil {
		return
	}
	m.approvalsResolve.WithLabelValues(status).Inc()
}

func (m *Metrics) ApprovalsExpired(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.approvalsExpired.Add(float64(count))
}

var _ port.Metrics = (*Metrics)(nil)
