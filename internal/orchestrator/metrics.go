package orchestrator

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShayCichocki/taskpilot/internal/llm"
)

const (
	metricsNamespace = "taskpilot"
	metricsSubsystem = "orchestrator"
)

// Metrics exposes Prometheus collectors that report task loop activity.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	compactions     *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	cost            prometheus.Counter
	tasks           *prometheus.CounterVec
	errors          *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the instance registered with the global registry.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the collectors with reg, reusing collectors that
// are already registered. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "Provider requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Time from opening a stream to its end.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tool_calls_total",
			Help:      "Presented tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tool_duration_seconds",
			Help:      "Tool execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "compactions_total",
			Help:      "History truncations by trigger.",
		}, []string{"reason"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tokens_total",
			Help:      "Tokens reported by providers by kind.",
		}, []string{"kind"}),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "cost_usd_total",
			Help:      "Estimated spend in US dollars.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_total",
			Help:      "Finished task loops by final state.",
		}, []string{"state"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "errors_total",
			Help:      "Errors that stopped a task loop by kind.",
		}, []string{"kind"}),
	}

	m.requests = register(reg, m.requests)
	m.requestDuration = register(reg, m.requestDuration)
	m.toolCalls = register(reg, m.toolCalls)
	m.toolDuration = register(reg, m.toolDuration)
	m.compactions = register(reg, m.compactions)
	m.tokens = register(reg, m.tokens)
	m.cost = register(reg, m.cost)
	m.tasks = register(reg, m.tasks)
	m.errors = register(reg, m.errors)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) observeRequest(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(provider, outcome).Inc()
	m.requestDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) observeTool(tool string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) incToolOutcome(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) incCompaction(reason string) {
	if m == nil {
		return
	}
	m.compactions.WithLabelValues(reason).Inc()
}

func (m *Metrics) addUsage(u llm.Usage) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("input").Add(float64(u.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(u.OutputTokens))
	m.tokens.WithLabelValues("cache_write").Add(float64(u.CacheWriteTokens))
	m.tokens.WithLabelValues("cache_read").Add(float64(u.CacheReadTokens))
	m.cost.Add(u.Cost)
}

func (m *Metrics) incTask(state string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(state).Inc()
}

func (m *Metrics) incError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}
