package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report host and scheduler activity.
type Metrics struct {
	txDuration    *prometheus.HistogramVec
	txTotal       *prometheus.CounterVec
	blockHeight   prometheus.Gauge
	tasksExecuted *prometheus.CounterVec
	tasksCreated  prometheus.Counter
	tasksRemoved  *prometheus.CounterVec
	activeAgents  prometheus.Gauge
}

var (
	defaultOnce   sync.Once
	sharedMetrics *Metrics
)

// Default returns the instance registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the collectors with reg. Already registered
// collectors of the same name are reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "croncat",
			Subsystem: "host",
			Name:      "tx_duration_seconds",
			Help:      "Time spent executing a host transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "status"}),
		txTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "croncat",
			Subsystem: "host",
			Name:      "tx_total",
			Help:      "Host transactions by kind and outcome.",
		}, []string{"kind", "status"}),
		blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "croncat",
			Subsystem: "host",
			Name:      "block_height",
			Help:      "Height of the latest produced block.",
		}),
		tasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "croncat",
			Subsystem: "manager",
			Name:      "tasks_executed_total",
			Help:      "Proxy calls finalized, by slot type and outcome.",
		}, []string{"slot_type", "outcome"}),
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "croncat",
			Subsystem: "tasks",
			Name:      "created_total",
			Help:      "Tasks created.",
		}),
		tasksRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "croncat",
			Subsystem: "tasks",
			Name:      "removed_total",
			Help:      "Tasks removed, by reason.",
		}, []string{"reason"}),
		activeAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "croncat",
			Subsystem: "agents",
			Name:      "active",
			Help:      "Number of active agents after the latest agents transaction.",
		}),
	}
	m.txDuration = register(reg, m.txDuration)
	m.txTotal = register(reg, m.txTotal)
	m.blockHeight = register(reg, m.blockHeight)
	m.tasksExecuted = register(reg, m.tasksExecuted)
	m.tasksCreated = register(reg, m.tasksCreated)
	m.tasksRemoved = register(reg, m.tasksRemoved)
	m.activeAgents = register(reg, m.activeAgents)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveTx records a finished host transaction.
func (m *Metrics) ObserveTx(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.txDuration.WithLabelValues(kind, status).Observe(d.Seconds())
	m.txTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) SetBlockHeight(h uint64) {
	if m == nil {
		return
	}
	m.blockHeight.Set(float64(h))
}

// TaskExecuted counts a finalized proxy call.
func (m *Metrics) TaskExecuted(slotType, outcome string) {
	if m == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(slotType, outcome).Inc()
}

func (m *Metrics) TaskCreated() {
	if m == nil {
		return
	}
	m.tasksCreated.Inc()
}

func (m *Metrics) TaskRemoved(reason string) {
	if m == nil {
		return
	}
	m.tasksRemoved.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetActiveAgents(n int) {
	if m == nil {
		return
	}
	m.activeAgents.Set(float64(n))
}
