// Package metrics exports engine and entity measurements to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zeusync/entsim/internal/core/actions"
	"github.com/zeusync/entsim/internal/core/entities"
)

const DefaultNamespace = "entsim"

var _ actions.Observer = (*EngineCollector)(nil)

// EngineCollector records action engine activity. It is an actions.Observer
// and a prometheus.Collector.
type EngineCollector struct {
	state       prometheus.Gauge
	transitions *prometheus.CounterVec
	pending     prometheus.Gauge
	actions     *prometheus.CounterVec
	actionTime  prometheus.Histogram
	ticks       prometheus.Counter
	tickTime    prometheus.Histogram
	tickActions prometheus.Histogram
}

func NewEngineCollector(namespace string) *EngineCollector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &EngineCollector{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "state",
			Help:      "Current engine state: 0 created, 1 running, 2 paused, 3 stopping, 4 stopped.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Engine state transitions by target state.",
		}, []string{"state"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "pending_actions",
			Help:      "Actions currently scheduled.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "actions_total",
			Help:      "Action runs by result.",
		}, []string{"result"}),
		actionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "action_duration_seconds",
			Help:      "Time spent running a single action.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Ticks run.",
		}),
		tickTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		tickActions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_actions",
			Help:      "Actions run per tick.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func (c *EngineCollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.state, c.transitions, c.pending, c.actions,
		c.actionTime, c.ticks, c.tickTime, c.tickActions,
	}
}

func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.collectors() {
		m.Describe(ch)
	}
}

func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.collectors() {
		m.Collect(ch)
	}
}

func (c *EngineCollector) StateChanged(_, to actions.State) {
	c.state.Set(float64(to))
	c.transitions.WithLabelValues(to.String()).Inc()
}

func (c *EngineCollector) Scheduled(pending int) {
	c.pending.Set(float64(pending))
}

func (c *EngineCollector) ActionDone(elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, actions.ErrActionPanic) {
			result = "panic"
		}
	}
	c.actions.WithLabelValues(result).Inc()
	c.actionTime.Observe(elapsed.Seconds())
}

func (c *EngineCollector) TickDone(_ uint64, elapsed time.Duration, ran int) {
	c.ticks.Inc()
	c.tickTime.Observe(elapsed.Seconds())
	c.tickActions.Observe(float64(ran))
}

// NewEntityGauge reports the number of entities in a container.
func NewEntityGauge(namespace, container string, c *entities.Container) prometheus.GaugeFunc {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "entities",
		Name:        "alive",
		Help:        "Entities currently alive in the container.",
		ConstLabels: prometheus.Labels{"container": container},
	}, func() float64 {
		return float64(c.Len())
	})
}
