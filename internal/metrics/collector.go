// Package metrics exposes Prometheus instruments for the generation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lazywriting/api/internal/model"
)

// Task outcomes
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
	OutcomeRetry    = "retry"
	OutcomeStale    = "stale"
)

// Collector groups the pipeline instruments. A nil *Collector is a no-op.
type Collector struct {
	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	chunksTotal     *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	autoChain       prometheus.Counter
}

// NewCollector registers the instruments on reg
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_tasks_total",
				Help:      "Generation task attempts by outcome",
			},
			[]string{"stage", "provider", "outcome"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_task_duration_seconds",
				Help:      "Duration of one generation attempt",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 240},
			},
			[]string{"stage", "provider"},
		),
		chunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_chunks_total",
				Help:      "Streamed chunks relayed to subscribers",
			},
			[]string{"stage", "provider"},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Events published on the stream bus by type",
			},
			[]string{"type"},
		),
		autoChain: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "autochain_triggers_total",
				Help:      "Draft batches started automatically after a brainstorm batch",
			},
		),
	}
}

// RecordTask records one finished attempt
func (c *Collector) RecordTask(stage model.Stage, provider model.Provider, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.tasksTotal.WithLabelValues(string(stage), string(provider), outcome).Inc()
	c.taskDuration.WithLabelValues(string(stage), string(provider)).Observe(d.Seconds())
}

func (c *Collector) RecordChunk(stage model.Stage, provider model.Provider) {
	if c == nil {
		return
	}
	c.chunksTotal.WithLabelValues(string(stage), string(provider)).Inc()
}

func (c *Collector) RecordEvent(eventType string) {
	if c == nil {
		return
	}
	c.eventsPublished.WithLabelValues(eventType).Inc()
}

func (c *Collector) RecordAutoChain() {
	if c == nil {
		return
	}
	c.autoChain.Inc()
}
