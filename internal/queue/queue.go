// Package queue implements the bounded MPSC event queue (spec §4.1). It is
// grounded on the teacher's events.Dispatcher.eventQueue channel-plus-select
// pattern (system/events/dispatcher.go), generalized from "one handler-set"
// to "the dispatcher is the sole consumer, HREs are producers".
package queue

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hermes-engine/hermes/internal/event"
	"github.com/hermes-engine/hermes/internal/herrors"
	"github.com/hermes-engine/hermes/pkg/logger"
)

// Queue is a bounded, multi-producer single-consumer FIFO. Enqueue never
// blocks a producer: at capacity it returns herrors.QueueFull immediately
// (spec §4.1 — "never blocks an HRE thread").
type Queue struct {
	ch      chan *event.Event
	cap     int
	seq     atomic.Uint64
	dropped atomic.Uint64

	log *logger.Logger

	depthGauge   prometheus.GaugeFunc
	droppedTotal *prometheus.CounterVec
}

// Option configures optional metrics registration.
type Option func(*Queue)

// WithMetrics registers gauges/counters against the given registerer. Safe
// to omit in tests.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(q *Queue) {
		q.depthGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "hermes_event_queue_depth",
			Help: "Number of events currently buffered in the ingress queue.",
		}, func() float64 { return float64(len(q.ch)) })
		q.droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hermes_event_queue_dropped_total",
			Help: "Events dropped because the ingress queue was full, by source tag.",
		}, []string{"source"})
		if reg != nil {
			reg.MustRegister(q.depthGauge, q.droppedTotal)
		}
	}
}

// New creates a Queue with the given capacity (Qmax).
func New(capacity int, log *logger.Logger, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	if log == nil {
		log = logger.NewDefault("queue")
	}
	q := &Queue{ch: make(chan *event.Event, capacity), cap: capacity, log: log}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue assigns the next arrival sequence number and attempts a
// non-blocking send. Returns herrors.QueueFull at capacity.
func (q *Queue) Enqueue(e *event.Event) error {
	e.Seq = q.seq.Add(1)

	select {
	case q.ch <- e:
		return nil
	default:
		q.dropped.Add(1)
		if q.droppedTotal != nil {
			q.droppedTotal.WithLabelValues(string(e.SourceTag)).Inc()
		}
		q.log.With(nil).WithField("source", e.SourceTag).Warn("event queue full, dropping event")
		return herrors.QueueFull(string(e.SourceTag))
	}
}

// C exposes the consumer side. The Dispatcher is the sole reader (spec
// §4.1 — "single-consumer").
func (q *Queue) C() <-chan *event.Event { return q.ch }

// Depth returns the current number of buffered events.
func (q *Queue) Depth() int { return len(q.ch) }

// Capacity returns Qmax.
func (q *Queue) Capacity() int { return q.cap }

// Dropped returns the lifetime count of events dropped for QueueFull.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
