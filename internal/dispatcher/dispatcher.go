// Package dispatcher implements the Dispatcher (C6, spec §4.5): per-stream
// FIFO ordering, cross-stream parallelism on a bounded worker pool, and
// ParentRef dependency tracking. Grounded on the teacher's
// system/events/dispatcher.go worker-pool loop, generalized from "one
// global FIFO, one handler set" to "one FIFO per (SourceTag, StreamKey)
// stream, fanned out to every matching (app, module) target".
package dispatcher

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hermes-engine/hermes/internal/event"
	"github.com/hermes-engine/hermes/internal/executor"
	"github.com/hermes-engine/hermes/internal/queue"
	"github.com/hermes-engine/hermes/internal/registry"
	"github.com/hermes-engine/hermes/pkg/logger"
)

// streamBudget bounds how many undelivered events a single stream may
// queue before further arrivals are dropped as StreamCongested (spec §9).
const streamBudget = 256

type streamKey struct {
	tag event.SourceTag
	key string
}

type streamWorker struct {
	ch chan *event.Event
}

// RetriggerFunc is notified after a cron/init-sourced target returns,
// with the handler's retrigger hint. Wired by cmd/hermes to the cron HRE.
type RetriggerFunc func(appName, moduleID string, evt *event.Event, retrigger bool)

// Dispatcher drains the Event Queue and fans events out to module targets
// under the ordering/parallelism rules of spec §4.5.
type Dispatcher struct {
	q    *queue.Queue
	reg  *registry.Registry
	ex   *executor.Executor
	log  *logger.Logger
	sem  *semaphore.Weighted
	timeout time.Duration

	onRetrigger RetriggerFunc

	mu           sync.Mutex
	streams      map[streamKey]*streamWorker
	shuttingDown bool
	streamWG     sync.WaitGroup

	completed sync.Map // event.Ref -> chan struct{}

	congestedTotal *prometheus.CounterVec
	dispatchSecs   *prometheus.HistogramVec
}

// Config controls worker pool sizing and per-call deadlines.
type Config struct {
	Workers   int // 0 => runtime.NumCPU(); forced to 1 by --no-parallel-event-execution
	TimeoutMS int
}

// New builds a Dispatcher. reg and ex must already be wired to the same
// loaded applications.
func New(q *queue.Queue, reg *registry.Registry, ex *executor.Executor, log *logger.Logger, cfg Config, onRetrigger RetriggerFunc) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if log == nil {
		log = logger.NewDefault("dispatcher")
	}

	return &Dispatcher{
		q:           q,
		reg:         reg,
		ex:          ex,
		log:         log,
		sem:         semaphore.NewWeighted(int64(workers)),
		timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
		onRetrigger: onRetrigger,
		streams:     make(map[streamKey]*streamWorker),
	}
}

// WithMetrics registers Prometheus instrumentation against reg.
func (d *Dispatcher) WithMetrics(reg prometheus.Registerer) *Dispatcher {
	d.congestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_dispatcher_stream_congested_total",
		Help: "Events dropped because their stream exceeded its pending budget.",
	}, []string{"source"})
	d.dispatchSecs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hermes_dispatcher_step_duration_seconds",
		Help:    "Time to complete one event step (all subscriber invocations) on a stream.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	reg.MustRegister(d.congestedTotal, d.dispatchSecs)
	return d
}

// Run drains the Event Queue until ctx is cancelled. It returns once the
// queue's producer side stops and every event already accepted into a
// stream has been routed (not necessarily finished — call Shutdown after
// Run returns to drain in-flight steps).
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-d.q.C():
			if !ok {
				return
			}
			d.route(ctx, evt)
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, evt *event.Event) {
	key := streamKey{tag: evt.SourceTag, key: evt.StreamKey}
	w, ok := d.streamFor(ctx, key)
	if !ok {
		return // shutting down
	}

	select {
	case w.ch <- evt:
	default:
		if d.congestedTotal != nil {
			d.congestedTotal.WithLabelValues(string(evt.SourceTag)).Inc()
		}
		d.log.With(nil).WithField("stream", evt.SourceTag).Warn("stream congested, dropping event")
	}
}

func (d *Dispatcher) streamFor(ctx context.Context, key streamKey) (*streamWorker, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shuttingDown {
		return nil, false
	}
	if w, ok := d.streams[key]; ok {
		return w, true
	}

	w := &streamWorker{ch: make(chan *event.Event, streamBudget)}
	d.streams[key] = w
	d.streamWG.Add(1)
	go d.runStream(ctx, w)
	return w, true
}

// runStream is the per-(SourceTag,StreamKey) actor: events are processed
// strictly in arrival order, one at a time, which is what gives every
// stream its FIFO guarantee (spec §8 Testable Property 1) while separate
// streams run as separate goroutines (cross-stream parallelism).
func (d *Dispatcher) runStream(ctx context.Context, w *streamWorker) {
	defer d.streamWG.Done()
	for evt := range w.ch {
		d.processEvent(ctx, evt)
	}
}

func (d *Dispatcher) processEvent(ctx context.Context, evt *event.Event) {
	start := time.Now()
	defer func() {
		if d.dispatchSecs != nil {
			d.dispatchSecs.WithLabelValues(string(evt.SourceTag)).Observe(time.Since(start).Seconds())
		}
	}()

	waited := evt.ParentRef != nil
	if waited {
		d.waitForRef(ctx, *evt.ParentRef)
	}

	targets := d.reg.SubscribersFor(evt.SourceTag, evt.StreamKey, evt.Target)
	if len(targets) == 0 {
		d.markDone(evt.Ref())
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			if err := d.sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer d.sem.Release(1)
			d.invokeTarget(gctx, t, evt, waited)
			return nil
		})
	}
	_ = g.Wait()

	d.markDone(evt.Ref())
}

func (d *Dispatcher) invokeTarget(ctx context.Context, t registry.Target, evt *event.Event, waited bool) {
	// "Unsubscribe wins": a target that waited on a ParentRef is rechecked
	// against the live subscription table right before invocation, so an
	// unsubscribe that happened during the wait cancels this step for that
	// target instead of resuming it once the parent resolved.
	if waited && !d.reg.Subscribed(t.AppName, t.ModuleID, evt.SourceTag, evt.StreamKey) {
		return
	}

	img, ok := d.reg.PrelinkedImage(t.AppName, t.ModuleID)
	if !ok || !img.Handles(evt.SourceTag.BaseTag()) {
		return
	}
	appVFS, ok := d.reg.VFS(t.AppName)
	if !ok {
		return
	}

	deadline := time.Now().Add(d.timeout)
	reply, err := d.ex.Invoke(ctx, t.AppName, appVFS, img, evt, deadline)
	if err != nil {
		d.log.With(nil).
			WithField("app", t.AppName).
			WithField("module", t.ModuleID).
			WithField("source", evt.SourceTag).
			Warn("module call failed: " + err.Error())
		return
	}

	if evt.Correlated() {
		if mb, ok := d.reg.Mailbox(t.AppName); ok {
			mb.Fulfill(evt.CorrelationID, reply.Body)
		}
		return
	}

	if d.onRetrigger != nil {
		d.onRetrigger(t.AppName, t.ModuleID, evt, reply.Retrigger)
	}
}

func (d *Dispatcher) markDone(ref event.Ref) {
	v, _ := d.completed.LoadOrStore(ref, make(chan struct{}))
	ch := v.(chan struct{})
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (d *Dispatcher) waitForRef(ctx context.Context, ref event.Ref) {
	v, _ := d.completed.LoadOrStore(ref, make(chan struct{}))
	ch := v.(chan struct{})
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

// Shutdown closes every stream's intake and waits for in-flight steps to
// finish, guaranteeing spec §8 Testable Property 3 ("no orphan jobs")
// once it returns.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.shuttingDown = true
	streams := make([]*streamWorker, 0, len(d.streams))
	for _, w := range d.streams {
		streams = append(streams, w)
	}
	d.mu.Unlock()

	for _, w := range streams {
		close(w.ch)
	}
	d.streamWG.Wait()
}
