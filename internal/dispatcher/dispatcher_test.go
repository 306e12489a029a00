package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hermes-engine/hermes/internal/event"
	"github.com/hermes-engine/hermes/internal/queue"
	"github.com/hermes-engine/hermes/internal/registry"
)

func newTestDispatcher() *Dispatcher {
	return New(queue.New(8, nil), registry.New(nil), nil, nil, Config{Workers: 1, TimeoutMS: 100}, nil)
}

func TestRoutePreservesArrivalOrderWithinAStream(t *testing.T) {
	d := newTestDispatcher()

	key := streamKey{tag: event.SourceInit, key: ""}
	ch := make(chan *event.Event, streamBudget)
	d.mu.Lock()
	d.streams[key] = &streamWorker{ch: ch}
	d.mu.Unlock()

	for i := 1; i <= 3; i++ {
		d.route(context.Background(), &event.Event{SourceTag: event.SourceInit, Seq: uint64(i)})
	}
	close(ch)

	var seqs []uint64
	for e := range ch {
		seqs = append(seqs, e.Seq)
	}
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestRouteDropsEventWhenStreamChannelIsFull(t *testing.T) {
	d := newTestDispatcher()

	key := streamKey{tag: event.SourceKV, key: ""}
	ch := make(chan *event.Event, 1)
	ch <- &event.Event{Seq: 1}
	d.mu.Lock()
	d.streams[key] = &streamWorker{ch: ch}
	d.mu.Unlock()

	d.route(context.Background(), &event.Event{SourceTag: event.SourceKV, Seq: 2})

	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(1), (<-ch).Seq)
}

func TestWaitForRefUnblocksAfterMarkDone(t *testing.T) {
	d := newTestDispatcher()
	ref := event.Ref{SourceTag: event.SourceCron, StreamKey: "t", Seq: 1}

	done := make(chan struct{})
	go func() {
		d.waitForRef(context.Background(), ref)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("waitForRef returned before markDone was called")
	case <-time.After(20 * time.Millisecond):
	}

	d.markDone(ref)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitForRef did not unblock after markDone")
	}
}

func TestProcessEventWithNoSubscribersMarksDoneWithoutExecutor(t *testing.T) {
	d := newTestDispatcher()
	evt := &event.Event{SourceTag: event.SourceKV, Seq: 7}

	d.processEvent(context.Background(), evt)

	done := make(chan struct{})
	go func() {
		d.waitForRef(context.Background(), evt.Ref())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected ref to already be marked done")
	}
}

func TestInvokeTargetConsultsSubscriptionLivenessOnlyAfterWaiting(t *testing.T) {
	d := newTestDispatcher()
	evt := &event.Event{SourceTag: event.SourceKV, StreamKey: "tag"}
	target := registry.Target{AppName: "ghost-app", ModuleID: "ghost-mod"}

	// waited=true takes the "unsubscribe wins" path: registry.Subscribed
	// is checked first and returns false for an app that was never
	// loaded, short-circuiting before any PrelinkedImage/executor lookup.
	assert.NotPanics(t, func() {
		d.invokeTarget(context.Background(), target, evt, true)
	})
	// waited=false skips that check entirely and falls through to the
	// existing PrelinkedImage lookup, which also reports not-found here.
	assert.NotPanics(t, func() {
		d.invokeTarget(context.Background(), target, evt, false)
	})
}

func TestShutdownWaitsForStreamWorkersToDrain(t *testing.T) {
	d := newTestDispatcher()

	d.route(context.Background(), &event.Event{SourceTag: event.SourceKV, StreamKey: "a"})
	d.route(context.Background(), &event.Event{SourceTag: event.SourceKV, StreamKey: "b"})

	done := make(chan struct{})
	go func() {
		d.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return")
	}
}
