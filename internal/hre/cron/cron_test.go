package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermes-engine/hermes/internal/event"
	"github.com/hermes-engine/hermes/internal/queue"
)

func TestAddListRemoveRoundTrip(t *testing.T) {
	p := New(queue.New(8, nil))
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, "app1", "* * * * *", "t", true))

	entries, err := p.List(ctx, "app1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t", entries[0].Tag)
	assert.True(t, entries[0].Retrigger)

	require.NoError(t, p.Remove(ctx, "app1", "t"))

	entries, err = p.List(ctx, "app1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAddRejectsInvalidSchedule(t *testing.T) {
	p := New(queue.New(8, nil))
	err := p.Add(context.Background(), "app1", "not a schedule", "t", false)
	assert.Error(t, err)
}

func TestRemoveUnknownTagFails(t *testing.T) {
	p := New(queue.New(8, nil))
	err := p.Remove(context.Background(), "app1", "missing")
	assert.Error(t, err)
}

func TestListOnlyReturnsGivenApp(t *testing.T) {
	p := New(queue.New(8, nil))
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, "app1", "* * * * *", "t1", false))
	require.NoError(t, p.Add(ctx, "app2", "* * * * *", "t2", false))

	entries, err := p.List(ctx, "app1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t1", entries[0].Tag)
}

func TestApplyRetriggerRemovesScheduleWhenHintFalse(t *testing.T) {
	p := New(queue.New(8, nil))
	ctx := context.Background()
	require.NoError(t, p.Add(ctx, "app1", "* * * * *", "t", true))

	p.ApplyRetrigger("app1", "t", false, false)

	entries, err := p.List(ctx, "app1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOneShotScheduleMarksItselfLastAfterFiring(t *testing.T) {
	q := queue.New(8, nil)
	p := New(q)
	ctx := context.Background()

	at := time.Now().Add(-time.Hour).Format(time.RFC3339)
	require.NoError(t, p.Add(ctx, "app1", at, "t", true))

	p.fire("app1", "t")
	select {
	case evt := <-q.C():
		assert.Equal(t, event.CronSource("t"), evt.SourceTag)
	default:
		t.Fatal("expected one event enqueued by the first fire")
	}

	p.mu.Lock()
	marked := p.last[scheduleKey{appName: "app1", tag: "t"}]
	p.mu.Unlock()
	assert.True(t, marked, "schedule should be marked last once its own Next() is exhausted")

	// A second fire (e.g. a stray late tick) must be suppressed now that
	// the schedule has marked itself last.
	p.fire("app1", "t")
	select {
	case <-q.C():
		t.Fatal("a schedule marked last must not enqueue another event")
	default:
	}
}

func TestRecurringScheduleNeverMarksItselfLast(t *testing.T) {
	p := New(queue.New(8, nil))
	ctx := context.Background()
	require.NoError(t, p.Add(ctx, "app1", "* * * * *", "t", true))

	p.fire("app1", "t")

	p.mu.Lock()
	marked := p.last[scheduleKey{appName: "app1", tag: "t"}]
	p.mu.Unlock()
	assert.False(t, marked)
}
