package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermes-engine/hermes/internal/event"
)

func TestEnqueueAssignsIncreasingSeq(t *testing.T) {
	q := New(4, nil)

	e1 := &event.Event{SourceTag: event.SourceHTTP}
	e2 := &event.Event{SourceTag: event.SourceHTTP}

	require.NoError(t, q.Enqueue(e1))
	require.NoError(t, q.Enqueue(e2))

	assert.Equal(t, uint64(1), e1.Seq)
	assert.Equal(t, uint64(2), e2.Seq)
	assert.Equal(t, 2, q.Depth())
}

func TestEnqueueReturnsQueueFullAtCapacity(t *testing.T) {
	q := New(1, nil)

	require.NoError(t, q.Enqueue(&event.Event{SourceTag: event.SourceKV}))

	err := q.Enqueue(&event.Event{SourceTag: event.SourceKV})
	require.Error(t, err)
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestConsumerDrainsInFIFOOrder(t *testing.T) {
	q := New(8, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(&event.Event{SourceTag: event.SourceInit}))
	}

	var seqs []uint64
	for i := 0; i < 3; i++ {
		e := <-q.C()
		seqs = append(seqs, e.Seq)
	}

	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}
