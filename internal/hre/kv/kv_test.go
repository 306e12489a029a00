package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermes-engine/hermes/internal/queue"
)

func TestSetThenGetRoundTrips(t *testing.T) {
	p := New(queue.New(8, nil))
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "app1", "k", []byte("v")))

	v, ok, err := p.Get(ctx, "app1", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestGetMissingKeyReturnsNotOK(t *testing.T) {
	p := New(queue.New(8, nil))
	_, ok, err := p.Get(context.Background(), "app1", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNamespacesAreIsolatedPerApp(t *testing.T) {
	p := New(queue.New(8, nil))
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "app1", "k", []byte("one")))
	require.NoError(t, p.Set(ctx, "app2", "k", []byte("two")))

	v1, _, _ := p.Get(ctx, "app1", "k")
	v2, _, _ := p.Get(ctx, "app2", "k")
	assert.Equal(t, []byte("one"), v1)
	assert.Equal(t, []byte("two"), v2)
}

func TestSetEnqueuesKVEvent(t *testing.T) {
	q := queue.New(8, nil)
	p := New(q)

	require.NoError(t, p.Set(context.Background(), "app1", "k", []byte("v")))

	evt := <-q.C()
	assert.Equal(t, "kv", string(evt.SourceTag))
}
