package cryptocap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSha256ReturnsThirtyTwoBytes(t *testing.T) {
	p := New()
	digest := p.Sha256(context.Background(), []byte("hello"))
	assert.Len(t, digest, 32)
}

func TestSha256IsDeterministic(t *testing.T) {
	p := New()
	ctx := context.Background()
	a := p.Sha256(ctx, []byte("hello"))
	b := p.Sha256(ctx, []byte("hello"))
	assert.Equal(t, a, b)
}

func TestRandomBytesReturnsRequestedLength(t *testing.T) {
	p := New()
	buf, err := p.RandomBytes(context.Background(), 16)
	require.NoError(t, err)
	assert.Len(t, buf, 16)
}

func TestRandomBytesAreNotConstant(t *testing.T) {
	p := New()
	ctx := context.Background()
	a, err := p.RandomBytes(ctx, 32)
	require.NoError(t, err)
	b, err := p.RandomBytes(ctx, 32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
