package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxFulfillDeliversToAwaiter(t *testing.T) {
	mb := NewMailbox()
	ch := mb.Register("corr-1")

	require.True(t, mb.Fulfill("corr-1", []byte("reply")))

	select {
	case body := <-ch:
		assert.Equal(t, []byte("reply"), body)
	default:
		t.Fatal("expected reply to be immediately available")
	}
}

func TestMailboxFulfillIsAtMostOnce(t *testing.T) {
	mb := NewMailbox()
	mb.Register("corr-1")

	assert.True(t, mb.Fulfill("corr-1", []byte("first")))
	assert.False(t, mb.Fulfill("corr-1", []byte("second")))
}

func TestMailboxFulfillUnknownCorrelationIDFails(t *testing.T) {
	mb := NewMailbox()
	assert.False(t, mb.Fulfill("missing", []byte("x")))
}

func TestMailboxCancelRemovesEntry(t *testing.T) {
	mb := NewMailbox()
	mb.Register("corr-1")
	mb.Cancel("corr-1")

	assert.False(t, mb.Fulfill("corr-1", []byte("late")))
}
