package localtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowReturnsCurrentUnixMillis(t *testing.T) {
	p := New()
	before := time.Now().UnixMilli()
	got := p.Now(context.Background())
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, got, before)
	assert.LessOrEqual(t, got, after)
}
