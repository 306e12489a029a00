package hre

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
)

func TestRegisterExportsEveryHostFunctionWithoutNameCollision(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	s := New(Providers{}, nil)
	require.NoError(t, s.Register(ctx, rt))
}
