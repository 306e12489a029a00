package hre

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hermes-engine/hermes/internal/callctx"
)

func testSurfaceCtx() context.Context {
	return callctx.With(context.Background(), &callctx.Context{AppName: "app1", ModuleID: "mod1"})
}

func TestCronListReturnsZeroWithoutAProvider(t *testing.T) {
	s := New(Providers{}, nil)
	assert.Zero(t, s.hCronList(testSurfaceCtx(), nil))
}

func TestCronRemoveReturnsZeroWithoutAProvider(t *testing.T) {
	s := New(Providers{}, nil)
	assert.Zero(t, s.hCronRemove(testSurfaceCtx(), nil, 0, 0))
}

func TestCryptoRandomBytesReturnsZeroWithoutAProvider(t *testing.T) {
	s := New(Providers{}, nil)
	assert.Zero(t, s.hCryptoRandomBytes(testSurfaceCtx(), nil, 16))
}

func TestSQLiteExecReturnsZeroWithoutAProvider(t *testing.T) {
	s := New(Providers{}, nil)
	assert.Zero(t, s.hSQLiteExec(testSurfaceCtx(), nil, 0, 0))
}

func TestSQLiteQueryReturnsZeroWithoutAProvider(t *testing.T) {
	s := New(Providers{}, nil)
	assert.Zero(t, s.hSQLiteQuery(testSurfaceCtx(), nil, 0, 0))
}

func TestVFSOpenReturnsZeroWithoutAVFS(t *testing.T) {
	s := New(Providers{}, nil)
	assert.Zero(t, s.hVFSOpen(testSurfaceCtx(), nil, 0, 0, 0))
}

func TestVFSReadReturnsZeroWithoutAVFS(t *testing.T) {
	s := New(Providers{}, nil)
	assert.Zero(t, s.hVFSRead(testSurfaceCtx(), nil, 1, 0, 16))
}

func TestVFSWriteReturnsZeroWithoutAVFS(t *testing.T) {
	s := New(Providers{}, nil)
	assert.Zero(t, s.hVFSWrite(testSurfaceCtx(), nil, 1, 0, 0, 0))
}

func TestVFSListReturnsZeroWithoutAVFS(t *testing.T) {
	s := New(Providers{}, nil)
	assert.Zero(t, s.hVFSList(testSurfaceCtx(), nil, 0, 0))
}

func TestVFSStatReturnsZeroWithoutAVFS(t *testing.T) {
	s := New(Providers{}, nil)
	assert.Zero(t, s.hVFSStat(testSurfaceCtx(), nil, 0, 0))
}
