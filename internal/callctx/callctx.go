// Package callctx carries the per-call identity the Module Executor
// synthesizes before each invocation (spec §4.4 step 1: AppName, ModuleId,
// SourceTag, ExecutionCounter, VfsHandle, Deadline, CancelToken) so that HRE
// host functions, invoked from inside a module call, can recover the same
// context every host call in that call observes (spec §4.7).
package callctx

import (
	"context"
	"sync"
	"time"

	"github.com/hermes-engine/hermes/internal/event"
	"github.com/hermes-engine/hermes/internal/vfs"
)

// Context is the fresh, per-call state the executor builds and binds for
// the lifetime of one module invocation. Nothing in it survives the call.
type Context struct {
	AppName          string
	ModuleID         string
	SourceTag        event.SourceTag
	ExecutionCounter uint64
	CorrelationID    string
	VFS              *vfs.FS
	Deadline         time.Time

	handleMu   sync.Mutex
	handles    map[uint32]*vfs.Handle
	nextHandle uint32
}

// PutHandle stores h under a fresh, non-zero id the guest can pass back
// into subsequent vfs_read/vfs_write host calls for the rest of this one
// module invocation. Ids are never reused across calls: a fresh Context is
// synthesized per invocation (spec §4.4), so handles never outlive it.
func (c *Context) PutHandle(h *vfs.Handle) uint32 {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()
	if c.handles == nil {
		c.handles = make(map[uint32]*vfs.Handle)
	}
	c.nextHandle++
	c.handles[c.nextHandle] = h
	return c.nextHandle
}

// GetHandle recovers a handle the guest obtained from a prior vfs_open in
// this same call.
func (c *Context) GetHandle(id uint32) (*vfs.Handle, bool) {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()
	h, ok := c.handles[id]
	return h, ok
}

type ctxKey struct{}

// With attaches c to ctx for the duration of one module call.
func With(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// From recovers the Context a host function is running under. Host
// functions called outside of a module invocation (none, in this engine)
// would see ok == false.
func From(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Context)
	return c, ok
}
