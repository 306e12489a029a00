// Package executor implements the Module Executor (C5, spec §4.4): per-call
// WASM instantiation from a prelinked image, with the fresh-state guarantee
// (no module-local state survives a call) and deadline/cancellation
// enforcement. Grounded on the wazero usage in
// other_examples/.../DeBrosOfficial-network pkg/serverless engine: a
// compile-once/instantiate-per-call Engine with a malloc/memory.Write
// handoff for guest input and a packed ptr+len return for guest output.
package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/hermes-engine/hermes/internal/callctx"
	"github.com/hermes-engine/hermes/internal/event"
	"github.com/hermes-engine/hermes/internal/herrors"
	"github.com/hermes-engine/hermes/internal/manifest"
	"github.com/hermes-engine/hermes/internal/vfs"
	"github.com/hermes-engine/hermes/pkg/logger"
)

// Surface is the host-function table a module imports (C8). Register binds
// it to the runtime once at engine start; every module call shares the
// same bound functions and recovers its own identity via callctx.
type Surface interface {
	Register(ctx context.Context, rt wazero.Runtime) error
}

// PrelinkedImage wraps a compiled WASM module together with the event
// names it handles, built once when the Registry loads a package (spec §3
// "Prelinked image" — host imports resolved once to avoid per-call linking
// cost).
type PrelinkedImage struct {
	ModuleID       string
	Compiled       wazero.CompiledModule
	ExportedEvents map[string]bool
	Config         manifest.ModuleConfig
}

// Handles reports whether this module declared an exported handler for the
// given event base tag.
func (p *PrelinkedImage) Handles(baseTag string) bool {
	return p.ExportedEvents[baseTag]
}

// Compile builds a PrelinkedImage from a parsed module, against the
// engine's shared wazero.Runtime.
func Compile(ctx context.Context, rt wazero.Runtime, mod *manifest.Module) (*PrelinkedImage, error) {
	compiled, err := rt.CompileModule(ctx, mod.Wasm)
	if err != nil {
		return nil, fmt.Errorf("compiling module %q: %w", mod.Metadata.ModuleID, err)
	}

	events := make(map[string]bool, len(mod.Metadata.ExportedEvents))
	for _, e := range mod.Metadata.ExportedEvents {
		events[e] = true
	}

	return &PrelinkedImage{
		ModuleID:       mod.Metadata.ModuleID,
		Compiled:       compiled,
		ExportedEvents: events,
		Config:         mod.Config,
	}, nil
}

// Close releases the compiled module.
func (p *PrelinkedImage) Close(ctx context.Context) error {
	return p.Compiled.Close(ctx)
}

// Reply is the result of one invocation: either a correlated reply body
// (HTTP, HTTP-response sources) or a retrigger hint (cron, init) — spec
// §4.4 step 3, "the handler's return value is the reply ... or a boolean
// retrigger hint".
type Reply struct {
	Body      []byte
	Retrigger bool
}

// Executor runs module calls against prelinked images.
type Executor struct {
	runtime wazero.Runtime
	log     *logger.Logger
	counter atomic.Uint64
}

// New builds an Executor sharing one wazero.Runtime across every call
// (grounded on the example engine's single long-lived runtime plus a
// per-call Instantiate). surface is registered against the runtime once.
func New(ctx context.Context, log *logger.Logger, surface Surface) (*Executor, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if surface != nil {
		if err := surface.Register(ctx, rt); err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("registering host surface: %w", err)
		}
	}

	if log == nil {
		log = logger.NewDefault("executor")
	}

	return &Executor{runtime: rt, log: log}, nil
}

// Close closes the shared runtime and every module instantiated against
// it. Callers must have already stopped issuing Invoke calls (spec
// Testable Property 3: "no orphan jobs").
func (ex *Executor) Close(ctx context.Context) error {
	return ex.runtime.Close(ctx)
}

// Runtime returns the shared wazero.Runtime, so the Registry can compile
// prelinked images against the same runtime the Surface was registered on.
func (ex *Executor) Runtime() wazero.Runtime {
	return ex.runtime
}

// Invoke runs the algorithm in spec §4.4: synthesize a fresh context,
// instantiate, call the handler matching evt's base source tag, tear down
// unconditionally. No guest state survives past this call.
func (ex *Executor) Invoke(ctx context.Context, appName string, appVFS *vfs.FS, image *PrelinkedImage, evt *event.Event, deadline time.Time) (Reply, error) {
	counter := ex.counter.Add(1)

	cc := &callctx.Context{
		AppName:          appName,
		ModuleID:         image.ModuleID,
		SourceTag:        evt.SourceTag,
		ExecutionCounter: counter,
		CorrelationID:    evt.CorrelationID,
		VFS:              appVFS,
		Deadline:         deadline,
	}

	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	callCtx = callctx.With(callCtx, cc)

	input, err := encodePayload(evt)
	if err != nil {
		return Reply{}, herrors.HostCallFailed(err)
	}

	modCfg := wazero.NewModuleConfig().
		WithName(fmt.Sprintf("%s/%s#%d", appName, image.ModuleID, counter)).
		WithStartFunctions(). // fresh instance, no WASI _start autorun (spec: each call sees fresh module state)
		WithArgs(image.ModuleID)

	instance, err := ex.runtime.InstantiateModule(callCtx, image.Compiled, modCfg)
	if err != nil {
		return ex.classifyInstantiateError(callCtx, err)
	}
	defer instance.Close(ctx)

	handlerName := "handle_" + evt.SourceTag.BaseTag()
	out, err := callHandler(callCtx, instance, handlerName, input)
	if err != nil {
		return ex.classifyCallError(callCtx, err)
	}

	return decodeReply(evt, out), nil
}

func (ex *Executor) classifyInstantiateError(ctx context.Context, err error) (Reply, error) {
	if ctx.Err() == context.DeadlineExceeded {
		return Reply{}, herrors.DeadlineExceeded()
	}
	if ctx.Err() == context.Canceled {
		return Reply{}, herrors.Cancelled()
	}
	return Reply{}, herrors.ModuleTrap(err)
}

func (ex *Executor) classifyCallError(ctx context.Context, err error) (Reply, error) {
	if ctx.Err() == context.DeadlineExceeded {
		return Reply{}, herrors.DeadlineExceeded()
	}
	if ctx.Err() == context.Canceled {
		return Reply{}, herrors.Cancelled()
	}
	return Reply{}, herrors.ModuleTrap(err)
}

// callHandler invokes the exported handler using the malloc/memory.Write
// handoff for input and a packed (ptr<<32|len) return for output, the same
// convention the reference serverless engine uses for non-WASI "handle"
// exports.
func callHandler(ctx context.Context, instance api.Module, handlerName string, input []byte) ([]byte, error) {
	handleFn := instance.ExportedFunction(handlerName)
	if handleFn == nil {
		return nil, fmt.Errorf("module does not export %q", handlerName)
	}

	memory := instance.ExportedMemory("memory")
	if memory == nil {
		return nil, fmt.Errorf("module does not export memory")
	}

	var inputPtr, inputLen uint32
	inputLen = uint32(len(input))

	if mallocFn := instance.ExportedFunction("malloc"); mallocFn != nil && inputLen > 0 {
		results, err := mallocFn.Call(ctx, uint64(inputLen))
		if err != nil {
			return nil, fmt.Errorf("malloc: %w", err)
		}
		inputPtr = uint32(results[0])
		if !memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("writing input to guest memory")
		}
		if freeFn := instance.ExportedFunction("free"); freeFn != nil {
			defer func() { _, _ = freeFn.Call(ctx, uint64(inputPtr)) }()
		}
	}

	results, err := handleFn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	packed := results[0]
	outputPtr := uint32(packed)
	outputLen := uint32(packed >> 32)
	if outputLen == 0 {
		return nil, nil
	}

	out, ok := memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("reading output from guest memory")
	}
	cp := make([]byte, len(out))
	copy(cp, out)
	return cp, nil
}

// encodePayload serializes an Event's payload for the guest. The engine
// treats Payload as an opaque byte blob the HRE producing the event has
// already shaped (HTTP body+headers, pub-sub message, cron tick marker).
func encodePayload(evt *event.Event) ([]byte, error) {
	switch p := evt.Payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T for source %q", p, evt.SourceTag)
	}
}

// decodeReply interprets a handler's raw output per spec §4.4: for
// correlated events (HTTP, HTTP-response) the bytes are the reply body;
// for cron/init the low byte is a boolean retrigger hint.
func decodeReply(evt *event.Event, out []byte) Reply {
	if evt.Correlated() {
		return Reply{Body: out}
	}
	if len(out) == 0 {
		return Reply{Retrigger: false}
	}
	return Reply{Retrigger: out[0] != 0}
}
