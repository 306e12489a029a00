// Package registry implements the App Registry (C3, spec §4.2): per-
// application runtime state (loaded modules, VFS, subscriptions, mailbox),
// constructed once at engine start from an opened package. Grounded on the
// teacher's system/sandbox.CapabilitySet (per-entity mutex-guarded mutation
// with lock-free reads) and system/runtime.PackageRuntime (one runtime
// object per installed package), generalized from "one runtime per
// service" to "one AppState per application with its own module set".
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/hermes-engine/hermes/internal/event"
	"github.com/hermes-engine/hermes/internal/executor"
	"github.com/hermes-engine/hermes/internal/manifest"
	"github.com/hermes-engine/hermes/internal/vfs"
)

// subscription is one (ModuleId, Filter) pair registered against a base
// event tag. Filter "" matches every event on that tag.
type subscription struct {
	moduleID string
	filter   string
}

// Target names one (AppName, ModuleId) pair the dispatcher should invoke
// for a matching event.
type Target struct {
	AppName  string
	ModuleID string
}

// AppState is the live, per-application runtime state spec §3 describes.
type AppState struct {
	Name    string
	Pkg     *manifest.Package
	Images  map[string]*executor.PrelinkedImage
	VFS     *vfs.FS
	Mailbox *Mailbox

	mu            sync.RWMutex
	subscriptions map[string][]subscription // keyed by base tag
}

// Subscribe registers moduleID against baseTag/filter. Mutation is
// serialized per-AppName per spec §4.2.
func (a *AppState) Subscribe(baseTag, filter, moduleID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscriptions[baseTag] = append(a.subscriptions[baseTag], subscription{moduleID: moduleID, filter: filter})
}

// Unsubscribe removes a previously registered (baseTag, filter, moduleID)
// subscription, if present.
func (a *AppState) Unsubscribe(baseTag, filter, moduleID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	subs := a.subscriptions[baseTag]
	out := subs[:0]
	for _, s := range subs {
		if s.moduleID == moduleID && s.filter == filter {
			continue
		}
		out = append(out, s)
	}
	a.subscriptions[baseTag] = out
}

func (a *AppState) subscribersFor(baseTag, filter string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var modules []string
	for _, s := range a.subscriptions[baseTag] {
		if s.filter == "" || s.filter == filter {
			modules = append(modules, s.moduleID)
		}
	}
	return modules
}

// Registry maps AppName to AppState (spec §4.2).
type Registry struct {
	ex *executor.Executor

	mu     sync.RWMutex
	apps   map[string]*AppState
	byHost map[string]string
}

// New builds an empty Registry bound to the engine's shared Executor (and
// therefore its shared wazero.Runtime, so prelinked images across every
// application resolve the same host surface).
func New(ex *executor.Executor) *Registry {
	return &Registry{
		ex:     ex,
		apps:   make(map[string]*AppState),
		byHost: make(map[string]string),
	}
}

// BindExecutor attaches the shared Executor after construction, for
// bootstrap orderings where the Executor's host surface itself needs a
// reference to the Registry before the Executor exists (e.g. untrusted-mode
// permission checks against loaded apps).
func (r *Registry) BindExecutor(ex *executor.Executor) {
	r.ex = ex
}

// LoadOptions carries the construction-time collaborators an AppState
// needs beyond its package handle.
type LoadOptions struct {
	StatePath string // path to this app's <app>.hfs content store
	IPFS      vfs.IPFSProvider
}

// Load constructs one AppState per spec §4.2: parse the package, compile a
// prelinked image per module against the Registry's bound Executor (set at
// construction or via BindExecutor), derive initial subscriptions from each
// module's exported_events, and initialize the VFS.
func (r *Registry) Load(ctx context.Context, handle manifest.PackageHandle, opts LoadOptions) (*AppState, error) {
	if r.ex == nil {
		return nil, fmt.Errorf("registry: Load called before an Executor was bound")
	}
	rt := r.ex.Runtime()

	pkg, err := manifest.OpenPackage(handle)
	if err != nil {
		return nil, fmt.Errorf("opening package: %w", err)
	}

	store, err := vfs.OpenStore(opts.StatePath)
	if err != nil {
		return nil, fmt.Errorf("opening content store: %w", err)
	}

	appFS := vfs.New(pkg.Meta.AppName, handle, pkg.WWWRoot, pkg.ShareRoot, pkg.LibRoot, store, opts.IPFS)

	state := &AppState{
		Name:          pkg.Meta.AppName,
		Pkg:           pkg,
		Images:        make(map[string]*executor.PrelinkedImage, len(pkg.Modules)),
		VFS:           appFS,
		Mailbox:       NewMailbox(),
		subscriptions: make(map[string][]subscription),
	}

	for moduleID, mod := range pkg.Modules {
		image, err := executor.Compile(ctx, rt, mod)
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", moduleID, err)
		}
		state.Images[moduleID] = image

		for _, evtName := range mod.Metadata.ExportedEvents {
			state.Subscribe(evtName, "", moduleID)
		}
	}

	r.mu.Lock()
	r.apps[pkg.Meta.AppName] = state
	for _, host := range pkg.App.Hostnames {
		r.byHost[host] = pkg.Meta.AppName
	}
	r.mu.Unlock()

	return state, nil
}

// LookupByHost resolves an HTTP Host header to its AppState.
func (r *Registry) LookupByHost(host string) (*AppState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byHost[host]
	if !ok {
		return nil, false
	}
	return r.apps[name], true
}

// App returns the AppState for a known AppName.
func (r *Registry) App(name string) (*AppState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apps[name]
	return a, ok
}

// Apps returns every loaded application, for broadcast-target ("all
// subscribed") event resolution.
func (r *Registry) Apps() []*AppState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AppState, 0, len(r.apps))
	for _, a := range r.apps {
		out = append(out, a)
	}
	return out
}

// SubscribersFor returns every (AppName, ModuleId) target subscribed to
// SourceTag's base tag with a filter matching evtFilter (spec §4.5
// "targeting": union across apps unless Target pins specific AppNames).
func (r *Registry) SubscribersFor(tag event.SourceTag, evtFilter string, target event.Target) []Target {
	baseTag := tag.BaseTag()

	var candidates []*AppState
	if target.All || len(target.AppNames) == 0 {
		candidates = r.Apps()
	} else {
		r.mu.RLock()
		for _, name := range target.AppNames {
			if a, ok := r.apps[name]; ok {
				candidates = append(candidates, a)
			}
		}
		r.mu.RUnlock()
	}

	var out []Target
	for _, a := range candidates {
		for _, moduleID := range a.subscribersFor(baseTag, evtFilter) {
			out = append(out, Target{AppName: a.Name, ModuleID: moduleID})
		}
	}
	return out
}

// Subscribed reports whether moduleID is, right now, still subscribed to
// tag's base tag with a filter matching evtFilter. The dispatcher calls
// this immediately before invoking a target that waited on a ParentRef,
// to enforce "unsubscribe wins": a target that unsubscribed while the
// step was waiting on its parent must not be resumed once the parent
// resolves (spec §9 Open Question).
func (r *Registry) Subscribed(appName, moduleID string, tag event.SourceTag, evtFilter string) bool {
	a, ok := r.App(appName)
	if !ok {
		return false
	}
	for _, id := range a.subscribersFor(tag.BaseTag(), evtFilter) {
		if id == moduleID {
			return true
		}
	}
	return false
}

// PrelinkedImage returns the compiled image for (AppName, ModuleId).
func (r *Registry) PrelinkedImage(appName, moduleID string) (*executor.PrelinkedImage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apps[appName]
	if !ok {
		return nil, false
	}
	img, ok := a.Images[moduleID]
	return img, ok
}

// Mailbox returns the application's reply-correlation table.
func (r *Registry) Mailbox(appName string) (*Mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apps[appName]
	if !ok {
		return nil, false
	}
	return a.Mailbox, true
}

// VFS returns the application's virtual filesystem.
func (r *Registry) VFS(appName string) (*vfs.FS, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apps[appName]
	if !ok {
		return nil, false
	}
	return a.VFS, true
}

// Close closes every loaded application's prelinked images, draining
// cleanly at shutdown (spec Testable Property 3).
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, a := range r.apps {
		for _, img := range a.Images {
			if err := img.Close(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
