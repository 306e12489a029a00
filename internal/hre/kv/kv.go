// Package kv implements the process-local KV capability named in spec §6's
// event-stream list (kv-update). Grounded on the teacher's packageStorage
// in system/runtime/runtime.go — an isolated, per-package key/value map —
// generalized to emit a SourceKV event on every write the way the engine's
// other HREs are event producers as well as capability providers.
package kv

import (
	"context"
	"sync"

	"github.com/hermes-engine/hermes/internal/event"
	"github.com/hermes-engine/hermes/internal/hre"
	"github.com/hermes-engine/hermes/internal/queue"
)

// Provider is the process-wide KV singleton, partitioned by AppName so
// applications cannot observe each other's keys (spec §9 "cross-app
// communication deliberately absent").
type Provider struct {
	q *queue.Queue

	mu    sync.RWMutex
	store map[string]map[string][]byte
}

var _ hre.KVProvider = (*Provider)(nil)

// New builds an empty KV Provider.
func New(q *queue.Queue) *Provider {
	return &Provider{q: q, store: make(map[string]map[string][]byte)}
}

// Get returns the value for key in appName's namespace.
func (p *Provider) Get(ctx context.Context, appName, key string) ([]byte, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ns, ok := p.store[appName]
	if !ok {
		return nil, false, nil
	}
	v, ok := ns[key]
	return v, ok, nil
}

// Set stores value under key in appName's namespace and enqueues a kv
// event so subscribers observe the update.
func (p *Provider) Set(ctx context.Context, appName, key string, value []byte) error {
	p.mu.Lock()
	ns, ok := p.store[appName]
	if !ok {
		ns = make(map[string][]byte)
		p.store[appName] = ns
	}
	ns[key] = value
	p.mu.Unlock()

	return p.q.Enqueue(&event.Event{
		SourceTag: event.SourceKV,
		Target:    event.Target{AppNames: []string{appName}},
		Payload:   []byte(key),
	})
}
