// Package permgate enforces the manifest's declared permission table (spec
// §6 metadata.json "permissions") against the app-scoped capability
// providers, when the engine is started in untrusted mode (`hermes run
// --untrusted`). Grounded on the teacher's system/sandbox capability-seam
// split (SandboxedStorage/SandboxedDatabase check a grant table before
// forwarding to the real backend) and on Package.CheckPermission, which the
// manifest package already exposes but nothing wired before this.
package permgate

import (
	"context"

	"github.com/hermes-engine/hermes/internal/herrors"
	"github.com/hermes-engine/hermes/internal/hre"
	"github.com/hermes-engine/hermes/internal/registry"
)

// checker is satisfied by *registry.Registry; narrowed for testability.
type checker interface {
	App(name string) (*registry.AppState, bool)
}

func allow(reg checker, untrusted bool, appName, capability string) error {
	if !untrusted {
		return nil
	}
	app, ok := reg.App(appName)
	if !ok || !app.Pkg.CheckPermission(capability) {
		return herrors.PermissionDenied(capability)
	}
	return nil
}

// Cron wraps an hre.CronProvider, denying Add/List/Remove for apps whose
// metadata.json did not declare the "cron" capability.
type Cron struct {
	hre.CronProvider
	Reg       checker
	Untrusted bool
}

func (g *Cron) Add(ctx context.Context, appName, schedule, tag string, retrigger bool) error {
	if err := allow(g.Reg, g.Untrusted, appName, "cron"); err != nil {
		return err
	}
	return g.CronProvider.Add(ctx, appName, schedule, tag, retrigger)
}

func (g *Cron) List(ctx context.Context, appName string) ([]hre.CronEntry, error) {
	if err := allow(g.Reg, g.Untrusted, appName, "cron"); err != nil {
		return nil, err
	}
	return g.CronProvider.List(ctx, appName)
}

func (g *Cron) Remove(ctx context.Context, appName, tag string) error {
	if err := allow(g.Reg, g.Untrusted, appName, "cron"); err != nil {
		return err
	}
	return g.CronProvider.Remove(ctx, appName, tag)
}

// KV wraps an hre.KVProvider, denying Get/Set for apps that did not declare
// the "kv" capability.
type KV struct {
	hre.KVProvider
	Reg       checker
	Untrusted bool
}

func (g *KV) Get(ctx context.Context, appName, key string) ([]byte, bool, error) {
	if err := allow(g.Reg, g.Untrusted, appName, "kv"); err != nil {
		return nil, false, err
	}
	return g.KVProvider.Get(ctx, appName, key)
}

func (g *KV) Set(ctx context.Context, appName, key string, value []byte) error {
	if err := allow(g.Reg, g.Untrusted, appName, "kv"); err != nil {
		return err
	}
	return g.KVProvider.Set(ctx, appName, key, value)
}

// SQLite wraps an hre.SQLiteProvider, denying Exec/Query for apps that did
// not declare the "sqlite" capability.
type SQLite struct {
	hre.SQLiteProvider
	Reg       checker
	Untrusted bool
}

func (g *SQLite) Exec(ctx context.Context, appName, query string, args ...any) error {
	if err := allow(g.Reg, g.Untrusted, appName, "sqlite"); err != nil {
		return err
	}
	return g.SQLiteProvider.Exec(ctx, appName, query, args...)
}

func (g *SQLite) Query(ctx context.Context, appName, query string, args ...any) ([]map[string]any, error) {
	if err := allow(g.Reg, g.Untrusted, appName, "sqlite"); err != nil {
		return nil, err
	}
	return g.SQLiteProvider.Query(ctx, appName, query, args...)
}
