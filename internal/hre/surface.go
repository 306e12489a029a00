// Package hre implements the HRE Surface (C8, spec §4.7): the host-function
// table modules import, and the Provider interfaces each Runtime Extension
// satisfies. Every provider is a process-wide singleton shared by every
// application (spec §4.7 "each HRE is a singleton within the engine
// process"). Grounded on the example serverless engine's registerHostModule
// (a single wazero host module named "env" exporting numbered host calls)
// and on the teacher's system/sandbox capability-provider seams
// (SandboxedStorage/SandboxedDatabase/SandboxedBus interfaces per
// capability).
package hre

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/hermes-engine/hermes/internal/callctx"
	"github.com/hermes-engine/hermes/internal/herrors"
	"github.com/hermes-engine/hermes/pkg/logger"
)

const hostModuleName = "hermes"

// CronProvider schedules cron:<tag> event producers.
type CronProvider interface {
	Add(ctx context.Context, appName, schedule, tag string, retrigger bool) error
	List(ctx context.Context, appName string) ([]CronEntry, error)
	Remove(ctx context.Context, appName, tag string) error
}

// CronEntry describes one registered schedule.
type CronEntry struct {
	Tag       string
	Schedule  string
	Retrigger bool
}

// KVProvider is the process-local key/value capability; writes emit a
// SourceKV event back to the owning application.
type KVProvider interface {
	Get(ctx context.Context, appName, key string) ([]byte, bool, error)
	Set(ctx context.Context, appName, key string, value []byte) error
}

// SQLiteProvider is the per-app SQLite capability seam (spec §1 — the
// binding's SQL surface itself is out of core scope; the core exposes only
// this seam).
type SQLiteProvider interface {
	Exec(ctx context.Context, appName, query string, args ...any) error
	Query(ctx context.Context, appName, query string, args ...any) ([]map[string]any, error)
}

// LocaltimeProvider exposes the engine's wall clock to modules.
type LocaltimeProvider interface {
	Now(ctx context.Context) int64 // unix millis
}

// CryptoProvider exposes the engine's crypto primitives.
type CryptoProvider interface {
	Sha256(ctx context.Context, data []byte) []byte
	RandomBytes(ctx context.Context, n int) ([]byte, error)
}

// IPFSProvider publishes/subscribes on pub-sub topics, and backs the VFS's
// ipfs/ overlay.
type IPFSProvider interface {
	Fetch(ctx context.Context, cidStr string) ([]byte, error)
	Publish(ctx context.Context, topic string, data []byte) error
}

// CardanoProvider is a seam for the chain-follower event producer; the
// follower's internals are out of scope (spec §1), so the core defines only
// this interface; nothing in the engine implements it.
type CardanoProvider interface {
	Subscribe(ctx context.Context, network string) error
}

// InitProvider fires the one-time init event when an application loads.
type InitProvider interface {
	Fire(ctx context.Context, appName string) error
}

// Providers bundles every capability singleton the Surface routes host
// calls to. Any field may be nil; a host call against a nil provider returns
// 0 to the guest (crypto_sha256 falls back to the standard library SHA-256).
type Providers struct {
	Cron      CronProvider
	KV        KVProvider
	SQLite    SQLiteProvider
	Localtime LocaltimeProvider
	Crypto    CryptoProvider
	IPFS      IPFSProvider
	Cardano   CardanoProvider
	Init      InitProvider
}

// Surface implements executor.Surface: it registers one host module
// ("hermes") exposing a named host-function table, the same shape as
// the reference serverless engine's "env" module.
type Surface struct {
	providers Providers
	log       *logger.Logger
}

// New builds a Surface over the given provider set.
func New(providers Providers, log *logger.Logger) *Surface {
	if log == nil {
		log = logger.NewDefault("hre")
	}
	return &Surface{providers: providers, log: log}
}

// Register binds the host module to rt. Called once at engine start;
// every module instantiated against rt afterward can import it.
func (s *Surface) Register(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(hostModuleName).
		NewFunctionBuilder().WithFunc(s.hKVGet).Export("kv_get").
		NewFunctionBuilder().WithFunc(s.hKVSet).Export("kv_set").
		NewFunctionBuilder().WithFunc(s.hCronAdd).Export("cron_add").
		NewFunctionBuilder().WithFunc(s.hCronList).Export("cron_list").
		NewFunctionBuilder().WithFunc(s.hCronRemove).Export("cron_remove").
		NewFunctionBuilder().WithFunc(s.hLocaltimeNow).Export("localtime_now").
		NewFunctionBuilder().WithFunc(s.hCryptoSha256).Export("crypto_sha256").
		NewFunctionBuilder().WithFunc(s.hCryptoRandomBytes).Export("crypto_random_bytes").
		NewFunctionBuilder().WithFunc(s.hIPFSPublish).Export("ipfs_publish").
		NewFunctionBuilder().WithFunc(s.hLogInfo).Export("log_info").
		NewFunctionBuilder().WithFunc(s.hVFSOpen).Export("vfs_open").
		NewFunctionBuilder().WithFunc(s.hVFSRead).Export("vfs_read").
		NewFunctionBuilder().WithFunc(s.hVFSWrite).Export("vfs_write").
		NewFunctionBuilder().WithFunc(s.hVFSList).Export("vfs_list").
		NewFunctionBuilder().WithFunc(s.hVFSStat).Export("vfs_stat").
		NewFunctionBuilder().WithFunc(s.hSQLiteExec).Export("sqlite_exec").
		NewFunctionBuilder().WithFunc(s.hSQLiteQuery).Export("sqlite_query").
		Instantiate(ctx)
	return err
}

// callContextOrTrap recovers the current call's identity, surfacing a
// herrors.HostCallFailed trap (via panic, caught by the executor's trap
// classification) if a host function somehow runs outside a module call.
func callContextOrTrap(ctx context.Context) *callctx.Context {
	cc, ok := callctx.From(ctx)
	if !ok {
		panic(herrors.HostCallFailed(nil))
	}
	return cc
}
