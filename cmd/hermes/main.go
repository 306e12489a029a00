// Command hermes is the Application Execution Core's entry point (spec
// §6/§7): `run` loads one app package and serves it until a shutdown
// signal, `module package`/`app package` assemble build manifests into
// on-disk packages. Grounded on the teacher's cmd/slcli/main.go (stdlib
// flag, no cobra, manual subcommand switch) and cmd/gateway/main.go
// (router/middleware assembly, signal-driven graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hermes-engine/hermes/internal/dispatcher"
	"github.com/hermes-engine/hermes/internal/event"
	"github.com/hermes-engine/hermes/internal/executor"
	"github.com/hermes-engine/hermes/internal/gateway"
	"github.com/hermes-engine/hermes/internal/hre"
	"github.com/hermes-engine/hermes/internal/hre/cron"
	"github.com/hermes-engine/hermes/internal/hre/cryptocap"
	"github.com/hermes-engine/hermes/internal/hre/ipfspubsub"
	"github.com/hermes-engine/hermes/internal/hre/kv"
	"github.com/hermes-engine/hermes/internal/hre/localtime"
	"github.com/hermes-engine/hermes/internal/hre/permgate"
	"github.com/hermes-engine/hermes/internal/hre/sqlitecap"
	"github.com/hermes-engine/hermes/internal/manifest"
	"github.com/hermes-engine/hermes/internal/middleware"
	"github.com/hermes-engine/hermes/internal/queue"
	"github.com/hermes-engine/hermes/internal/registry"
	"github.com/hermes-engine/hermes/pkg/config"
	"github.com/hermes-engine/hermes/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runRun(os.Args[2:])
	case "module":
		err = runModule(os.Args[2:])
	case "app":
		err = runApp(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`hermes - Application Execution Core

Usage:
  hermes run <package> [--untrusted] [--no-parallel-event-execution] [--serialize-sqlite] [--timeout-ms N]
  hermes module package <manifest>
  hermes app package <manifest>

Environment Variables:
  HERMES_LOG_LEVEL, HERMES_LOG_FORMAT, HERMES_HTTP_PORT, HERMES_AUTH_ACTIVATE,
  REDIRECT_ALLOWED_HOSTS, REDIRECT_ALLOWED_PATH_PREFIXES,
  IPFS_BOOTSTRAP_PEERS, IPFS_LISTEN_PORT, IPFS_ANNOUNCE_ADDRESS,
  IPFS_RETRY_INTERVAL_SECS, IPFS_MAX_RETRIES`)
}

func runModule(args []string) error {
	if len(args) < 2 || args[0] != "package" {
		return fmt.Errorf("usage: hermes module package <manifest>")
	}
	return runModulePackage(args[1])
}

func runApp(args []string) error {
	if len(args) < 2 || args[0] != "package" {
		return fmt.Errorf("usage: hermes app package <manifest>")
	}
	return runAppPackage(args[1])
}

func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	untrusted := fs.Bool("untrusted", false, "enforce the manifest's declared permission table against app-scoped capabilities")
	noParallel := fs.Bool("no-parallel-event-execution", false, "force the dispatcher's worker pool to a single worker")
	serializeSQLite := fs.Bool("serialize-sqlite", false, "serialize every sqlite call behind one engine-wide lock")
	timeoutMS := fs.Int("timeout-ms", 0, "per-module-call deadline in milliseconds (0 uses the config default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: hermes run <package> [flags]")
	}
	packagePath := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Untrusted = *untrusted
	cfg.NoParallelEventExecution = *noParallel
	cfg.SerializeSQLite = *serializeSQLite
	if *timeoutMS > 0 {
		cfg.TimeoutMS = *timeoutMS
	}

	return runEngine(packagePath, cfg)
}

func runEngine(packagePath string, cfg config.EngineConfig) error {
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: "engine"})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	reg := metricsRegistry()
	q := queue.New(1024, logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: "queue"}), queue.WithMetrics(reg))

	cronProvider := cron.New(q)
	kvProvider := kv.New(q)
	sqliteProvider := sqlitecap.New(cfg.StateDir, cfg.SerializeSQLite)
	defer sqliteProvider.Close()

	ipfsProvider, err := ipfspubsub.New(ctx, q, logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: "hre.ipfs"}))
	if err != nil {
		return fmt.Errorf("starting ipfs pub-sub: %w", err)
	}
	defer ipfsProvider.Close()

	// The Registry is constructed before the Executor it will eventually
	// hold: the permission-gated providers below need a stable Registry
	// pointer to resolve app permissions, but the Executor's host surface
	// needs those providers before it exists. BindExecutor closes the loop
	// once the Executor is built.
	appRegistry := registry.New(nil)
	firer := &initFirer{q: q}

	providers := hre.Providers{
		Cron:      &permgate.Cron{CronProvider: cronProvider, Reg: appRegistry, Untrusted: cfg.Untrusted},
		KV:        &permgate.KV{KVProvider: kvProvider, Reg: appRegistry, Untrusted: cfg.Untrusted},
		SQLite:    &permgate.SQLite{SQLiteProvider: sqliteProvider, Reg: appRegistry, Untrusted: cfg.Untrusted},
		Localtime: localtime.New(),
		Crypto:    cryptocap.New(),
		IPFS:      ipfsProvider,
		Init:      firer,
	}
	surface := hre.New(providers, logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: "hre"}))

	ex, err := executor.New(ctx, logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: "executor"}), surface)
	if err != nil {
		return fmt.Errorf("starting executor: %w", err)
	}

	appRegistry.BindExecutor(ex)

	handle := manifest.PackageHandle(os.DirFS(packagePath))
	pkg, err := manifest.OpenPackage(handle)
	if err != nil {
		return fmt.Errorf("loading package: %w", err)
	}
	statePath := filepath.Join(cfg.StateDir, pkg.Meta.AppName+".hfs")
	app, err := appRegistry.Load(ctx, handle, registry.LoadOptions{
		StatePath: statePath,
		IPFS:      ipfsProvider,
	})
	if err != nil {
		return fmt.Errorf("loading package: %w", err)
	}

	onRetrigger := func(appName, moduleID string, evt *event.Event, retrigger bool) {
		if evt.SourceTag.BaseTag() != string(event.SourceCron) {
			return
		}
		cronProvider.ApplyRetrigger(appName, evt.StreamKey, false, retrigger)
	}

	workers := cfg.Workers
	if cfg.NoParallelEventExecution {
		workers = 1
	}
	disp := dispatcher.New(q, appRegistry, ex, logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: "dispatcher"}), dispatcher.Config{
		Workers:   workers,
		TimeoutMS: cfg.TimeoutMS,
	}, onRetrigger).WithMetrics(reg)

	go disp.Run(ctx)

	if err := firer.Fire(ctx, app.Name); err != nil {
		log.With(nil).WithField("app", app.Name).Warn("init event dropped: " + err.Error())
	}

	gwMetrics := middleware.NewMetrics(reg)
	rateLimiter := middleware.NewRateLimiter(100, time.Minute, 20)
	stopCleanup := rateLimiter.StartCleanup(5 * time.Minute)
	defer stopCleanup()

	gw := gateway.New(appRegistry, q, logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: "gateway"}), gateway.Config{
		AuthActivate:                cfg.AuthActive,
		RedirectAllowedHosts:        cfg.RedirectAllowedHosts,
		RedirectAllowedPathPrefixes: cfg.RedirectAllowedPathPrefix,
		RequestTimeout:              time.Duration(cfg.TimeoutMS) * time.Millisecond,
		BodyLimitBytes:              8 << 20,
		CORS:                        middleware.CORSConfig{AllowedOrigins: []string{"*"}},
		RateLimiter:                 rateLimiter,
		Metrics:                     gwMetrics,
	}, jwtValidator())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", gw.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.With(nil).WithField("port", cfg.HTTPPort).Info("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.With(nil).Info("shutdown signal received")
	case err := <-serveErrCh:
		log.With(nil).WithField("error", err.Error()).Error("gateway server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)
	disp.Shutdown()
	if err := appRegistry.Close(shutdownCtx); err != nil {
		log.With(nil).WithField("error", err.Error()).Warn("registry close reported errors")
	}
	if err := ex.Close(shutdownCtx); err != nil {
		log.With(nil).WithField("error", err.Error()).Warn("executor close reported errors")
	}

	return nil
}

func metricsRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// jwtValidator builds the default credential validator from HERMES_JWT_SECRET.
// A missing secret leaves the gateway with no validator: authenticated
// routes fail closed (spec §4.6 "no credential validator configured").
func jwtValidator() gateway.CredentialValidator {
	secret := os.Getenv("HERMES_JWT_SECRET")
	if secret == "" {
		return nil
	}
	return &gateway.JWTValidator{Secret: []byte(secret)}
}

// initFirer implements hre.InitProvider: enqueuing the one-time init event
// spec §4.7's event-stream table names ("init") an application receives
// once at load.
type initFirer struct {
	q *queue.Queue
}

func (f *initFirer) Fire(ctx context.Context, appName string) error {
	return f.q.Enqueue(&event.Event{
		SourceTag: event.SourceInit,
		Target:    event.Target{AppNames: []string{appName}},
	})
}
