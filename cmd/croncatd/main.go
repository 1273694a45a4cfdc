package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"croncat/internal/api"
	"croncat/internal/chain"
	"croncat/internal/config"
	"croncat/internal/deploy"
	"croncat/internal/logging"
	croncatmcp "croncat/internal/mcp"
	"croncat/internal/metrics"
	"croncat/internal/node"
	"croncat/internal/notify"
	"croncat/internal/observability"
	"croncat/internal/store"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg, logger); err != nil {
		logger.Error("croncatd exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = version
	}
	tracer, err := observability.NewTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown", "err", err)
		}
	}()

	kv, sink, closeKV, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	genesis := config.DefaultGenesis()
	if cfg.Chain.GenesisFile != "" {
		if genesis, err = config.LoadGenesis(cfg.Chain.GenesisFile); err != nil {
			return err
		}
	}

	m := metrics.Default()
	app, err := chain.NewApp(ctx, kv, genesis.ChainOptions(chain.Options{
		Logger:  logger,
		Metrics: m,
		Tracer:  tracer,
	}))
	if err != nil {
		return fmt.Errorf("start host: %w", err)
	}

	d, err := deployment(ctx, app, genesis, logger)
	if err != nil {
		return err
	}

	n := node.New(app, d, cfg.Chain.BlockTime, logger)
	n.RecordMetrics(m)

	var notifiers []notify.Notifier
	if cfg.Notification.Bark.Enabled && cfg.Notification.Bark.URL != "" {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			return fmt.Errorf("bark notifier: %w", err)
		}
		notifiers = append(notifiers, bark)
	}

	producer := chain.NewBlockProducer(app, sink, logger, cfg.Chain.BlockTime)
	producer.Start(ctx)
	defer func() {
		<-producer.Stop().Done()
	}()

	g, gctx := errgroup.WithContext(ctx)

	if len(notifiers) > 0 {
		watcher := notify.NewTaskWatcher(notify.NewMultiNotifier(notifiers...), logger, 64)
		app.OnTx(watcher.Observe)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	mcpServer := croncatmcp.NewMCPServer(n, logger, version)

	switch cfg.Mode {
	case "http", "both":
		opts := api.Options{
			AuthToken: cfg.Server.AuthToken,
			Metrics:   promhttp.Handler(),
		}
		if cfg.Mode == "both" {
			opts.MCP = mcpServer.HTTPHandler()
		}
		if st, ok := sink.(*store.Store); ok {
			opts.Blocks = st
		}
		server := api.NewServer(cfg.Server.Addr, n, logger, opts)
		g.Go(func() error {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	case "mcp":
		// ServeStdio returns when stdin closes or on its own signal handling.
		g.Go(func() error {
			defer stop()
			return mcpServer.Run()
		})
	}

	err = g.Wait()
	logger.Info("shutdown complete", "height", app.Block().Height)
	return err
}

// openStore returns the contract KV and, for sqlite, the block sink.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.KV, chain.BlockSink, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory state; nothing survives a restart")
		return store.NewMemoryKV(), nil, func() {}, nil
	case config.BackendRedis:
		r := store.NewRedisKV(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Namespace)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, nil, nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("state backend", "backend", "redis", "addr", cfg.Redis.Addr, "namespace", cfg.Redis.Namespace)
		return r, nil, func() { _ = r.Close() }, nil
	default:
		s, err := store.Open(ctx, cfg.StateDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open store: %w", err)
		}
		logger.Info("state backend", "backend", "sqlite", "dir", cfg.StateDir)
		return s, s, func() { _ = s.Close() }, nil
	}
}

// deployment reloads the modules recorded in state, or bootstraps a fresh
// chain from genesis.
func deployment(ctx context.Context, app *chain.App, genesis *config.Genesis, logger *slog.Logger) (*deploy.Deployment, error) {
	codes := deploy.StoreCodes(app)
	d, err := deploy.Load(ctx, app, codes)
	if err == nil {
		logger.Info("deployment loaded", "factory", d.Factory, "height", app.Block().Height)
		return d, nil
	}
	if !errors.Is(err, deploy.ErrNotDeployed) {
		return nil, fmt.Errorf("load deployment: %w", err)
	}

	params, err := genesis.DeployParams()
	if err != nil {
		return nil, err
	}
	for addr, coins := range genesis.Coins() {
		if err := app.Mint(ctx, addr, coins...); err != nil {
			return nil, fmt.Errorf("genesis balance %s: %w", addr, err)
		}
	}
	d, err = deploy.Bootstrap(ctx, app, codes, params, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return d, nil
}
