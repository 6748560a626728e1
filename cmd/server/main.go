package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nulzo/query-router/internal/analytics"
	"github.com/nulzo/query-router/internal/buildinfo"
	"github.com/nulzo/query-router/internal/cli"
	"github.com/nulzo/query-router/internal/config"
	"github.com/nulzo/query-router/internal/gateway"
	"github.com/nulzo/query-router/internal/platform/logger"
	"github.com/nulzo/query-router/internal/platform/otel"
	"github.com/nulzo/query-router/internal/server"
	"github.com/nulzo/query-router/internal/store"
	"github.com/nulzo/query-router/internal/store/sqlite"
	otelapi "go.opentelemetry.io/otel"
	"go.uber.org/zap"

	// provider factories register themselves in init()
	_ "github.com/nulzo/query-router/internal/llm/anthropic"
	_ "github.com/nulzo/query-router/internal/llm/google"
	_ "github.com/nulzo/query-router/internal/llm/mock"
	_ "github.com/nulzo/query-router/internal/llm/ollama"
	_ "github.com/nulzo/query-router/internal/llm/openai"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// logger is not configured yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.Initialize(cfg.Log)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := otel.InitTracer(cfg.Tracing, log, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracer(flushCtx)
	}()

	if cfg.Server.CheckUpdates {
		go checkForUpdates(ctx, log)
	}

	// query logs and the sqlite cache share one database when they point at the same file
	var repo store.Repository
	if cfg.Analytics.Enabled {
		repo, err = sqlite.NewSQLiteStorage(cfg.Analytics.DSN, log)
		if err != nil {
			return err
		}
		defer repo.Close()
	}

	var cacheRepo store.Repository
	if repo != nil && cfg.Settings.Cache.Path == cfg.Analytics.DSN {
		cacheRepo = repo
	}

	cacheManager, err := gateway.OpenCache(ctx, cfg.Settings.Cache, cfg.Router.CacheTTL, cacheRepo, log)
	if err != nil {
		return err
	}

	providers := gateway.BootstrapProviders(ctx, cfg.Settings, log)

	opts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithTracer(otelapi.Tracer("query-router")),
	}

	var stats analytics.Service
	ingestor := analytics.NewNoopIngestor()
	if repo != nil {
		ingestor = analytics.NewIngestor(log, repo)
		stats = analytics.NewService(repo)
		opts = append(opts, gateway.WithIngestor(ingestor))
	}
	// stopped explicitly after in-flight requests finish, not on signal
	ingestor.Start(context.Background())

	router, err := gateway.New(cfg.Router, providers, cacheManager, opts...)
	if err != nil {
		_ = cacheManager.Close()
		return err
	}

	srv := server.New(cfg, log, router, stats)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(cli.Gradient("query-router", cli.BrandBlue, cli.BrandPurple)+" listening",
			zap.String("addr", httpServer.Addr),
			zap.String("version", buildinfo.Version),
			zap.Int("providers_available", providers.Len()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown failed", zap.Error(err))
	}

	// flush pending query logs before the database closes
	ingestor.Stop()

	return router.Close()
}

func checkForUpdates(ctx context.Context, log *zap.Logger) {
	info, err := buildinfo.CheckForUpdates(ctx, nil, "")
	if err != nil {
		log.Debug("Update check failed", zap.Error(err))
		return
	}
	if info != nil {
		log.Info(cli.WarningSign()+" A newer release is available",
			zap.String("current", info.Current),
			zap.String("latest", info.Latest),
		)
	}
}
