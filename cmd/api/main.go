package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vinylogix/api/internal/di"
	"github.com/vinylogix/api/internal/handlers"
	"github.com/vinylogix/api/internal/platform/config"
	"github.com/vinylogix/api/internal/platform/idempotency"
	"github.com/vinylogix/api/internal/platform/observability"
	"github.com/vinylogix/api/internal/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(observability.LoggerOptions{
		Level:       cfg.App.LogLevel,
		Service:     "vinylogix-api",
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	runtime, err := di.OpenRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open runtime clients", zap.Error(err))
	}

	container, err := di.NewContainerFromRuntime(ctx, cfg, runtime,
		di.WithLogger(logger),
		di.WithStartedAt(startedAt),
	)
	if err != nil {
		_ = runtime.Close(ctx)
		logger.Fatal("failed to build services", zap.Error(err))
	}
	container.Sweeper.Start()

	svc := container.Services
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(services.BuildInfo{
			Version:     cfg.App.Version,
			CommitSHA:   cfg.App.CommitSHA,
			Environment: cfg.App.Environment,
			StartedAt:   startedAt,
		}),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithTenantMiddlewares(
			idempotency.Middleware(container.RequestKeys, idempotency.WithTTL(cfg.Idempotency.TTL)),
		),
		handlers.WithTenantRoutes(
			handlers.NewTenantHandlers(svc.Tenants).Routes,
			handlers.NewInventoryHandlers(svc.Ledger, svc.Alerts).Routes,
			handlers.NewOrderHandlers(svc.Orders, svc.Allocator).Routes,
		),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	serverErr := make(chan error, 1)
	go func() {
		serverLogger.Info("vinylogix api listening", zap.String("storage", cfg.Storage.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-shutdown:
		logger.Info("shutdown signal received; draining requests")
	case err := <-serverErr:
		logger.Error("http server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
	if err := runtime.Close(shutdownCtx); err != nil {
		logger.Warn("runtime close error", zap.Error(err))
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.PubSub.ProjectID)
}
