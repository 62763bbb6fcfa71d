// Command ledgerctl runs operator tasks against the inventory ledger using the API's configuration.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vinylogix/api/internal/di"
	"github.com/vinylogix/api/internal/platform/config"
	"github.com/vinylogix/api/internal/platform/observability"
)

func main() {
	root := newRootCmd(openContainer)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openContainer loads configuration from the environment and builds the same services the API uses.
func openContainer(ctx context.Context) (*di.Container, func(context.Context) error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	// A one-shot command never runs the periodic sweep.
	cfg.Alerts.SweepSchedule = ""

	logger, err := observability.NewLogger(observability.LoggerOptions{
		Level:       cfg.App.LogLevel,
		Service:     "ledgerctl",
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialise logger: %w", err)
	}

	runtime, err := di.OpenRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	container, err := di.NewContainerFromRuntime(ctx, cfg, runtime, di.WithLogger(logger))
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, nil, err
	}

	closeFn := func(ctx context.Context) error {
		defer func() { _ = logger.Sync() }()
		if err := container.Close(ctx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
		return runtime.Close(ctx)
	}
	return container, closeFn, nil
}
