package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/metric"

	"github.com/jpalmerr/resultstore"
	"github.com/jpalmerr/resultstore/config"
	"github.com/jpalmerr/resultstore/internal/poller"
	"github.com/jpalmerr/resultstore/internal/registry"
)

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// app is a running set of sources built from one config file.
type app struct {
	cfg      *config.Config
	checker  *poller.Checker
	registry *registry.Registry
	logger   *slog.Logger
}

// startApp loads path and starts checking every source in it.
func startApp(path string, mp metric.MeterProvider, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	entries, err := config.Entries(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build sources: %w", err)
	}

	logger.Info("config loaded",
		"sources", len(entries),
		"poll_interval", cfg.PollInterval.Duration().String(),
		"max_concurrency", cfg.MaxConcurrency,
	)

	checker := poller.NewChecker(poller.NewClient(), cfg.MaxConcurrency, logger)
	reg := registry.New(checker, logger, resultstore.WithMeterProvider(mp))
	if err := reg.Sync(entries); err != nil {
		reg.Close()
		checker.Close()
		return nil, fmt.Errorf("failed to start sources: %w", err)
	}

	return &app{cfg: cfg, checker: checker, registry: reg, logger: logger}, nil
}

// reload re-reads path and syncs the registry with it. Port and concurrency
// changes need a restart.
func (a *app) reload(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	entries, err := config.Entries(cfg)
	if err != nil {
		return err
	}
	if cfg.Port != a.cfg.Port || cfg.MaxConcurrency != a.cfg.MaxConcurrency {
		a.logger.Warn("port and max_concurrency changes apply on restart")
	}
	return a.registry.Sync(entries)
}

func (a *app) close() {
	a.registry.Close()
	a.checker.Close()
}

// watchReloads calls a.reload whenever path changes, until ctx is done.
func (a *app) watchReloads(ctx context.Context, path string) error {
	return watchConfig(ctx, path, a.logger, func() {
		if err := a.reload(path); err != nil {
			a.logger.Error("config reload failed", "path", path, "error", err)
			return
		}
		a.logger.Info("config reloaded", "path", path)
	})
}
