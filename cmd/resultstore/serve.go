package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/resultstore/internal/server"
	"github.com/jpalmerr/resultstore/internal/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
)

// serveCmd starts the HTTP server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve results over REST and SSE",
	Long: `Start polling the configured sources and serve their results.

Routes:
  GET  /api/results                    all sources
  GET  /api/results/{name}             one source
  POST /api/results/{name}/refresh     re-run a source now
  POST /api/results/{name}/interrupt   stop a running check
  GET  /api/sse                        live updates

Store counters are exported over OTLP/HTTP when --otlp-endpoint is set,
and logs are mirrored when --otlp-logs-endpoint is set.
The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  resultstore serve -c config.yaml
  resultstore serve -c config.yaml --reload --otlp-endpoint http://localhost:4318/v1/metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP metrics endpoint URL")
	serveCmd.Flags().String("otlp-logs-endpoint", "", "OTLP/HTTP logs endpoint URL")
	serveCmd.Flags().Bool("reload", false, "reload sources when the config file changes")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	metricsEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	logsEndpoint, _ := cmd.Flags().GetString("otlp-logs-endpoint")
	reload, _ := cmd.Flags().GetBool("reload")

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:     "resultstore",
		ServiceVersion:  version,
		MetricsEndpoint: metricsEndpoint,
		LogsEndpoint:    logsEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	logger := newLogger()
	if logsEndpoint != "" {
		logger = slog.New(telemetry.NewSlogHandler(logger.Handler(), providers.Logger, "resultstore"))
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	a, err := startApp(configFile, providers.Meter, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := server.NewServer(a.registry, a.cfg.Port, logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	if reload {
		go func() {
			if err := a.watchReloads(ctx, configFile); err != nil {
				logger.Error("config watch stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
