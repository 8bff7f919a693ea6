// Command example runs a mock health server, polls it through a registry of
// result stores and serves the results on :8080 while printing every
// change to stdout.
//
//	go run ./example
//
// The mock stays up on :9999, so the CLI can poll it too:
//
//	go run ./cmd/resultstore watch -c example/config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/resultstore/internal/poller"
	"github.com/jpalmerr/resultstore/internal/registry"
	"github.com/jpalmerr/resultstore/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// start mock server (see mock_server.go)
	go StartMockHealthServer(":9999")
	time.Sleep(100 * time.Millisecond)

	checker := poller.NewChecker(poller.NewClient(), 4, logger)
	defer checker.Close()

	reg := registry.New(checker, logger)
	defer reg.Close()

	for _, svc := range []string{"users", "orders", "billing"} {
		err := reg.Add(registry.Entry{
			Source: poller.Source{
				Name:      svc,
				URL:       "http://localhost:9999/health?svc=" + svc,
				Interval:  5 * time.Second,
				Extractor: poller.JSONFieldExtractor("status"),
			},
			RetryDelay: 2 * time.Second,
		})
		if err != nil {
			logger.Error("failed to add source", "source", svc, "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(reg, 8080, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  resultstore demo")
	fmt.Println("  • 3 mock services cycling ok → degraded → outage")
	fmt.Println("  • curl http://localhost:8080/api/results")
	fmt.Println("  • curl -N http://localhost:8080/api/sse")
	fmt.Println("  • Press Ctrl+C to stop")
	fmt.Println()

	views := reg.Subscribe()
	defer reg.Unsubscribe(views)

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-views:
			line := fmt.Sprintf("%-8s %-8s %-18s invocations=%d failures=%d", v.Name, v.State, v.Phase, v.Invocations, v.FailureCount)
			if v.Error != nil {
				line += " error=" + *v.Error
			}
			fmt.Println(line)
		}
	}
}
