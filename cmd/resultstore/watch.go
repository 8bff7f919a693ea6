package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/jpalmerr/resultstore/internal/registry"
)

// watchCmd prints result transitions to the terminal.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print result transitions as they happen",
	Long: `Start polling the configured sources and print a line whenever a
source changes state, phase or status.

The config file is watched: saving it adds, removes or re-runs the
affected sources without a restart.

Example:
  resultstore watch -c config.yaml`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = watchCmd.MarkFlagRequired("config")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	configFile, _ := cmd.Flags().GetString("config")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := startApp(configFile, noop.NewMeterProvider(), logger)
	if err != nil {
		return err
	}
	defer a.close()

	views := a.registry.Subscribe()
	defer a.registry.Unsubscribe(views)

	// views published before the subscription started
	p := newTransitionPrinter(cmd.OutOrStdout())
	for _, v := range a.registry.Views() {
		p.print(v)
	}

	go func() {
		if err := a.watchReloads(ctx, configFile); err != nil {
			logger.Error("config watch stopped", "error", err)
		}
	}()

	return p.run(ctx, views)
}

// transitionPrinter writes one line per change of a source's state, phase
// or status.
type transitionPrinter struct {
	out  io.Writer
	last map[string]transition
}

type transition struct {
	state, phase, status string
}

func newTransitionPrinter(out io.Writer) *transitionPrinter {
	return &transitionPrinter{out: out, last: make(map[string]transition)}
}

// run prints views until ctx is done or the channel closes.
func (p *transitionPrinter) run(ctx context.Context, views <-chan registry.View) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-views:
			if !ok {
				return nil
			}
			p.print(v)
		}
	}
}

// print writes v if it differs from the last line for its source and
// reports whether it did.
func (p *transitionPrinter) print(v registry.View) bool {
	t := transition{state: v.State, phase: v.Phase, status: v.Status}
	if prev, seen := p.last[v.Name]; seen && prev == t {
		return false
	}
	p.last[v.Name] = t

	line := fmt.Sprintf("%s %-20s %-8s", time.Now().Format(time.TimeOnly), v.Name, v.State)
	if v.Phase != "" {
		line += " phase=" + v.Phase
	}
	if v.Status != "" {
		line += fmt.Sprintf(" status=%s latency=%dms", v.Status, v.ResponseTimeMs)
	}
	if v.Error != nil {
		line += fmt.Sprintf(" error=%q", *v.Error)
	}
	if v.Defect {
		line += " defect=true"
	}
	_, _ = fmt.Fprintln(p.out, line)
	return true
}
