package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spachava753/deployeval/internal/config"
	"github.com/spachava753/deployeval/internal/executor"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: deployeval <settings.yaml>")
		os.Exit(1)
	}

	cfg, err := config.LoadSettings(os.Args[1])
	if err != nil {
		slog.Error("loading settings", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Setup context with manual signal handling
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	defer func() {
		signal.Stop(sigChan)
		cancel()
	}()

	go func() {
		sig := <-sigChan
		slog.Info("interrupt received, tearing down and shutting down...", "signal", sig)
		cancel()
	}()

	result, err := executor.RunWithSettings(ctx, &cfg)
	if result == nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
	if err != nil {
		slog.Error("run finished with errors", "error", err)
	}

	// Print summary
	fmt.Printf("\nRun: %s\n", result.RunID)
	fmt.Printf("Model: %s\n", result.ModelName)
	fmt.Printf("Total jobs: %d\n", result.TotalJobs)
	fmt.Printf("Completed: %d\n", result.CompletedJobs)
	fmt.Printf("Failed: %d (timed out: %d)\n", result.FailedJobs, result.TimedOutJobs)
	if result.SkippedJobs > 0 {
		fmt.Printf("Skipped: %d\n", result.SkippedJobs)
	}
	fmt.Printf("Duration: %.2fs\n", result.TotalDurationSec)

	tasks := make([]string, 0, len(result.Tasks))
	for name := range result.Tasks {
		tasks = append(tasks, name)
	}
	sort.Strings(tasks)
	for _, name := range tasks {
		ts := result.Tasks[name]
		fmt.Printf("\n%s: %d/%d jobs, %d samples\n", name, ts.CompletedJobs, ts.TotalJobs, ts.RawRows)
		if ts.MetricsTable != "" {
			fmt.Printf("  summary: %s\n  raw:     %s\n  metrics: %s\n", ts.SummaryTable, ts.RawTable, ts.MetricsTable)
		}
	}

	if err != nil || result.Cancelled {
		os.Exit(1)
	}
}
