package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bottledcode/atlas-locks/atlas/options"
	"github.com/bottledcode/atlas-locks/atlas/txn"
	"github.com/bottledcode/atlas-locks/internal/server"
	"github.com/bottledcode/atlas-locks/internal/workload"
)

var (
	benchWorkers      int
	benchTransactions int
	benchSeed         uint64
	benchVerify       bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a transaction workload against an in-process server",
	Long: `Start an in-process server, seed it with counters, run the configured
workload against it and report throughput. With --verify the counters are
summed afterwards to check that no committed update was lost.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchWorkers, "workers", 0, "Concurrent workers (overrides config)")
	benchCmd.Flags().IntVar(&benchTransactions, "transactions", 0, "Transactions to run (overrides config)")
	benchCmd.Flags().Uint64Var(&benchSeed, "seed", 1, "Random seed")
	benchCmd.Flags().BoolVar(&benchVerify, "verify", true, "Check for lost updates after the run")
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = options.Logger.Sync() }()

	if benchWorkers > 0 {
		cfg.Workload.Workers = benchWorkers
	}
	if benchTransactions > 0 {
		cfg.Workload.Transactions = benchTransactions
	}
	if err := cfg.Workload.Validate(); err != nil {
		return fmt.Errorf("invalid workload: %w", err)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer func() { _ = srv.Stop() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := workload.Seed(srv.Store(), cfg.Workload); err != nil {
		return fmt.Errorf("failed to seed workload: %w", err)
	}
	runner, err := workload.NewRunner(srv.Coordinator(), cfg.Workload, benchSeed)
	if err != nil {
		return err
	}
	result, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("workload failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s\n", result.RunID)
	fmt.Fprintf(out, "Transactions: %d committed, %d timed out\n", result.Committed, result.TimedOut)
	for _, mode := range []txn.Mode{txn.ReadOnly, txn.ReadWrite, txn.VersionChange} {
		fmt.Fprintf(out, "  %-14s %d\n", mode.String()+":", result.ByMode[mode])
	}
	fmt.Fprintf(out, "Duration: %s (%.0f tx/s)\n", result.Duration, result.Throughput())

	if benchVerify {
		if err := workload.Verify(ctx, srv.Coordinator(), cfg.Workload, result); err != nil {
			return err
		}
		fmt.Fprintf(out, "Verified %d increments\n", result.Increments)
	}
	return nil
}
