package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bottledcode/atlas-locks/atlas/options"
	"github.com/bottledcode/atlas-locks/internal/server"
	"github.com/bottledcode/atlas-locks/pkg/config"
)

var (
	configPath       string
	logLevel         string
	dataDir          string
	inMemory         bool
	metricsAddress   string
	retainFreeRanges bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "atlas-locks",
	Short: "Atlas Locks - A transactional store isolated by range locks",
	Long: `Atlas Locks runs scoped transactions over BadgerDB. Transactions lock
their database, object stores and key ranges up front through a leveled
range lock manager that grants locks in FIFO order and never deadlocks.`,
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Atlas Locks server",
	Long:  `Start the Atlas Locks server with the specified configuration and serve metrics until interrupted.`,
	RunE:  runStart,
}

var showConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after applying the config file, environment variables and flags, in YAML.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "Atlas Locks v0.1.0")
		fmt.Fprintln(cmd.OutOrStdout(), "Built with Go")
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(showConfigCmd)
	rootCmd.AddCommand(versionCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&inMemory, "in-memory", false, "Keep all data in memory")
	rootCmd.PersistentFlags().BoolVar(&retainFreeRanges, "retain-free-ranges", false, "Keep unused lock ranges instead of collecting them")

	// Start command flags
	startCmd.Flags().StringVar(&metricsAddress, "metrics-address", "", "Metrics listen address (overrides config)")
}

// loadConfig loads the configuration, applies command line overrides and
// installs the configured logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with command line flags
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if cmd.Flags().Changed("in-memory") {
		cfg.Storage.InMemory = inMemory
	}
	if cmd.Flags().Changed("retain-free-ranges") {
		cfg.Locks.RetainFreeRanges = retainFreeRanges
	}
	if metricsAddress != "" {
		cfg.Metrics.Address = metricsAddress
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := options.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	options.Logger = logger
	return cfg, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = options.Logger.Sync() }()

	// Create server
	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Set up signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	options.Logger.Info("Starting Atlas Locks server",
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Bool("in_memory", cfg.Storage.InMemory),
		zap.Bool("metrics", cfg.Metrics.Enabled))

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	// Wait for shutdown signal
	<-ctx.Done()
	options.Logger.Info("Shutting down Atlas Locks server")

	// Graceful shutdown
	if err := srv.Stop(); err != nil {
		options.Logger.Error("Error during shutdown", zap.Error(err))
		return err
	}

	options.Logger.Info("Atlas Locks server stopped")
	return nil
}
