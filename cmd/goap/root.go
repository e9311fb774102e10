package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/goap/internal/config"
	"github.com/zero-day-ai/goap/internal/database"
	"github.com/zero-day-ai/goap/internal/observability"
)

var (
	flagConfig string
	flagDebug  bool
)

var rootCmd = &cobra.Command{
	Use:   "goap",
	Short: "goap - pattern-learning action planner",
	Long: `goap manages the storage behind the pattern-augmented planner:
schema migrations, pattern pruning, learning statistics, and per-agent
reliability inspection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path (default $GOAP_HOME/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(configCmd)
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return filepath.Join(defaultHomeDir(), "config.yaml")
}

func defaultHomeDir() string {
	if env := os.Getenv("GOAP_HOME"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".goap"
	}
	return filepath.Join(home, ".goap")
}

// openRuntime loads the configuration and opens the database most
// subcommands need.
func openRuntime() (*config.Config, *database.DB, error) {
	cfg, err := config.LoadWithDefaults(configPath())
	if err != nil {
		return nil, nil, err
	}
	if flagDebug {
		cfg.Core.Debug = true
	}

	db, err := database.OpenWithConfig(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		BusyTimeout:     cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(os.Stderr, cfg.Logging, cfg.Core.Debug)
}
