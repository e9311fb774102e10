package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/goap/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the planner configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file populated with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return err
		}
		cmd.Printf("wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithDefaults(configPath())
		if err != nil {
			return err
		}
		cmd.Printf("database:  %s\n", cfg.Database.Path)
		cmd.Printf("logging:   %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)
		cmd.Printf("planner:   match threshold %.2f, max nodes %d, max duration %s\n",
			cfg.Planner.MatchThreshold, cfg.Planner.MaxNodes, cfg.Planner.MaxDuration)
		cmd.Printf("monitor:   cost overrun ratio %.2f\n", cfg.Monitor.CostOverrunRatio)
		cmd.Printf("pruning:   floor %.2f, retention %s, schedule %q\n",
			cfg.Maintenance.ConfidenceFloor, cfg.Maintenance.Retention, cfg.Maintenance.Schedule)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
