// Package config defines the runtime configuration for the planning
// service: storage location, logging and tracing, and the tunable knobs of
// the planner and its learning loops.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zero-day-ai/goap/internal/types"
)

// Config is the root configuration.
type Config struct {
	Core         CoreConfig         `mapstructure:"core" yaml:"core"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Tracing      TracingConfig      `mapstructure:"tracing" yaml:"tracing"`
	Planner      PlannerConfig      `mapstructure:"planner" yaml:"planner"`
	Verification VerificationConfig `mapstructure:"verification" yaml:"verification"`
	Monitor      MonitorConfig      `mapstructure:"monitor" yaml:"monitor"`
	Maintenance  MaintenanceConfig  `mapstructure:"maintenance" yaml:"maintenance"`
}

// CoreConfig holds process-level settings.
type CoreConfig struct {
	HomeDir string `mapstructure:"home_dir" yaml:"home_dir"`
	Debug   bool   `mapstructure:"debug" yaml:"debug"`
}

// DatabaseConfig holds SQLite connection settings.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path" yaml:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// PlannerConfig holds the planner and heuristic knobs.
type PlannerConfig struct {
	MatchThreshold  float64       `mapstructure:"match_threshold" yaml:"match_threshold"`
	BoostFactor     float64       `mapstructure:"boost_factor" yaml:"boost_factor"`
	MaxNodes        int           `mapstructure:"max_nodes" yaml:"max_nodes"`
	MaxDuration     time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	EventBufferSize int           `mapstructure:"event_buffer_size" yaml:"event_buffer_size"`
}

// VerificationConfig holds the verification-learning knobs.
type VerificationConfig struct {
	QuarantineFloor      float64 `mapstructure:"quarantine_floor" yaml:"quarantine_floor"`
	QuarantineMinSamples int     `mapstructure:"quarantine_min_samples" yaml:"quarantine_min_samples"`
	TrendWindow          int     `mapstructure:"trend_window" yaml:"trend_window"`
	BaseThreshold        float64 `mapstructure:"base_threshold" yaml:"base_threshold"`
	ThresholdBand        float64 `mapstructure:"threshold_band" yaml:"threshold_band"`
	ThresholdGain        float64 `mapstructure:"threshold_gain" yaml:"threshold_gain"`
	TargetSuccessRate    float64 `mapstructure:"target_success_rate" yaml:"target_success_rate"`
}

// MonitorConfig holds the replanning monitor knobs.
type MonitorConfig struct {
	CostOverrunRatio float64 `mapstructure:"cost_overrun_ratio" yaml:"cost_overrun_ratio"`
}

// MaintenanceConfig holds the pruning sweep knobs.
type MaintenanceConfig struct {
	ConfidenceFloor float64       `mapstructure:"confidence_floor" yaml:"confidence_floor"`
	Retention       time.Duration `mapstructure:"retention" yaml:"retention"`
	Schedule        string        `mapstructure:"schedule" yaml:"schedule"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	homeDir := getDefaultHomeDir()

	return &Config{
		Core: CoreConfig{
			HomeDir: homeDir,
		},
		Database: DatabaseConfig{
			Path:            filepath.Join(homeDir, "goap.db"),
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			BusyTimeout:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "goap",
		},
		Planner: PlannerConfig{
			MatchThreshold:  0.7,
			BoostFactor:     0.3,
			MaxNodes:        10000,
			MaxDuration:     5 * time.Second,
			EventBufferSize: 100,
		},
		Verification: VerificationConfig{
			QuarantineFloor:      0.3,
			QuarantineMinSamples: 10,
			TrendWindow:          10,
			BaseThreshold:        0.85,
			ThresholdBand:        0.1,
			ThresholdGain:        0.2,
			TargetSuccessRate:    0.8,
		},
		Monitor: MonitorConfig{
			CostOverrunRatio: 1.5,
		},
		Maintenance: MaintenanceConfig{
			ConfidenceFloor: 0.1,
			Retention:       30 * 24 * time.Hour,
			Schedule:        "0 3 * * *",
		},
	}
}

// Validate checks the configuration for internally inconsistent or
// out-of-range values.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.Path == "" {
		problems = append(problems, "database.path must be set")
	}
	if c.Planner.MatchThreshold <= 0 || c.Planner.MatchThreshold > 1 {
		problems = append(problems, "planner.match_threshold must be in (0, 1]")
	}
	if c.Planner.BoostFactor < 0 || c.Planner.BoostFactor > 1 {
		problems = append(problems, "planner.boost_factor must be in [0, 1]")
	}
	if c.Planner.MaxNodes < 0 {
		problems = append(problems, "planner.max_nodes must not be negative")
	}
	if c.Verification.BaseThreshold <= 0 || c.Verification.BaseThreshold > 1 {
		problems = append(problems, "verification.base_threshold must be in (0, 1]")
	}
	if c.Verification.QuarantineFloor < 0 || c.Verification.QuarantineFloor > 1 {
		problems = append(problems, "verification.quarantine_floor must be in [0, 1]")
	}
	if c.Verification.ThresholdBand < 0 || c.Verification.ThresholdBand > 0.5 {
		problems = append(problems, "verification.threshold_band must be in [0, 0.5]")
	}
	if c.Verification.TrendWindow < 1 {
		problems = append(problems, "verification.trend_window must be at least 1")
	}
	if c.Monitor.CostOverrunRatio <= 1 {
		problems = append(problems, "monitor.cost_overrun_ratio must be greater than 1")
	}
	if c.Maintenance.ConfidenceFloor < 0 || c.Maintenance.ConfidenceFloor > 1 {
		problems = append(problems, "maintenance.confidence_floor must be in [0, 1]")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of json, text", c.Logging.Format))
	}

	if len(problems) > 0 {
		err := types.NewError(types.CONFIG_VALIDATION_FAILED, problems[0])
		for _, p := range problems[1:] {
			err.Message += "; " + p
		}
		return err
	}
	return nil
}

func getDefaultHomeDir() string {
	if env := os.Getenv("GOAP_HOME"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".goap"
	}
	return filepath.Join(home, ".goap")
}
