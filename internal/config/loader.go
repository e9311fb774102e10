package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/goap/internal/types"
)

// envPrefix namespaces the environment overrides, e.g. GOAP_DATABASE_PATH.
const envPrefix = "GOAP"

var envKeyReplacer = strings.NewReplacer(".", "_")

// Load reads configuration from the given YAML file, applying environment
// overrides on top. An empty path loads defaults plus environment
// overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	bindDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, types.WrapError(types.CONFIG_LOAD_FAILED,
				fmt.Sprintf("failed to read config file %s", path), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithDefaults loads the file when it exists and falls back to the
// defaults when it does not.
func LoadWithDefaults(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	return Load(path)
}

// Save writes the configuration to a YAML file, creating parent
// directories as needed.
func Save(cfg *Config, path string) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return types.WrapError(types.CONFIG_LOAD_FAILED, "failed to marshal config", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return types.WrapError(types.CONFIG_LOAD_FAILED,
				fmt.Sprintf("failed to create config directory %s", dir), err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return types.WrapError(types.CONFIG_LOAD_FAILED,
			fmt.Sprintf("failed to write config file %s", path), err)
	}
	return nil
}

// bindDefaults registers every default so viper serves full values even
// when the file sets only a subset.
func bindDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("core.home_dir", def.Core.HomeDir)
	v.SetDefault("core.debug", def.Core.Debug)

	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("database.max_open_conns", def.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", def.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", def.Database.ConnMaxLifetime)
	v.SetDefault("database.busy_timeout", def.Database.BusyTimeout)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	v.SetDefault("tracing.enabled", def.Tracing.Enabled)
	v.SetDefault("tracing.service_name", def.Tracing.ServiceName)

	v.SetDefault("planner.match_threshold", def.Planner.MatchThreshold)
	v.SetDefault("planner.boost_factor", def.Planner.BoostFactor)
	v.SetDefault("planner.max_nodes", def.Planner.MaxNodes)
	v.SetDefault("planner.max_duration", def.Planner.MaxDuration)
	v.SetDefault("planner.event_buffer_size", def.Planner.EventBufferSize)

	v.SetDefault("verification.quarantine_floor", def.Verification.QuarantineFloor)
	v.SetDefault("verification.quarantine_min_samples", def.Verification.QuarantineMinSamples)
	v.SetDefault("verification.trend_window", def.Verification.TrendWindow)
	v.SetDefault("verification.base_threshold", def.Verification.BaseThreshold)
	v.SetDefault("verification.threshold_band", def.Verification.ThresholdBand)
	v.SetDefault("verification.threshold_gain", def.Verification.ThresholdGain)
	v.SetDefault("verification.target_success_rate", def.Verification.TargetSuccessRate)

	v.SetDefault("monitor.cost_overrun_ratio", def.Monitor.CostOverrunRatio)

	v.SetDefault("maintenance.confidence_floor", def.Maintenance.ConfidenceFloor)
	v.SetDefault("maintenance.retention", def.Maintenance.Retention)
	v.SetDefault("maintenance.schedule", def.Maintenance.Schedule)
}
