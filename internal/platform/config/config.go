// Package config loads engine configuration from environment variables with
// an optional YAML overlay file, env vars always winning, with a file
// layer for deployments that prefer a checked-in config over ad hoc env
// vars.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lprior-repo/nuoc-sub001/internal/platform/envutil"
)

// Config is every tunable the engine's ambient stack reads: storage
// location, HTTP port, background-loop intervals, retry backoff
// parameters, and the per-attempt wall-clock ceiling.
type Config struct {
	StorageDSN   string        `yaml:"storage_dsn"`
	StorageDir   string        `yaml:"storage_dir"`
	HTTPPort     int           `yaml:"http_port"`
	WorkerConcurrency int      `yaml:"worker_concurrency"`

	SchedulerInterval time.Duration `yaml:"-"`
	ReaperInterval    time.Duration `yaml:"-"`
	TimeoutSweepInterval time.Duration `yaml:"-"`

	SchedulerIntervalMS int `yaml:"scheduler_interval_ms"`
	ReaperIntervalMS    int `yaml:"reaper_interval_ms"`
	TimeoutSweepIntervalMS int `yaml:"timeout_sweep_interval_ms"`
	WorkerLeaseTimeoutSec int `yaml:"worker_lease_timeout_sec"`

	RetryBaseMS   int     `yaml:"retry_base_ms"`
	RetryFactor   float64 `yaml:"retry_factor"`
	RetryMaxMS    int     `yaml:"retry_max_ms"`
	RetryJitterFrac float64 `yaml:"retry_jitter_frac"`

	AttemptWallClockCeilingSec int `yaml:"attempt_wall_clock_ceiling_sec"`

	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`

	OtelServiceName string `yaml:"otel_service_name"`
	OtelEnvironment string `yaml:"otel_environment"`

	MetricsAddr string `yaml:"metrics_addr"`

	LogMode string `yaml:"log_mode"`
}

// Default returns the engine's out-of-the-box configuration.
func Default() Config {
	return Config{
		StorageDir:                 "./data",
		HTTPPort:                   4097,
		WorkerConcurrency:          4,
		SchedulerIntervalMS:        1000,
		ReaperIntervalMS:           5000,
		TimeoutSweepIntervalMS:     2000,
		WorkerLeaseTimeoutSec:      30,
		RetryBaseMS:                1000,
		RetryFactor:                2.0,
		RetryMaxMS:                 5 * 60 * 1000,
		RetryJitterFrac:            0.2,
		AttemptWallClockCeilingSec: 300,
		RedisChannel:               "engine-events",
		MetricsAddr:                ":9097",
		OtelServiceName:            "workflow-engine",
		OtelEnvironment:            "development",
		LogMode:                    "development",
	}
}

// Load builds a Config starting from Default(), overlaying an optional YAML
// file (path from ENGINE_CONFIG_FILE) and finally environment variables,
// which always win — env is the source of truth, the file layer only
// supplies checked-in defaults.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("ENGINE_CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.StorageDSN = envString("ENGINE_STORAGE_DSN", cfg.StorageDSN)
	cfg.StorageDir = envString("ENGINE_STORAGE_DIR", cfg.StorageDir)
	cfg.HTTPPort = envutil.Int("ENGINE_HTTP_PORT", cfg.HTTPPort)
	cfg.WorkerConcurrency = envutil.Int("ENGINE_WORKER_CONCURRENCY", cfg.WorkerConcurrency)
	cfg.SchedulerIntervalMS = envutil.Int("ENGINE_SCHEDULER_INTERVAL_MS", cfg.SchedulerIntervalMS)
	cfg.ReaperIntervalMS = envutil.Int("ENGINE_REAPER_INTERVAL_MS", cfg.ReaperIntervalMS)
	cfg.TimeoutSweepIntervalMS = envutil.Int("ENGINE_TIMEOUT_SWEEP_INTERVAL_MS", cfg.TimeoutSweepIntervalMS)
	cfg.WorkerLeaseTimeoutSec = envutil.Int("ENGINE_WORKER_LEASE_TIMEOUT_SEC", cfg.WorkerLeaseTimeoutSec)
	cfg.RetryBaseMS = envutil.Int("ENGINE_RETRY_BASE_MS", cfg.RetryBaseMS)
	cfg.RetryMaxMS = envutil.Int("ENGINE_RETRY_MAX_MS", cfg.RetryMaxMS)
	cfg.RetryFactor = envutil.Float("ENGINE_RETRY_FACTOR", cfg.RetryFactor)
	cfg.RetryJitterFrac = envutil.Float("ENGINE_RETRY_JITTER_FRAC", cfg.RetryJitterFrac)
	cfg.AttemptWallClockCeilingSec = envutil.Int("ENGINE_ATTEMPT_CEILING_SEC", cfg.AttemptWallClockCeilingSec)
	cfg.RedisAddr = envString("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisChannel = envString("REDIS_CHANNEL", cfg.RedisChannel)
	cfg.MetricsAddr = envString("ENGINE_METRICS_ADDR", cfg.MetricsAddr)
	cfg.OtelServiceName = envString("OTEL_SERVICE_NAME", cfg.OtelServiceName)
	cfg.OtelEnvironment = envString("ENGINE_ENVIRONMENT", cfg.OtelEnvironment)
	cfg.LogMode = envString("ENGINE_LOG_MODE", cfg.LogMode)

	cfg.SchedulerInterval = time.Duration(cfg.SchedulerIntervalMS) * time.Millisecond
	cfg.ReaperInterval = time.Duration(cfg.ReaperIntervalMS) * time.Millisecond
	cfg.TimeoutSweepInterval = time.Duration(cfg.TimeoutSweepIntervalMS) * time.Millisecond

	return cfg, nil
}

func envString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}
