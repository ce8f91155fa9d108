// Package config loads the core's runtime configuration. It follows the
// teacher's pkg/config precedence: environment variables decoded via
// envdecode, applied over library defaults, with a .env file optionally
// preloaded for local runs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/dbcore/agentcore/internal/logging"
	"github.com/dbcore/agentcore/internal/runtime"
)

// VaultConfig controls the encrypted credential store.
type VaultConfig struct {
	MasterPassphrase string `env:"VAULT_MASTER_PASSPHRASE"`
	StorePath        string `env:"VAULT_STORE_PATH"`
	KDFIterations    uint32 `env:"VAULT_KDF_ITERATIONS"`
}

// PoolConfig carries the Pool Manager's default min/max/timeouts, applied
// to any descriptor that doesn't override them.
type PoolConfig struct {
	MinSize             int           `env:"POOL_MIN_SIZE"`
	MaxSize             int           `env:"POOL_MAX_SIZE"`
	AcquireTimeout      time.Duration `env:"POOL_ACQUIRE_TIMEOUT"`
	IdleTimeout         time.Duration `env:"POOL_IDLE_TIMEOUT"`
	HealthProbeInterval time.Duration `env:"POOL_HEALTH_PROBE_INTERVAL"`
}

// RetryConfig is the default backoff policy handed to the retry decorator
// wherever a component doesn't supply its own.
type RetryConfig struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS"`
	BaseDelay   time.Duration `env:"RETRY_BASE_DELAY"`
	MaxDelay    time.Duration `env:"RETRY_MAX_DELAY"`
	Factor      float64       `env:"RETRY_FACTOR"`
	Jitter      float64       `env:"RETRY_JITTER"`
}

// SafetyConfig picks the default policy knob from spec.md's three levels.
type SafetyConfig struct {
	DefaultLevel string `env:"SAFETY_DEFAULT_LEVEL"`
}

// AuditConfig controls where the hash-chained log is persisted.
type AuditConfig struct {
	Path string `env:"AUDIT_LOG_PATH"`
}

// Config is the root configuration object, the only thing the demo binary
// and the orchestrator's tests construct directly.
type Config struct {
	Logging logging.Config
	Vault   VaultConfig
	Pool    PoolConfig
	Retry   RetryConfig
	Safety  SafetyConfig
	Audit   AuditConfig
}

// Defaults returns a Config with every field set to a safe default, the
// starting point both Load and tests build from.
func Defaults() *Config {
	return &Config{
		Logging: defaultLoggingConfig(),
		Vault: VaultConfig{
			StorePath:     "vault.db",
			KDFIterations: 3,
		},
		Pool: PoolConfig{
			MinSize:             1,
			MaxSize:             10,
			AcquireTimeout:      5 * time.Second,
			IdleTimeout:         5 * time.Minute,
			HealthProbeInterval: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    10 * time.Second,
			Factor:      2.0,
			Jitter:      0.2,
		},
		Safety: SafetyConfig{DefaultLevel: "moderate"},
		Audit:  AuditConfig{Path: "audit.ndjson"},
	}
}

// defaultLoggingConfig picks console output for a local development or
// testing deployment and json for production, the same split the teacher
// draws between a human reading a terminal and a log aggregator.
func defaultLoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if runtime.IsDevelopmentOrTesting() {
		cfg.Format = "console"
	}
	return cfg
}

// Load preloads a .env file (best-effort, absence is not an error) and
// overlays environment variables onto Defaults().
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("config: decode env: %w", err)
		}
	}
	return cfg, nil
}
