// Package logging wraps zap.Logger construction the way the teacher's
// pkg/logger wraps logrus: a small config struct, a constructor that
// applies level and format, and nothing else exported. Every component
// in this module takes a *zap.Logger via constructor injection rather than
// reaching for a package-level global.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls level and format; output is not configurable and goes
// to zap's production default (stderr).
type Config struct {
	Level  string `env:"LOG_LEVEL"`
	Format string `env:"LOG_FORMAT"`
}

// DefaultConfig returns info/json, the safe default for a service expected
// to ship logs to an aggregator.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// New builds a *zap.Logger from cfg. Unknown levels fall back to info
// rather than failing construction, matching the teacher's
// logrus.ParseLevel fallback behavior.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			level = zapcore.InfoLevel
		}
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if strings.ToLower(cfg.Format) == "console" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	return zcfg.Build()
}

// Nop returns a logger that discards everything, for tests and defaults
// that don't want to thread a real logger through.
func Nop() *zap.Logger { return zap.NewNop() }
