// Package logging builds the router's structured logger. Every
// long-lived component takes a *zap.Logger rather than reaching for the
// global logger, matching the dependency-injected logger shape the
// teacher's daemon uses (apilo/internal/daemon/logger.go), expressed
// here with zap in place of the stdlib log.Logger since the router's
// domain (concurrent per-backend state transitions) needs structured,
// leveled fields rather than formatted strings.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style JSON logger at the given level
// ("debug", "info", "warn", "error"). An unrecognized level falls back
// to "info".
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}
