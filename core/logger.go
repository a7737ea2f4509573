package core

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the SDK logger from the configuration.
// Logging disabled yields a no-op logger so call sites never nil-check.
// The production environment gets JSON output for log aggregation,
// everything else gets the human-readable console encoder.
func NewLogger(cfg *Config) *zap.Logger {
	if cfg == nil || !cfg.LoggingEnabled {
		return zap.NewNop()
	}

	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		if parsed, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
	}

	var zapCfg zap.Config
	if cfg.Environment == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}

	return logger.With(
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
	)
}
