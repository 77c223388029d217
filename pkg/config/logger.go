package config

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger creates a structured logger based on configuration.
func NewLogger(config LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config

	switch config.Format {
	case "json", "":
		zapConfig = zap.NewProductionConfig()
	case "text":
		zapConfig = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	levelStr := config.Level
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := zap.ParseAtomicLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", levelStr, err)
	}
	zapConfig.Level = level

	if config.Format == "json" || config.Format == "" {
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.LevelKey = "level"
		zapConfig.EncoderConfig.MessageKey = "message"
		zapConfig.EncoderConfig.CallerKey = "caller"
		zapConfig.EncoderConfig.StacktraceKey = "stacktrace"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

// NewDevelopmentLogger creates a debug-level console logger for tooling
// and local runs.
func NewDevelopmentLogger() (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)

	logger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build development logger: %w", err)
	}

	return logger, nil
}
