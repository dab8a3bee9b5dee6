// Package logging builds the zap logger shared by the CLI and the pipeline.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a config level name to a zap level. Unknown names fall
// back to info and are reported through ok.
func ParseLevel(name string) (level zapcore.Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "", "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

// Config selects the level and encoding. Format is "json" or "console".
func Config(level, format string) (zap.Config, error) {
	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json":
		cfg = zap.NewProductionConfig()
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	default:
		return zap.Config{}, fmt.Errorf("unknown log format %q (want json or console)", format)
	}

	lvl, ok := ParseLevel(level)
	if !ok {
		return zap.Config{}, fmt.Errorf("unknown log level %q", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg, nil
}

// New builds a logger writing to stderr.
func New(level, format string, noColor bool) (*zap.Logger, error) {
	cfg, err := Config(level, format)
	if err != nil {
		return nil, err
	}
	if noColor && cfg.Encoding == "console" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
