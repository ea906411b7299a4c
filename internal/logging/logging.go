package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Disabled is the log_file value that turns logging off
const Disabled = "-"

// Options selects where and how much to log
type Options struct {
	File    string
	Level   string
	Verbose bool
}

// New builds a JSON file logger. The terminal belongs to the TUI, so
// nothing is written to stdout or stderr.
func New(opts Options) (*zap.Logger, error) {
	if opts.File == "" || opts.File == Disabled {
		return zap.NewNop(), nil
	}

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Encoding:          "json",
		EncoderConfig:     encoder,
		OutputPaths:       []string{opts.File},
		ErrorOutputPaths:  []string{opts.File},
		DisableStacktrace: true,
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logger.With(zap.Int("pid", os.Getpid())), nil
}

// ParseLevel maps a level name onto zap. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
