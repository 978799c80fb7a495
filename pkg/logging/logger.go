// Package logging builds the structured zap loggers handed to every actor.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategoryConstellation Category = "constellation"
	CategoryCompositor    Category = "compositor"
	CategoryPipeline      Category = "pipeline"
	CategoryChaos         Category = "chaos"
	CategoryBus           Category = "bus"
	CategoryAPI           Category = "api"
	CategoryRasterizer    Category = "rasterizer"
)

// Format selects the log encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Options configures a logger.
type Options struct {
	Level  string `yaml:"level"`
	Format Format `yaml:"format"`
	// Dir, when set, additionally appends JSON lines to Dir/constellation.jsonl.
	Dir string `yaml:"dir"`
}

// DefaultOptions returns info-level JSON logging to stderr.
func DefaultOptions() Options {
	return Options{Level: "info", Format: FormatJSON}
}

// New creates a logger from opts.
func New(opts Options) (*zap.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	switch opts.Format {
	case FormatConsole:
		cfg = zap.NewDevelopmentConfig()
	case FormatJSON, "":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}

	if dir := strings.TrimSpace(opts.Dir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, filepath.Join(dir, "constellation.jsonl"))
	}

	return cfg.Build()
}

// For returns a child logger tagged with the subsystem category.
func For(base *zap.Logger, category Category) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return base.With(zap.String("category", string(category)))
}

func parseLevel(raw string) (zapcore.Level, error) {
	if strings.TrimSpace(raw) == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	return level, nil
}
