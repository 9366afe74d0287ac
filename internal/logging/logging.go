// Package logging builds the zap loggers used across mediakb.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Modes accepted by New.
const (
	ModeDev  = "dev"
	ModeProd = "prod"
)

// Options selects the logger flavor.
type Options struct {
	// Mode is "prod" for JSON output; anything else gives console output.
	Mode    string
	Verbose bool
	// OutputPaths overrides stderr, mostly for tests.
	OutputPaths []string
}

// New returns a logger for the given mode. Verbose lowers the level to
// debug; otherwise info and above are emitted.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(strings.TrimSpace(opts.Mode), ModeProd) {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	}
	level := zapcore.InfoLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
		cfg.ErrorOutputPaths = opts.OutputPaths
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return log, nil
}

// Progress adapts a logger into a line callback, for components that
// report human-readable progress.
func Progress(log *zap.Logger) func(string) {
	return func(line string) {
		log.Info(line)
	}
}
