package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options mirrors the --log-* flags.
type Options struct {
	Level    string
	Encoding string
	NoColor  bool
}

func New(opts Options) (*zap.Logger, error) {
	level := strings.ToLower(strings.TrimSpace(opts.Level))
	if level == "off" {
		return zap.NewNop(), nil
	}

	encoding := opts.Encoding
	if encoding == "" {
		encoding = "console"
	}
	if encoding != "console" && encoding != "json" {
		return nil, fmt.Errorf("unsupported log encoding %q", encoding)
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	switch level {
	case "debug", "trace":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return nil, fmt.Errorf("unsupported log level %q", opts.Level)
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" && !opts.NoColor {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else if encoding == "console" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	// Sampling would drop repeated progress lines during long scans.
	cfg.Sampling = nil

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l, nil
}
