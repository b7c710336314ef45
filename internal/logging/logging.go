// Package logging builds the process logger: a zap core behind the slog API
// that the rest of the code is written against.
package logging

import (
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger at the given level. An unrecognised level falls
// back to info and is reported in the returned error, which callers may log
// and otherwise ignore. The returned func flushes buffered entries.
func New(level, service string) (*slog.Logger, func(), error) {
	var levelErr error
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = zapcore.InfoLevel
		levelErr = fmt.Errorf("log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build zap logger: %w", err)
	}

	logger := FromZap(zl).With("service", service)
	return logger, func() { _ = zl.Sync() }, levelErr
}

// FromZap adapts an existing zap logger to slog.
func FromZap(zl *zap.Logger) *slog.Logger {
	return slog.New(zapslog.NewHandler(zl.Core(), zapslog.WithCaller(true)))
}
