package auth

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a Logger backed by zap. format is either "json"
// or "console". The returned func flushes buffered entries.
func NewZapLogger(level, format string) (Logger, func() error, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console", "text":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, nil, err
	}

	return NewLoggerFromZap(base), base.Sync, nil
}

// NewLoggerFromZap adapts an existing zap logger
func NewLoggerFromZap(l *zap.Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return zapLogger{sugar: l.Sugar().Named("auth")}
}

func (z zapLogger) Debug(format string, args ...any) { z.sugar.Debugf(format, args...) }

func (z zapLogger) Info(format string, args ...any) { z.sugar.Infof(format, args...) }

func (z zapLogger) Warn(format string, args ...any) { z.sugar.Warnf(format, args...) }

func (z zapLogger) Error(format string, args ...any) { z.sugar.Errorf(format, args...) }

type defLogger struct{}

// NewDefaultLogger returns the fmt backed logger used when none is set
func NewDefaultLogger() Logger {
	return defLogger{}
}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
