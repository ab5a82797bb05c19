package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured key/value attached to a log entry.
type Field = zap.Field

// Logger is the structured logging surface used throughout the codebase.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field constructors, re-exported so callers never import zap directly.
func String(k, v string) Field                 { return zap.String(k, v) }
func Float64(k string, v float64) Field        { return zap.Float64(k, v) }
func Int(k string, v int) Field                { return zap.Int(k, v) }
func Bool(k string, v bool) Field              { return zap.Bool(k, v) }
func Time(k string, v time.Time) Field         { return zap.Time(k, v) }
func Duration(k string, v time.Duration) Field { return zap.Duration(k, v) }
func Err(err error) Field                      { return zap.Error(err) }
func Any(k string, v interface{}) Field        { return zap.Any(k, v) }

// zapLogger implements Logger on top of a plain *zap.Logger.
type zapLogger struct {
	z *zap.Logger
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

// NewZapLogger creates a production-ready logger (JSON encoding, ISO8601 "ts").
// level is one of debug, info, warn, error; empty means info.
func NewZapLogger(level string) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{z: z}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() Logger { return &zapLogger{z: zap.NewNop()} }

// Wrap adapts an existing zap logger.
func Wrap(z *zap.Logger) Logger { return &zapLogger{z: z} }
