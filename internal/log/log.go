// Package log provides the module-scoped structured logger used across the
// engine: every package gets its own named logger instance instead of
// reaching for a single global.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module names for the components that call New. Kept as a
// closed set so grepping for a component's log lines is a literal string
// search, not a guess.
const (
	ModuleStepStore   = "stepstore"
	ModuleDispatcher  = "dispatcher"
	ModuleJob         = "job"
	ModuleThrottle    = "throttle"
	ModuleResolver    = "resolver"
	ModuleSnapshot    = "snapshot"
	ModuleNotify      = "notify"
	ModuleObserver    = "observer"
	ModuleRepeater    = "repeater"
	ModuleHTTPAPI     = "httpapi"
	ModulePositions   = "positions"
	ModuleCmd         = "cmd"
)

var base *zap.Logger

func init() {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

// Logger is a thin wrapper so call sites read log.New(...).Info(...)
// rather than threading a *zap.SugaredLogger everywhere directly.
type Logger struct {
	z       *zap.Logger
	module  string
}

// New returns the module logger for the given component name.
func New(module string) *Logger {
	return &Logger{z: base.With(zap.String("module", module)), module: module}
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...), module: l.module}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Sync flushes buffered log entries; call from main before process exit.
func Sync() error {
	return base.Sync()
}
