// Package logging contains the structured loggers used throughout the viewer.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface engine components are handed. It is a
// subset of zap's sugared API plus sublogger support.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a logger namespaced under the given name.
	Sublogger(name string) Logger
	// AsZap exposes the underlying sugared logger.
	AsZap() *zap.SugaredLogger
}

type impl struct {
	*zap.SugaredLogger
}

func (l *impl) Sublogger(name string) Logger {
	return &impl{l.Named(name)}
}

func (l *impl) AsZap() *zap.SugaredLogger {
	return l.SugaredLogger
}

// NewEncoderConfig returns the console encoder config used by all loggers;
// stacktraces are omitted and levels are colored.
func NewEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

func newLogger(name string, level zapcore.Level) Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(NewEncoderConfig()),
		zapcore.Lock(zapcore.AddSync(os.Stdout)),
		level,
	)
	return &impl{zap.New(core).Sugar().Named(name)}
}

// NewLogger returns a new logger that outputs Info+ logs to stdout.
func NewLogger(name string) Logger {
	return newLogger(name, zapcore.InfoLevel)
}

// NewDebugLogger returns a new logger that outputs Debug+ logs to stdout.
func NewDebugLogger(name string) Logger {
	return newLogger(name, zapcore.DebugLevel)
}
