/*
NAME
  log.go

DESCRIPTION
  log.go provides the engine's logger: a small level-gated interface
  backed by zap, with optional file rotation via lumberjack. Call
  sites pass structured key-value pairs rather than building message
  strings themselves.
*/

// Package log defines the engine's logging interface and its default
// zap-backed implementation.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, ordered least to most severe. A Logger configured
// at a given level drops calls below it.
const (
	Debug int8 = iota
	Info
	Warning
	Error
)

// Logger is the interface the engine logs through. Implementations
// must be safe for concurrent use.
type Logger interface {
	SetLevel(level int8)
	Log(level int8, message string, params ...interface{})

	Debug(message string, params ...interface{})
	Info(message string, params ...interface{})
	Warning(message string, params ...interface{})
	Error(message string, params ...interface{})
}

func zapLevel(l int8) zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	case Warning:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// ZapLogger is the default Logger, backed by a zap.SugaredLogger.
type ZapLogger struct {
	level *zap.AtomicLevel
	sugar *zap.SugaredLogger
}

// FileConfig configures rotation for a file-backed ZapLogger. A nil
// FileConfig means log to stderr only.
type FileConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds a ZapLogger at the given initial level. When file is
// non-nil, output is written to a lumberjack-rotated file instead of
// stderr.
func New(level int8, file *FileConfig) *ZapLogger {
	atom := zap.NewAtomicLevelAt(zapLevel(level))

	var ws zapcore.WriteSyncer
	if file != nil {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   file.Filename,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
		})
	} else {
		ws = zapcore.Lock(zapcore.AddSync(os.Stderr))
	}

	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(enc, ws, &atom)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &ZapLogger{level: &atom, sugar: logger.Sugar()}
}

// SetLevel changes the minimum severity logged.
func (l *ZapLogger) SetLevel(level int8) { l.level.SetLevel(zapLevel(level)) }

// Log logs message at level with structured key-value params.
func (l *ZapLogger) Log(level int8, message string, params ...interface{}) {
	switch level {
	case Debug:
		l.sugar.Debugw(message, params...)
	case Info:
		l.sugar.Infow(message, params...)
	case Warning:
		l.sugar.Warnw(message, params...)
	default:
		l.sugar.Errorw(message, params...)
	}
}

func (l *ZapLogger) Debug(message string, params ...interface{})   { l.Log(Debug, message, params...) }
func (l *ZapLogger) Info(message string, params ...interface{})    { l.Log(Info, message, params...) }
func (l *ZapLogger) Warning(message string, params ...interface{}) { l.Log(Warning, message, params...) }
func (l *ZapLogger) Error(message string, params ...interface{})   { l.Log(Error, message, params...) }

// Sync flushes any buffered log entries.
func (l *ZapLogger) Sync() error { return l.sugar.Sync() }
