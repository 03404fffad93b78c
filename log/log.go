// High level log wrapper, so it can output different log based on level.
//
// There are five levels in total: FATAL, ERROR, WARNING, INFO, DEBUG.
// The default log output level is INFO, you can change it by:
// - call log.SetLevel()
// - set environment variable `LOG_LEVEL`
//
// Records are written by a zap core; SetOutputFile switches the sink to a
// size-rotated file.

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	LOG_LEVEL_NONE LogLevel = iota
	LOG_LEVEL_FATAL
	LOG_LEVEL_ERROR
	LOG_LEVEL_WARN
	LOG_LEVEL_INFO
	LOG_LEVEL_DEBUG
	LOG_LEVEL_ALL = LOG_LEVEL_DEBUG
)

var (
	// _log holds the global *Logger. Loads are lock free; swaps are
	// serialized by initMu.
	_log   atomic.Value
	initMu sync.Mutex
)

func init() {
	level := LOG_LEVEL_INFO
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		level = StringToLogLevel(l)
	}
	_log.Store(NewLogger(os.Stderr, level))
}

func logger() *Logger {
	return _log.Load().(*Logger)
}

// SetOutput redirects the global logger to w, keeping its level. It may be
// called while other goroutines log; they switch to w with their next record.
func SetOutput(w io.Writer) {
	initMu.Lock()
	defer initMu.Unlock()
	_log.Store(NewLogger(w, logger().Level()))
}

// SetOutputFile redirects the global logger to a rotating file. Sizes are in
// megabytes, as lumberjack expects.
func SetOutputFile(path string, maxSizeMB, maxBackups int) {
	SetOutput(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		LocalTime:  true,
	})
}

func SetLevel(level LogLevel) {
	logger().SetLevel(level)
}

func GetLogLevel() LogLevel {
	return logger().Level()
}

func SetLevelByString(level string) {
	logger().SetLevelByString(level)
}

func Info(v ...interface{}) {
	logger().Info(v...)
}

func Infof(format string, v ...interface{}) {
	logger().Infof(format, v...)
}

func Panic(v ...interface{}) {
	logger().Panic(v...)
}

func Panicf(format string, v ...interface{}) {
	logger().Panicf(format, v...)
}

func Debug(v ...interface{}) {
	logger().Debug(v...)
}

func Debugf(format string, v ...interface{}) {
	logger().Debugf(format, v...)
}

func Warn(v ...interface{}) {
	logger().Warning(v...)
}

func Warnf(format string, v ...interface{}) {
	logger().Warningf(format, v...)
}

func Warning(v ...interface{}) {
	logger().Warning(v...)
}

func Warningf(format string, v ...interface{}) {
	logger().Warningf(format, v...)
}

func Error(v ...interface{}) {
	logger().Error(v...)
}

func Errorf(format string, v ...interface{}) {
	logger().Errorf(format, v...)
}

func Fatal(v ...interface{}) {
	logger().Fatal(v...)
}

func Fatalf(format string, v ...interface{}) {
	logger().Fatalf(format, v...)
}

// Sync flushes buffered records of the global logger.
func Sync() error {
	return logger().sugar.Sync()
}

type Logger struct {
	sugar *zap.SugaredLogger
	atom  zap.AtomicLevel
	level *atomic.Int32
}

// NewLogger builds a console-encoded logger writing to w.
func NewLogger(w io.Writer, level LogLevel) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	atom := zap.NewAtomicLevelAt(toZapLevel(level))
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(zapcore.AddSync(w)), atom)
	// Two frames: the package-level helper and the Logger method.
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	return &Logger{sugar: z.Sugar(), atom: atom, level: atomic.NewInt32(int32(level))}
}

func (l *Logger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
	l.atom.SetLevel(toZapLevel(level))
}

func (l *Logger) SetLevelByString(level string) {
	l.SetLevel(StringToLogLevel(level))
}

func (l *Logger) enabled(level LogLevel) bool {
	return l.Level() >= level
}

func (l *Logger) Fatal(v ...interface{}) {
	l.sugar.Fatal(fmt.Sprint(v...))
}

func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.sugar.Fatalf(format, v...)
}

func (l *Logger) Panic(v ...interface{}) {
	l.sugar.Panic(fmt.Sprint(v...))
}

func (l *Logger) Panicf(format string, v ...interface{}) {
	l.sugar.Panicf(format, v...)
}

func (l *Logger) Error(v ...interface{}) {
	if l.enabled(LOG_LEVEL_ERROR) {
		l.sugar.Error(fmt.Sprint(v...))
	}
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	if l.enabled(LOG_LEVEL_ERROR) {
		l.sugar.Errorf(format, v...)
	}
}

func (l *Logger) Warning(v ...interface{}) {
	if l.enabled(LOG_LEVEL_WARN) {
		l.sugar.Warn(fmt.Sprint(v...))
	}
}

func (l *Logger) Warningf(format string, v ...interface{}) {
	if l.enabled(LOG_LEVEL_WARN) {
		l.sugar.Warnf(format, v...)
	}
}

func (l *Logger) Debug(v ...interface{}) {
	if l.enabled(LOG_LEVEL_DEBUG) {
		l.sugar.Debug(fmt.Sprint(v...))
	}
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.enabled(LOG_LEVEL_DEBUG) {
		l.sugar.Debugf(format, v...)
	}
}

func (l *Logger) Info(v ...interface{}) {
	if l.enabled(LOG_LEVEL_INFO) {
		l.sugar.Info(fmt.Sprint(v...))
	}
}

func (l *Logger) Infof(format string, v ...interface{}) {
	if l.enabled(LOG_LEVEL_INFO) {
		l.sugar.Infof(format, v...)
	}
}

func StringToLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "fatal":
		return LOG_LEVEL_FATAL
	case "error":
		return LOG_LEVEL_ERROR
	case "warn", "warning":
		return LOG_LEVEL_WARN
	case "debug":
		return LOG_LEVEL_DEBUG
	case "info":
		return LOG_LEVEL_INFO
	}
	return LOG_LEVEL_ALL
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LOG_LEVEL_NONE, LOG_LEVEL_FATAL:
		return zapcore.FatalLevel
	case LOG_LEVEL_ERROR:
		return zapcore.ErrorLevel
	case LOG_LEVEL_WARN:
		return zapcore.WarnLevel
	case LOG_LEVEL_INFO:
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}
