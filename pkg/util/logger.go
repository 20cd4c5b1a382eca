// Package util provides small cross-cutting helpers shared by the raft
// packages: leveled logging and a couple of integer helpers.
package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels
const (
	// LevelError only
	LevelError = 1
	// LevelWarning and error
	LevelWarning = 2
	// LevelInfo, warning and error
	LevelInfo = 3
	// All
	LevelTrace = 4
)

var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
var logger = newLogger()

func newLogger() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Logging misconfiguration shouldn't take the process down.
		l = zap.NewNop()
	}
	return l.Sugar()
}

// SetLogLevel sets log level, clamping to [LevelError, LevelTrace]
func SetLogLevel(lvl int) {
	switch {
	case lvl <= LevelError:
		level.SetLevel(zapcore.ErrorLevel)
	case lvl == LevelWarning:
		level.SetLevel(zapcore.WarnLevel)
	case lvl == LevelInfo:
		level.SetLevel(zapcore.InfoLevel)
	default:
		level.SetLevel(zapcore.DebugLevel)
	}
}

// WriteError writes an error log
func WriteError(format string, v ...interface{}) {
	logger.Errorf(format, v...)
}

// WriteWarning writes a warning log
func WriteWarning(format string, v ...interface{}) {
	logger.Warnf(format, v...)
}

// WriteInfo writes a information
func WriteInfo(format string, v ...interface{}) {
	logger.Infof(format, v...)
}

// WriteTrace writes traces and debug information
func WriteTrace(format string, v ...interface{}) {
	logger.Debugf(format, v...)
}

// Panicf logs the formatted message at panic level, then panics.
func Panicf(format string, v ...interface{}) {
	logger.Panicf(format, v...)
}

// Panicln logs the given values at panic level then panics.
func Panicln(v ...interface{}) {
	logger.Panic(v...)
}

// Max returns the larger of two ints.
func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of two ints.
func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// MaxU64 returns the larger of two uint64s.
func MaxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// MinU64 returns the smaller of two uint64s.
func MinU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
