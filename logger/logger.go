// Package logger wraps zap for structured logging. Log lines go to the
// console in development format and to a JSON log file.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log     *zap.Logger
	once    sync.Once
	logFile = "entlink.log"
)

// InitLogger builds the global logger. Safe to call more than once.
func InitLogger() {
	once.Do(func() {
		level := zap.NewAtomicLevelAt(zap.InfoLevel)

		fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		file, _ := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())

		core := zapcore.NewTee(
			zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level),
			zapcore.NewCore(fileEncoder, zapcore.AddSync(file), level),
		)
		log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	})
}

// SetLogPath overrides the log file destination. Call before InitLogger.
func SetLogPath(path string) {
	logFile = path
}

// ResetLogger drops the current logger so the next InitLogger rebuilds it.
// Intended for tests.
func ResetLogger() {
	Sync()
	log = nil
	once = sync.Once{}
}

// GetLogger returns the global logger, initializing it on first use.
func GetLogger() *zap.Logger {
	if log == nil {
		InitLogger()
	}
	return log
}

// Sync flushes buffered log entries.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
