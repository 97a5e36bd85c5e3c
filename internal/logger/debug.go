package logger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.RWMutex
	log          = zap.NewNop()
	debugEnabled bool
)

// Init installs the package logger. A production zap config is used unless
// debug is set, in which case the development config (console encoder, debug
// level) is installed and the debug file sink is armed.
func Init(debug bool) {
	mu.Lock()
	defer mu.Unlock()

	debugEnabled = debug

	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return
	}
	log = l.Named("cqlcontrol")
}

// SetLogger replaces the package logger. Used by embedders that already
// carry their own zap tree.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	log = l
}

// SetDebugEnabled enables or disables the debug file sink
func SetDebugEnabled(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug logging is enabled
func IsDebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugEnabled
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debugf logs a formatted debug message
func Debugf(format string, args ...interface{}) {
	get().Sugar().Debugf(format, args...)
}

// Infof logs a formatted info message
func Infof(format string, args ...interface{}) {
	get().Sugar().Infof(format, args...)
}

// Warnf logs a formatted warning message
func Warnf(format string, args ...interface{}) {
	get().Sugar().Warnf(format, args...)
}

// Errorf logs a formatted error message
func Errorf(format string, args ...interface{}) {
	get().Sugar().Errorf(format, args...)
}

// DebugToFile logs debug messages to a file in addition to the zap sink.
// Kept for field debugging of connection issues without restarting with a
// different zap config.
func DebugToFile(context string, message string) {
	if !IsDebugEnabled() {
		return
	}

	logPath := os.Getenv("CQLCONTROL_DEBUG_LOG_PATH")
	if logPath == "" {
		cwd, _ := os.Getwd()
		logPath = cwd + "/cqlcontrol_debug.log"
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304: Potential file inclusion via variable
	if err != nil {
		return
	}
	defer logFile.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(logFile, "[%s] Context: %s | %s\n", timestamp, context, message)
	_ = logFile.Sync()
}

// DebugfToFile logs formatted debug messages to a file
func DebugfToFile(context string, format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	message := fmt.Sprintf(format, args...)
	DebugToFile(context, message)
}
