package logging

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// DevMode indicates if development logging is enabled
	DevMode = os.Getenv("DEV_MODE") == "1"

	logger atomic.Pointer[zap.Logger]
)

func init() {
	logger.Store(build(Options{}))
}

// Options controls where and how the shared logger writes.
type Options struct {
	// Level is debug, info, warn or error. Empty means info, or debug in DevMode.
	Level string
	// JSON switches the encoder from console to JSON.
	JSON bool
	// Path sends output to a size-rotated file instead of stderr.
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// Init replaces the shared logger.
func Init(opts Options) {
	prev := logger.Swap(build(opts))
	if prev != nil {
		_ = prev.Sync()
	}
}

// L returns the shared zap logger.
func L() *zap.Logger {
	return logger.Load()
}

// Sync flushes buffered output. Call before exit.
func Sync() {
	_ = L().Sync()
}

func build(opts Options) *zap.Logger {
	level := parseLevel(opts.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if opts.JSON || opts.Path != "" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer
	if opts.Path != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := opts.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			Compress:   true,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	return zap.New(zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level)))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "info":
		return zapcore.InfoLevel
	default:
		if DevMode {
			return zapcore.DebugLevel
		}
		return zapcore.InfoLevel
	}
}

// DevLog logs only when DEV_MODE=1
func DevLog(format string, args ...interface{}) {
	if DevMode {
		L().Debug(fmt.Sprintf(format, args...))
	}
}

// UserLog logs important user-facing information (always visible)
func UserLog(format string, args ...interface{}) {
	L().Info(fmt.Sprintf(format, args...))
}

// ErrorLog logs errors (always visible)
func ErrorLog(format string, args ...interface{}) {
	L().Error(fmt.Sprintf(format, args...))
}

// Audit records a security decision. Every denial the pipeline makes goes
// through here.
func Audit(msg string, fields ...map[string]interface{}) {
	NewStructuredLogger("audit").Warn(msg, fields...)
}
