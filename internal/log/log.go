// Package log provides the structured logger shared by ollamcp components.
package log

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level names accepted by SetLevel.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var zapLevel = zap.NewAtomicLevelAt(zapcore.WarnLevel)

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "lvl",
	NameKey:        "name",
	CallerKey:      "caller",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.StringDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
	EncodeName:     zapcore.FullNameEncoder,
}

// base writes to stderr so log lines never interleave with chat output on
// stdout.
var base = zap.New(
	zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		zapLevel,
	),
	zap.AddCaller(),
).Sugar()

// Logger is the logging surface used throughout ollamcp.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Default is the process-wide logger. Components should prefer Named.
var Default Logger = base

// Named returns a logger tagged with a component name, e.g. "mcppool.github".
func Named(name string) Logger {
	return base.Named(name)
}

// SetLevel sets the minimum level. Unknown values fall back to warn, which
// keeps the interactive session quiet unless asked otherwise.
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelDebug:
		zapLevel.SetLevel(zapcore.DebugLevel)
	case LevelInfo:
		zapLevel.SetLevel(zapcore.InfoLevel)
	case LevelWarn, "warning", "":
		zapLevel.SetLevel(zapcore.WarnLevel)
	case LevelError:
		zapLevel.SetLevel(zapcore.ErrorLevel)
	default:
		zapLevel.SetLevel(zapcore.WarnLevel)
	}
}

// Level reports the current minimum level name.
func Level() string {
	return zapLevel.Level().String()
}

// Sync flushes buffered log entries.
func Sync() {
	_ = base.Sync()
}

// Debugf logs at debug level on the default logger.
func Debugf(format string, args ...any) { Default.Debugf(format, args...) }

// Infof logs at info level on the default logger.
func Infof(format string, args ...any) { Default.Infof(format, args...) }

// Warnf logs at warn level on the default logger.
func Warnf(format string, args ...any) { Default.Warnf(format, args...) }

// Errorf logs at error level on the default logger.
func Errorf(format string, args ...any) { Default.Errorf(format, args...) }
