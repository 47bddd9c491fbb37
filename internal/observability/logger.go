// File: internal/observability/logger.go
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/scalpel-explorer/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// globalLogger stores the process logger safely across goroutines.
	globalLogger atomic.Pointer[zap.Logger]
	// once ensures that initialization happens exactly once.
	once sync.Once
)

// ANSI color codes for the terminal.
const (
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorWhite   = "\x1b[37m"
	colorReset   = "\x1b[0m"
)

var colorMap = map[string]string{
	"red":     colorRed,
	"green":   colorGreen,
	"yellow":  colorYellow,
	"blue":    colorBlue,
	"magenta": colorMagenta,
	"cyan":    colorCyan,
	"white":   colorWhite,
}

// Initialize sets up the global logger with the given console sink. Calls after
// the first one are ignored.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		logger := NewLogger(cfg, consoleWriter)
		globalLogger.Store(logger)

		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger is the production entry point; console output goes to a
// locked stderr so reports written to stdout stay machine readable.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// NewLogger builds a standalone logger without touching global state. The
// console core uses cfg.Format; the optional rotated file core is always JSON.
func NewLogger(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	cores := []zapcore.Core{zapcore.NewCore(getEncoder(cfg), consoleWriter, level)}

	if cfg.LogFile != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(getEncoder(config.LoggerConfig{Format: "json"}), fileWriter, level))
	}

	options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		options = append(options, zap.AddCaller())
	}

	logger := zap.New(zapcore.NewTee(cores...), options...)
	if cfg.ServiceName != "" {
		logger = logger.Named(cfg.ServiceName)
	}
	return logger
}

// ResetForTest clears the global logger so a test can initialize it again.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

func newColorizedLevelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	byLevel := map[zapcore.Level]string{
		zapcore.DebugLevel:  colors.Debug,
		zapcore.InfoLevel:   colors.Info,
		zapcore.WarnLevel:   colors.Warn,
		zapcore.ErrorLevel:  colors.Error,
		zapcore.DPanicLevel: colors.DPanic,
		zapcore.PanicLevel:  colors.Panic,
		zapcore.FatalLevel:  colors.Fatal,
	}
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		levelStr := strings.ToUpper(level.String())
		if color, ok := colorMap[byLevel[level]]; ok {
			enc.AppendString(fmt.Sprintf("%s%s%s", color, levelStr, colorReset))
			return
		}
		enc.AppendString(levelStr)
	}
}

// getEncoder returns the JSON encoder for "json" and a single-line colourised
// console encoder for everything else.
func getEncoder(cfg config.LoggerConfig) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")

	if cfg.Format == "json" {
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(encoderConfig)
	}

	encoderConfig.EncodeLevel = newColorizedLevelEncoder(cfg.Colors)
	// Suffix the logger name with a dot, e.g. "scalpel-explorer.Explorer.".
	encoderConfig.EncodeName = func(loggerName string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(loggerName + ".")
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// GetLogger returns the initialized global logger instance, or a development
// fallback when Initialize has not run.
func GetLogger() *zap.Logger {
	logger := globalLogger.Load()
	if logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		l.Warn("Global logger requested before initialization; using fallback.")
		return l.Named("fallback")
	}
	return logger
}

// Sync flushes any buffered log entries. Applications should call this before exiting.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil {
		// Syncing a terminal or pipe fails on several platforms; that is not worth reporting.
		errMsg := err.Error()
		if !strings.Contains(errMsg, "sync /dev/std") &&
			!strings.Contains(errMsg, "invalid argument") &&
			!strings.Contains(errMsg, "operation not supported") &&
			!strings.Contains(errMsg, "inappropriate ioctl") {
			fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
		}
	}
}
