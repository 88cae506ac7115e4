// Package logger provides the process-wide zap logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// L is the global sugared logger.
	L *zap.SugaredLogger
	// Z is the global structured logger.
	Z *zap.Logger
)

func init() {
	z, _ := zap.NewProduction()
	Z = z
	L = z.Sugar()
}

// Config controls level and output of the global logger.
type Config struct {
	Level      string // debug, info, warn, error
	File       string // empty logs to stderr only
	MaxSize    int    // MB per file before rotation
	MaxBackups int
	MaxAge     int // days
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unsupported log level: %q", level)
	}
}

// Init replaces the global logger according to cfg.
func Init(cfg Config) error {
	zapLevel, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var output io.Writer = os.Stderr
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		output = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSize, 64),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAge, 7),
			Compress:   true,
		})
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(output),
		zapLevel,
	)

	Z = zap.New(core)
	L = Z.WithOptions(zap.AddCallerSkip(1)).Sugar()
	return nil
}

// SetNop silences all logging. Used by tests.
func SetNop() {
	Z = zap.NewNop()
	L = Z.Sugar()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Sync flushes buffered entries. Call before exit.
func Sync() {
	if Z != nil {
		_ = Z.Sync()
	}
}

// Debugf logs at debug level.
func Debugf(template string, args ...interface{}) { L.Debugf(template, args...) }

// Infof logs at info level.
func Infof(template string, args ...interface{}) { L.Infof(template, args...) }

// Warnf logs at warn level.
func Warnf(template string, args ...interface{}) { L.Warnf(template, args...) }

// Errorf logs at error level.
func Errorf(template string, args ...interface{}) { L.Errorf(template, args...) }
