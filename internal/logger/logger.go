package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process-wide logger. It is a no-op until InitLogger runs.
var Log = zap.NewNop()

// FileConfig enables rotated file output in addition to stderr.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// InitLogger builds Log from a level ("debug", "info", ...) and a format ("json" or "console").
func InitLogger(level, format string, file ...FileConfig) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(format) {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	for _, f := range file {
		if f.Path == "" {
			continue
		}
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   f.Path,
			MaxSize:    f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAge:     f.MaxAgeDays,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), lvl)
	Log = zap.New(core, zap.AddCaller())
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Log.Sync()
}
