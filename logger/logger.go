package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Dir     string
	Level   string
	Console bool
}

// InitLogger initializes and returns a Zap logger with Lumberjack for log rotation.
// The log file is <dir>/<name>.log. An empty Dir means "logs".
func InitLogger(name string, opts Options) (*zap.Logger, error) {
	level := zap.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}
	dir := opts.Dir
	if dir == "" {
		dir = "logs"
	}

	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, name+".log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	})

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), w, level)
	if opts.Console {
		console := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), level)
		core = zapcore.NewTee(core, console)
	}

	return zap.New(core, zap.AddCaller()).Named(name), nil
}
