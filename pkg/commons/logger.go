// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging surface shared by every component of the console.
type Logger interface {
	Level() zapcore.Level

	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	DPanic(args ...interface{})
	DPanicf(template string, args ...interface{})
	Panic(args ...interface{})
	Panicf(template string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})

	// Benchmark logs how long the named function took.
	Benchmark(functionName string, duration time.Duration)
	Tracef(ctx context.Context, format string, args ...interface{})
	Sync() error
}

type applicationLogger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

type loggerOption struct {
	name       string
	path       string
	level      string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
}

// Option customizes NewApplicationLogger.
type Option func(*loggerOption)

func Name(name string) Option {
	return func(o *loggerOption) { o.name = name }
}

// Path sets the directory of the rotated json log file. Empty disables file output.
func Path(path string) Option {
	return func(o *loggerOption) { o.path = path }
}

func Level(level string) Option {
	return func(o *loggerOption) { o.level = level }
}

func MaxSize(megabytes int) Option {
	return func(o *loggerOption) { o.maxSizeMB = megabytes }
}

// NewApplicationLogger builds a sugared zap logger writing human readable
// lines to stdout and, when a path is configured, json lines to a rotated file.
func NewApplicationLogger(opts ...Option) (Logger, error) {
	option := &loggerOption{
		name:       "voice-console",
		level:      "info",
		maxSizeMB:  50,
		maxBackups: 5,
		maxAgeDays: 14,
	}
	for _, opt := range opts {
		opt(option)
	}

	lvl, err := zapcore.ParseLevel(option.level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", option.level, err)
	}
	atomic := zap.NewAtomicLevelAt(lvl)

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), atomic),
	}

	if option.path != "" {
		if err := os.MkdirAll(option.path, 0o755); err != nil {
			return nil, fmt.Errorf("unable to create log directory: %w", err)
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(option.path, option.name+".log"),
			MaxSize:    option.maxSizeMB,
			MaxBackups: option.maxBackups,
			MaxAge:     option.maxAgeDays,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), writer, atomic))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(0)).
		Named(option.name)
	return &applicationLogger{SugaredLogger: logger.Sugar(), level: atomic}, nil
}

func (l *applicationLogger) Level() zapcore.Level {
	return l.level.Level()
}

func (l *applicationLogger) Benchmark(functionName string, duration time.Duration) {
	l.SugaredLogger.Debugw("benchmark", "function", functionName, "duration", duration.String())
}

func (l *applicationLogger) Tracef(ctx context.Context, format string, args ...interface{}) {
	l.SugaredLogger.Debugf(format, args...)
}
