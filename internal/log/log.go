// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package log wraps zap behind the small call shape the rest of this
// daemon is written against: leveled printf-style helpers plus a
// structured Info/Error for key-value pairs, and With() for per-call
// scoping (call-id, component name).
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging contract used throughout the daemon. It is
// intentionally small: printf-style helpers for the common case, and a
// structured variant for events that carry a handful of fields.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Debugf(format string, args ...interface{})
	Info(msg string, kv ...interface{})
	Infof(format string, args ...interface{})
	Warn(msg string, kv ...interface{})
	Warnf(format string, args ...interface{})
	Error(msg string, kv ...interface{})
	Errorf(format string, args ...interface{})
	With(kv ...interface{}) Logger
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// Config controls logger construction.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// FilePath, if non-empty, also writes logs to a rotated file via
	// lumberjack (max 50MB, 5 backups, 14 days) alongside stderr — a
	// long-running daemon shouldn't fill the disk with call-debug output.
	FilePath string
}

// New builds a Logger from Config.
func New(cfg Config) (Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level),
	}
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	core := zapcore.NewTee(cores...)
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &zapLogger{s: zl.Sugar()}, nil
}

func (l *zapLogger) Debug(msg string, kv ...interface{})       { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *zapLogger) Info(msg string, kv ...interface{})        { l.s.Infow(msg, kv...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *zapLogger) Warn(msg string, kv ...interface{})        { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *zapLogger) Error(msg string, kv ...interface{})       { l.s.Errorw(msg, kv...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }
func (l *zapLogger) Sync() error                               { return l.s.Sync() }
func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

// Nop returns a Logger that discards everything, for tests.
func Nop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}
