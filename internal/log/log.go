// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides logging utilities.
package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

func init() {
	logger = zap.NewNop()
}

// Setup configures the global logger. With a logfile, entries are written
// production-encoded to the file; otherwise warnings and above go to stderr
// so progress output stays readable. Verbose lowers the level to Debug.
func Setup(verbose bool, logfile string) error {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	if logfile != "" {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.OutputPaths = []string{logfile}
		cfg.ErrorOutputPaths = []string{logfile}
		l, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logfile, err)
		}
		logger = l
		return nil
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	logger = l
	return nil
}

// Logger returns the global logger.
func Logger() *zap.Logger {
	return logger
}

// SetLogger sets the global logger.
func SetLogger(l *zap.Logger) {
	logger = l
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	logger.Debug(msg, fields...)
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	logger.Info(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	logger.Warn(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...zap.Field) {
	logger.Error(msg, fields...)
}

// With returns a logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return logger.With(fields...)
}

// Sync flushes any buffered log entries.
func Sync() error {
	return logger.Sync()
}
