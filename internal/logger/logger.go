// Package logger provides structured logging for kvengine
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with kvengine-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	// Set global log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Pretty printing for development
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	// Create logger
	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "kvengine").
		Logger()

	// Add caller information if requested
	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// componentNames are the sub-loggers Component recognizes; any other string
// is still accepted, just undocumented.
var componentNames = []string{"device", "cache", "freelist", "blob", "btree", "txn", "wal", "env"}

// Component returns a logger tagged with one of the engine's subsystem
// names, so log lines can be filtered per layer.
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", name).
			Logger(),
	}
}

// LogDbOperation logs a database operation (insert/find/erase/commit/
// recover) with structured fields.
func (l *Logger) LogDbOperation(operation string, duration time.Duration, recordCount int, err error) {
	event := l.zlog.Debug().
		Str("component", "database").
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("record_count", recordCount)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "database").
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("database operation completed")
}

// LogRecovery logs a write-ahead-log recovery pass: entries replayed and
// pages undone.
func (l *Logger) LogRecovery(entriesRead, pagesUndone int, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "wal").
		Int("entries_read", entriesRead).
		Int("pages_undone", pagesUndone).
		Dur("duration_ms", duration)
	if err != nil {
		event = l.zlog.Error().
			Str("component", "wal").
			Int("entries_read", entriesRead).
			Int("pages_undone", pagesUndone).
			Err(err)
	}
	event.Msg("recovery completed")
}

// LogCheckpoint logs a checkpoint rotation.
func (l *Logger) LogCheckpoint(activeFile string, err error) {
	event := l.zlog.Info().Str("component", "wal").Str("active_file", activeFile)
	if err != nil {
		event = l.zlog.Error().Str("component", "wal").Str("active_file", activeFile).Err(err)
	}
	event.Msg("checkpoint completed")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		// Initialize with defaults if not set
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
