// Package logger provides structured logging for mirrorkv
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with mirrorkv-specific functionality
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

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "mirrorkv").
		Logger()

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

// StoreLogger returns a logger scoped to one store instance
func (l *Logger) StoreLogger(storeID, dir string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "store").
			Str("store_id", storeID).
			Str("dir", dir).
			Logger(),
	}
}

// FlushLogger returns a logger for flush operations
func (l *Logger) FlushLogger(storeID string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "flush").
			Str("store_id", storeID).
			Logger(),
	}
}

// LogRecovery logs the outcome of a startup recovery pass
func (l *Logger) LogRecovery(dir string, entries int, duration time.Duration) {
	l.zlog.Info().
		Str("event", "recovery_complete").
		Str("dir", dir).
		Int("entries", entries).
		Dur("duration_ms", duration).
		Msg("Store state rebuilt from disk")
}

// LogFlush logs the outcome of a flush with structured fields
func (l *Logger) LogFlush(drained, remaining int, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("event", "flush_complete").
		Int("drained", drained).
		Int("remaining", remaining).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("event", "flush_complete").
			Int("drained", drained).
			Int("remaining", remaining).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("Flush completed")
}

// LogReadOnly logs the one-way transition to read-only mode
func (l *Logger) LogReadOnly(pending int) {
	l.zlog.Info().
		Str("event", "read_only").
		Int("pending", pending).
		Msg("Store latched read-only")
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
			Level: "info",
		})
	}
	return globalLogger
}
