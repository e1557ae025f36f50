package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	WithFields(fields ...Field) Logger
	WithError(err error) Logger
}

// Field represents a logging field
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any creates a field with an arbitrary value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// ZeroLogger implements Logger using zerolog
type ZeroLogger struct {
	logger zerolog.Logger
	fields []Field
}

var (
	globalLogger *ZeroLogger
	once         sync.Once
)

// LogConfig represents logger configuration
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	Output     string `json:"output"`
	TimeFormat string `json:"time_format"`
	Caller     bool   `json:"caller"`
}

// Initialize initializes the global logger
func Initialize(config LogConfig) {
	once.Do(func() {
		var output io.Writer

		switch config.Output {
		case "stderr":
			output = os.Stderr
		case "stdout", "":
			output = os.Stdout
		default:
			file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				output = os.Stdout
			} else {
				output = file
			}
		}

		if config.Format == "console" {
			output = zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: config.TimeFormat,
			}
		}

		zerolog.SetGlobalLevel(parseLevel(config.Level))

		logger := zerolog.New(output).With().Timestamp()
		if config.Caller {
			logger = logger.Caller()
		}

		globalLogger = &ZeroLogger{
			logger: logger.Logger(),
		}

		log.Logger = globalLogger.logger
	})
}

// Get returns the global logger
func Get() Logger {
	if globalLogger == nil {
		Initialize(LogConfig{
			Level:      levelFromEnv(),
			Format:     "json",
			Output:     "stdout",
			TimeFormat: time.RFC3339,
		})
	}
	return globalLogger
}

// New creates a named component logger
func New(name string) Logger {
	return Get().WithFields(String("component", name))
}

func levelFromEnv() string {
	if v := os.Getenv("DRIFTCERT_LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}

// WithFields adds fields to the logger
func (l *ZeroLogger) WithFields(fields ...Field) Logger {
	return &ZeroLogger{
		logger: l.logger,
		fields: append(append([]Field{}, l.fields...), fields...),
	}
}

// WithError adds an error field to the logger
func (l *ZeroLogger) WithError(err error) Logger {
	return l.WithFields(Err(err))
}

// Debug logs a debug message
func (l *ZeroLogger) Debug(msg string, fields ...Field) {
	l.emit(l.logger.Debug(), msg, fields)
}

// Info logs an info message
func (l *ZeroLogger) Info(msg string, fields ...Field) {
	l.emit(l.logger.Info(), msg, fields)
}

// Warn logs a warning message
func (l *ZeroLogger) Warn(msg string, fields ...Field) {
	l.emit(l.logger.Warn(), msg, fields)
}

// Error logs an error message
func (l *ZeroLogger) Error(msg string, fields ...Field) {
	l.emit(l.logger.Error(), msg, fields)
}

func (l *ZeroLogger) emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range l.fields {
		event = appendField(event, f)
	}
	for _, f := range fields {
		event = appendField(event, f)
	}
	event.Msg(msg)
}

func appendField(event *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return event.Str(f.Key, v)
	case int:
		return event.Int(f.Key, v)
	case int64:
		return event.Int64(f.Key, v)
	case float64:
		return event.Float64(f.Key, v)
	case bool:
		return event.Bool(f.Key, v)
	case time.Duration:
		return event.Dur(f.Key, v)
	case error:
		return event.AnErr(f.Key, v)
	default:
		return event.Interface(f.Key, v)
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
