// Package telemetry provides minimal structured telemetry for the
// engine. All telemetry is local-first with no external dependencies:
// every field passes through errors.Redact before it reaches a line.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"reach/internal/errors"
)

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// LogEntry represents a structured log entry.
type LogEntry struct {
	Timestamp time.Time         `json:"ts"`
	Level     LogLevel          `json:"level"`
	Message   string            `json:"msg"`
	Component string            `json:"component,omitempty"`
	RunID     string            `json:"run_id,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// NewRunID mints a fresh correlation identifier for a process invocation.
// It is purely ambient: a run ID threads through log lines and incident
// records for a human or a log aggregator to correlate by, and never
// folds into a digest, a reason code, or a persisted decision.
func NewRunID() string {
	return uuid.NewString()
}

// Logger provides structured logging with redaction.
type Logger struct {
	mu        sync.Mutex
	writer    io.Writer
	level     LogLevel
	component string
	runID     string
	fields    map[string]string
}

// NewLogger creates a new logger.
func NewLogger(w io.Writer, level LogLevel) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		writer: w,
		level:  level,
		fields: make(map[string]string),
	}
}

// WithComponent returns a logger scoped to one of the engine's named
// components (e.g. "kernel", "loader", "store").
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		writer:    l.writer,
		level:     l.level,
		component: component,
		runID:     l.runID,
		fields:    l.fields,
	}
}

// WithRunID returns a logger that stamps every entry with the given
// correlation ID, typically one minted by NewRunID at process start.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{
		writer:    l.writer,
		level:     l.level,
		component: l.component,
		runID:     runID,
		fields:    l.fields,
	}
}

// WithField returns a logger with an additional persistent field.
func (l *Logger) WithField(key, value string) *Logger {
	newFields := make(map[string]string, len(l.fields)+1)
	for k, v := range l.fields {
		newFields[k] = v
	}
	newFields[key] = value
	return &Logger{
		writer:    l.writer,
		level:     l.level,
		component: l.component,
		runID:     l.runID,
		fields:    newFields,
	}
}

func (l *Logger) log(level LogLevel, msg string, err error, extra map[string]string) {
	if !l.shouldLog(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   errors.Redact(msg),
		Component: l.component,
		RunID:     l.runID,
		Fields:    make(map[string]string, len(l.fields)+len(extra)),
	}

	for k, v := range l.fields {
		entry.Fields[k] = redactField(k, v)
	}
	for k, v := range extra {
		entry.Fields[k] = redactField(k, v)
	}

	if err != nil {
		entry.Error = errors.FormatSafe(err)
		entry.ErrorCode = string(errors.GetCode(err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, _ := json.Marshal(entry)
	fmt.Fprintln(l.writer, string(data))
}

// redactField redacts a field value. When the key itself names a secret
// (e.g. "token"), the whole value is masked: the bare value carries no
// marker errors.Redact could match.
func redactField(key, value string) string {
	pair := key + "=" + value
	if errors.Redact(pair) != pair {
		return "[REDACTED]"
	}
	return errors.Redact(value)
}

var levelRank = map[LogLevel]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
	LevelFatal: 4,
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return levelRank[level] >= levelRank[l.level]
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) { l.log(LevelDebug, msg, nil, nil) }

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, fmt.Sprintf(format, args...), nil, nil)
}

// Info logs an info message.
func (l *Logger) Info(msg string) { l.log(LevelInfo, msg, nil, nil) }

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, fmt.Sprintf(format, args...), nil, nil)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) { l.log(LevelWarn, msg, nil, nil) }

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, fmt.Sprintf(format, args...), nil, nil)
}

// Error logs an error message with an associated error.
func (l *Logger) Error(msg string, err error) { l.log(LevelError, msg, err, nil) }

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, fmt.Sprintf(format, args...), nil, nil)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(msg string, err error) {
	l.log(LevelFatal, msg, err, nil)
	os.Exit(1)
}

// Fatalf logs a formatted fatal message and exits.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(LevelFatal, fmt.Sprintf(format, args...), nil, nil)
	os.Exit(1)
}

// WithError begins a fluent log entry carrying an error.
func (l *Logger) WithError(err error) *LogBuilder {
	return &LogBuilder{logger: l, err: err}
}

// LogBuilder provides a fluent interface for logging with ad hoc fields.
type LogBuilder struct {
	logger *Logger
	err    error
	fields map[string]string
}

// WithField adds a field to the log entry under construction.
func (b *LogBuilder) WithField(key, value string) *LogBuilder {
	if b.fields == nil {
		b.fields = make(map[string]string)
	}
	b.fields[key] = value
	return b
}

func (b *LogBuilder) Debug(msg string) { b.logger.log(LevelDebug, msg, b.err, b.fields) }
func (b *LogBuilder) Info(msg string)  { b.logger.log(LevelInfo, msg, b.err, b.fields) }
func (b *LogBuilder) Warn(msg string)  { b.logger.log(LevelWarn, msg, b.err, b.fields) }
func (b *LogBuilder) Error(msg string) { b.logger.log(LevelError, msg, b.err, b.fields) }

var defaultLogger = NewLogger(os.Stderr, LevelInfo)

// SetDefaultLevel reads REACH_LOG_LEVEL and applies it to the default logger.
func SetDefaultLevel() {
	switch LogLevel(os.Getenv("REACH_LOG_LEVEL")) {
	case LevelDebug:
		defaultLogger.level = LevelDebug
	case LevelInfo:
		defaultLogger.level = LevelInfo
	case LevelWarn:
		defaultLogger.level = LevelWarn
	case LevelError:
		defaultLogger.level = LevelError
	case LevelFatal:
		defaultLogger.level = LevelFatal
	}
}

func init() {
	SetDefaultLevel()
}

// Default returns the process-wide default logger.
func Default() *Logger { return defaultLogger }

// L is a shorthand for Default().
func L() *Logger { return defaultLogger }

// LogFilePath returns the default log file path.
func LogFilePath() string {
	if dir := os.Getenv("REACH_LOG_DIR"); dir != "" {
		return filepath.Join(dir, "reach.log")
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".reach", "logs", "reach.log")
}
