// Package logger provides the engine's leveled console logger with an
// optional size-rotated file sink and a subscriber stream for log shipping.
package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a log severity
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

const (
	colorReset  = "\033[0m"
	colorCyan   = "\033[36m"
	nameWidth   = 20
	levelWidth  = 9
	timeLayout  = "2006-01-02 15:04:05.000"
	subscriberQ = 100
)

// levelStyles maps each level to its console color and marker
var levelStyles = map[Level]struct {
	color  string
	marker string
}{
	LevelDebug: {"\033[90m", "◦"},
	LevelInfo:  {"\033[32m", "ℹ"},
	LevelWarn:  {"\033[93m", "⚠"},
	LevelError: {"\033[91m", "✗"},
	LevelFatal: {"\033[91m", "✗"},
}

// LogEntry is one emitted log record
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
	Fields  map[string]string
}

// Logger writes leveled log lines to the console, an optional rotated file,
// and any subscribed channels
type Logger struct {
	name    string
	version string

	mu          sync.RWMutex
	subscribers []chan LogEntry
	console     bool
	colored     bool
	file        *lumberjack.Logger
}

// New creates a logger for the named component
func New(name, version string) *Logger {
	return &Logger{
		name:    name,
		version: version,
		console: true,
		colored: stdoutIsTerminal(),
	}
}

func stdoutIsTerminal() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	info, err := os.Stdout.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// EnableFileOutput attaches a size-rotated file sink
func (l *Logger) EnableFileOutput(path string, maxSizeMB, maxBackups int) {
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	l.mu.Lock()
	l.file = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	l.mu.Unlock()
}

// Rotate forces rotation of the attached file sink, if any
func (l *Logger) Rotate() error {
	l.mu.RLock()
	file := l.file
	l.mu.RUnlock()
	if file == nil {
		return nil
	}
	return file.Rotate()
}

// Subscribe returns a channel receiving every log entry. Entries are dropped
// for slow subscribers rather than blocking the logging path.
func (l *Logger) Subscribe() <-chan LogEntry {
	ch := make(chan LogEntry, subscriberQ)
	l.mu.Lock()
	l.subscribers = append(l.subscribers, ch)
	l.mu.Unlock()
	return ch
}

// DisableConsoleOutput stops writing to stdout
func (l *Logger) DisableConsoleOutput() {
	l.mu.Lock()
	l.console = false
	l.mu.Unlock()
}

// EnableConsoleOutput resumes writing to stdout
func (l *Logger) EnableConsoleOutput() {
	l.mu.Lock()
	l.console = true
	l.mu.Unlock()
}

func (l *Logger) emit(level Level, message string, fields map[string]string) {
	entry := LogEntry{Time: time.Now(), Level: string(level), Message: message, Fields: fields}

	l.mu.RLock()
	console := l.console
	file := l.file
	subs := l.subscribers
	l.mu.RUnlock()

	timestamp := entry.Time.Format(timeLayout)
	name := padName(l.name)
	text := message
	if len(fields) > 0 {
		text += " " + renderFields(fields)
	}

	if console {
		style := levelStyles[level]
		tag := fmt.Sprintf("%-*s", levelWidth, style.marker+" "+string(level))
		if l.colored {
			fmt.Printf("%s[%s] [%s] [%s%s%s] %s\n",
				colorCyan, timestamp, name, style.color, tag, colorReset, text)
		} else {
			fmt.Printf("[%s] [%s] [%s] %s\n", timestamp, name, tag, text)
		}
	}
	if file != nil {
		fmt.Fprintf(file, "[%s] [%s] [%s] %s\n", timestamp, name, level, text)
	}
	for _, ch := range subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

func padName(name string) string {
	if len(name) > nameWidth {
		return name[:nameWidth-1] + "…"
	}
	return fmt.Sprintf("%-*s", nameWidth, name)
}

func renderFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + fields[k]
	}
	return strings.Join(parts, " ")
}

func sprintf(message string, args []interface{}) string {
	if len(args) == 0 {
		return message
	}
	return fmt.Sprintf(message, args...)
}

// Debug logs at debug level, formatting when arguments are given
func (l *Logger) Debug(message string, args ...interface{}) {
	l.emit(LevelDebug, sprintf(message, args), nil)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.emit(LevelDebug, fmt.Sprintf(format, args...), nil)
}

// Info logs at info level, formatting when arguments are given
func (l *Logger) Info(message string, args ...interface{}) {
	l.emit(LevelInfo, sprintf(message, args), nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.emit(LevelInfo, fmt.Sprintf(format, args...), nil)
}

// Warn logs at warn level, formatting when arguments are given
func (l *Logger) Warn(message string, args ...interface{}) {
	l.emit(LevelWarn, sprintf(message, args), nil)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.emit(LevelWarn, fmt.Sprintf(format, args...), nil)
}

// Error logs at error level, formatting when arguments are given
func (l *Logger) Error(message string, args ...interface{}) {
	l.emit(LevelError, sprintf(message, args), nil)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.emit(LevelError, fmt.Sprintf(format, args...), nil)
}

// Fatal logs the message and exits the process
func (l *Logger) Fatal(message string) {
	l.emit(LevelFatal, message, nil)
	os.Exit(1)
}

// Fatalf logs the formatted message and exits the process
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.emit(LevelFatal, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// WithFields returns a context logging every message with the given fields
func (l *Logger) WithFields(fields map[string]string) *LogContext {
	return &LogContext{logger: l, fields: fields}
}

// LogContext carries structured fields into log calls
type LogContext struct {
	logger *Logger
	fields map[string]string
}

func (c *LogContext) Info(message string)  { c.logger.emit(LevelInfo, message, c.fields) }
func (c *LogContext) Warn(message string)  { c.logger.emit(LevelWarn, message, c.fields) }
func (c *LogContext) Error(message string) { c.logger.emit(LevelError, message, c.fields) }
