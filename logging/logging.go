// Package logging provides leveled console output for the feed client.
// Lines have the form: LEVEL TIMESTAMP [component] message key=value ...
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes leveled lines to an io.Writer (stdout by default).
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	connID    string
}

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a case-insensitive level name to a Level.
// Unknown names yield LevelInfo and false.
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[l]; ok {
		return l, true
	}
	return LevelInfo, false
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	l := New()
	l.output = io.Discard
	l.minLevel = LevelError
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	c := *l
	c.component = component
	return &c
}

// WithConnID returns a new logger that tags every line with a connection ID.
func (l *Logger) WithConnID(id string) *Logger {
	c := *l
	c.connID = id
	return &c
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]interface{})
	if len(fields) > 0 {
		for k, v := range fields[0] {
			merged[k] = v
		}
	}
	if l.connID != "" {
		merged["conn"] = l.connID
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Feed lifecycle helpers ---

// Dialing logs a connection attempt.
func (l *Logger) Dialing(url string) {
	l.Debug("dialing", map[string]interface{}{
		"url": url,
	})
}

// ConnectionOpened logs a completed handshake.
func (l *Logger) ConnectionOpened(url string, took time.Duration) {
	l.Info("connection_opened", map[string]interface{}{
		"url":      url,
		"duration": took.String(),
	})
}

// ConnectionClosed logs the end of a connection. err may be nil.
func (l *Logger) ConnectionClosed(lifetime time.Duration, err error) {
	fields := map[string]interface{}{
		"lifetime": lifetime.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Info("connection_closed", fields)
}

// Strike logs a received strike.
func (l *Logger) Strike(countryCode string, lat, lon float64) {
	l.Debug("strike", map[string]interface{}{
		"country": countryCode,
		"lat":     lat,
		"lon":     lon,
	})
}

// Heartbeat logs a received heartbeat.
func (l *Logger) Heartbeat(at time.Time) {
	l.Debug("heartbeat", map[string]interface{}{
		"at": at.UTC().Format(time.RFC3339Nano),
	})
}

// HeartbeatMissed logs a liveness timeout that triggers a reconnect.
func (l *Logger) HeartbeatMissed(silence, timeout time.Duration) {
	l.Warn("heartbeat_missed", map[string]interface{}{
		"silence": silence.String(),
		"timeout": timeout.String(),
	})
}

// Unauthorized logs a rejected handshake.
func (l *Logger) Unauthorized(url string) {
	l.Error("unauthorized", map[string]interface{}{
		"url": url,
	})
}

// TransportError logs a socket-level failure.
func (l *Logger) TransportError(err error) {
	l.Error("transport_error", map[string]interface{}{
		"error": err.Error(),
	})
}
