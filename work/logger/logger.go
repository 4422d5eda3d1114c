package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// LogLevel orders message severities from most to least verbose.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger is a leveled logger instance layered over the stdlib log package.
type Logger struct {
	level LogLevel
	mu    sync.RWMutex
}

// New creates a new Logger instance with the specified level.
func New(level string) *Logger {
	return &Logger{level: ParseLogLevel(level)}
}

func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = &Logger{level: INFO}
	})
	return defaultLogger
}

// ParseLogLevel converts a string to a LogLevel, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the global default log level.
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// GetLogLevel returns the current global log level as a string.
func GetLogLevel() string {
	return getDefaultLogger().GetLevel()
}

// SetLevel sets this logger instance's level.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
}

// GetLevel returns this logger instance's level as a string.
func (l *Logger) GetLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch l.level {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l *Logger) shouldLog(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func logMessage(level string, format string, v ...interface{}) {
	log.Printf("[%s] %s", level, fmt.Sprintf(format, v...))
}

// Debug logs debug level messages.
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.shouldLog(DEBUG) {
		logMessage("DEBUG", format, v...)
	}
}

// Info logs info level messages.
func (l *Logger) Info(format string, v ...interface{}) {
	if l.shouldLog(INFO) {
		logMessage("INFO", format, v...)
	}
}

// Warn logs warning level messages.
func (l *Logger) Warn(format string, v ...interface{}) {
	if l.shouldLog(WARN) {
		logMessage("WARN", format, v...)
	}
}

// Error logs error level messages.
func (l *Logger) Error(format string, v ...interface{}) {
	if l.shouldLog(ERROR) {
		logMessage("ERROR", format, v...)
	}
}

// Package-level helpers forwarding to the default logger.

func Debug(format string, v ...interface{}) { getDefaultLogger().Debug(format, v...) }
func Info(format string, v ...interface{})  { getDefaultLogger().Info(format, v...) }
func Warn(format string, v ...interface{})  { getDefaultLogger().Warn(format, v...) }
func Error(format string, v ...interface{}) { getDefaultLogger().Error(format, v...) }
