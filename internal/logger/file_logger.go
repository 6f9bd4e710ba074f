package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes the sentinel's activity log to a per-session file and
// mirrors it to stdout. One logger per process; components share it.
type Logger struct {
	label   string
	logFile *os.File
	logger  *log.Logger
	mu      sync.Mutex
	logDir  string
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARN"
	LogLevelError    LogLevel = "ERROR"
	LogLevelCritical LogLevel = "CRITICAL"
	LogLevelTrade    LogLevel = "TRADE"
	LogLevelGuard    LogLevel = "GUARD"
)

// NewLogger creates a file logger labelled with the session name.
func NewLogger(label string) (*Logger, error) {
	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("sentinel_%s_%s.log", label, timestamp)
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		label:   label,
		logFile: file,
		logger:  log.New(io.MultiWriter(file, os.Stdout), "", 0),
		logDir:  logDir,
	}

	l.writeSessionHeader()

	return l, nil
}

// NewNopLogger returns a logger that discards everything. Used in tests.
func NewNopLogger() *Logger {
	return &Logger{
		label:  "nop",
		logger: log.New(io.Discard, "", 0),
	}
}

func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
🛡️  SENTINEL SESSION STARTED
================================================================================
Session: %s
Started: %s
================================================================================
`, l.label, time.Now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.logger.Println(fmt.Sprintf("[%s] [%s] %s", timestamp, level, message))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Critical logs an error that demands operator attention: an unprotected
// position or a failed emergency close.
func (l *Logger) Critical(format string, args ...interface{}) {
	l.Log(LogLevelCritical, format, args...)
}

// Trade logs an order placement or fill
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Guard logs a guardian supervision action
func (l *Logger) Guard(format string, args ...interface{}) {
	l.Log(LogLevelGuard, format, args...)
}

// LogError logs an error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// LogExecution logs the outcome of an entry with its protection.
func (l *Logger) LogExecution(symbol, side, entryOrderID, protectiveOrderID string, qty, entry, stop float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	entryLog := fmt.Sprintf(`
[%s] [TRADE] ==================== ENTRY PROTECTED ====================
✅ Entry Order: %s
🛡️  Protective Order: %s
📦 %s %s %.6f
💰 Entry: $%.2f | Stop: $%.2f
===========================================================`,
		timestamp, entryOrderID, protectiveOrderID, side, symbol, qty, entry, stop)

	l.logger.Println(entryLog)
}

// Close closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		footer := fmt.Sprintf(`
================================================================================
🛑 SENTINEL SESSION ENDED
================================================================================
Ended: %s
================================================================================

`, timestamp)
		l.logger.Print(footer)

		return l.logFile.Close()
	}
	return nil
}
