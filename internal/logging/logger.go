// Package logging provides categorized file-based logging for gantry.
// Logs are written to .gantry/logs/ with a separate file per category.
// Nothing is written unless debug logging is enabled at Initialize time,
// so a normal pipeline run leaves no log directory behind.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Category represents a log category.
type Category string

const (
	CategoryBuild    Category = "build"    // Build planning and lifecycle
	CategoryJob      Category = "job"      // Per-job stage execution
	CategoryService  Category = "service"  // Background service processes
	CategoryDeploy   Category = "deploy"   // Deploy stage
	CategoryCoverage Category = "coverage" // Coverage parse/upload
	CategoryDriver   Category = "driver"   // Browser driver activity
	CategoryWatch    Category = "watch"    // Watch-mode filesystem events
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger bound to a category file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	enabled   bool
	logLevel  = LevelDebug
)

// Initialize sets up the logging directory. Should be called once at
// startup with the workspace path. When debug is false this is a no-op
// and every logging call becomes silent.
func Initialize(workspace string, debug bool) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	enabled = debug
	if !enabled {
		return nil
	}

	logsDir = filepath.Join(workspace, ".gantry", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	Get(CategoryBuild).Info("=== gantry logging initialized ===")
	Get(CategoryBuild).Info("Logs directory: %s", logsDir)
	return nil
}

// SetLevel sets the minimum level written to category files.
func SetLevel(level int) {
	if level < LevelDebug || level > LevelError {
		return
	}
	logLevel = level
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	loggersMu.RLock()
	l, ok := loggers[category]
	loggersMu.RUnlock()
	if ok {
		return l
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	l = &Logger{category: category}
	if enabled {
		path := filepath.Join(logsDir, string(category)+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[logging] cannot open %s: %v\n", path, err)
		} else {
			l.file = f
			l.logger = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
		}
	}
	loggers[category] = l
	return l
}

// Close flushes and closes all category files.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for cat, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
		delete(loggers, cat)
	}
}

func (l *Logger) write(level int, prefix, format string, args ...interface{}) {
	if l == nil || l.logger == nil || level < logLevel {
		return
	}
	l.logger.Printf(prefix+" "+format, args...)
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "[DEBUG]", format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "[INFO]", format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "[WARN]", format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "[ERROR]", format, args...)
}

// Build is shorthand for Get(CategoryBuild).Info.
func Build(format string, args ...interface{}) {
	Get(CategoryBuild).Info(format, args...)
}

// Job is shorthand for Get(CategoryJob).Info.
func Job(format string, args ...interface{}) {
	Get(CategoryJob).Info(format, args...)
}

// Service is shorthand for Get(CategoryService).Info.
func Service(format string, args ...interface{}) {
	Get(CategoryService).Info(format, args...)
}
