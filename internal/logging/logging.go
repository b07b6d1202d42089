// Package logging provides the process-wide structured line logger.
//
// The format matches the on-disk contract of LOG_DIR/app.log:
// "YYYY-MM-DD HH:MM:SS,mmm [LEVEL] msg". Callers build messages the same way
// the teacher's internal/tuner package does — one log.Printf-shaped call per
// event, "component: key=value key=value" bodies — rather than structured
// field encoders, since the rest of the corpus this module is grounded on
// never reaches for a structured logging library either.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Level is a coarse severity used only for the bracketed tag in each line.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelDebug Level = "DEBUG"
)

const timeLayout = "2006-01-02 15:04:05,000"

var (
	mu      sync.Mutex
	std     = log.New(os.Stderr, "", 0)
	logFile *os.File
)

// Init points the logger at LOG_DIR/app.log, creating the directory if
// needed. Subsequent Infof/Warnf/Errorf calls write there as well as to
// stderr, matching the teacher's practice of always echoing to the console
// (see cmd/plex-tuner/main.go's plain log.Printf calls) while also
// persisting the structured file the spec's on-disk layout requires.
func Init(logDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if logDir == "" {
		return nil
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("logging: create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "app.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open app.log: %w", err)
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	std = log.New(io.MultiWriter(os.Stderr, f), "", 0)
	return nil
}

// Close flushes and releases the underlying log file, if one is open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	std = log.New(os.Stderr, "", 0)
	return err
}

func line(level Level, format string, args ...interface{}) string {
	return fmt.Sprintf("%s [%s] %s", nowFunc().Format(timeLayout), level, fmt.Sprintf(format, args...))
}

// nowFunc is overridable by tests that need deterministic timestamps.
var nowFunc = timeNow

func Infof(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	std.Print(line(LevelInfo, format, args...))
}

func Warnf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	std.Print(line(LevelWarn, format, args...))
}

func Errorf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	std.Print(line(LevelError, format, args...))
}

func Debugf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	std.Print(line(LevelDebug, format, args...))
}
