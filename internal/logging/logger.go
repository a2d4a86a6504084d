package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kingrea/looptrack/internal/config"
)

// Logger appends timestamped lines to .looptrack/logs/looptrack.log so the
// operator can inspect failures after the terminal UI has exited.
type Logger struct {
	file  *os.File
	entry *logrus.Entry
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.Dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "looptrack.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	l := NewWriter(f)
	l.file = f
	return l, nil
}

// NewWriter logs to w without owning it.
func NewWriter(w io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(logrus.DebugLevel)
	base.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
	return &Logger{entry: logrus.NewEntry(base)}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// WithField returns a logger that tags every line with key=value.
func (l *Logger) WithField(key string, value any) *Logger {
	if l == nil || l.entry == nil {
		return l
	}
	return &Logger{entry: l.entry.WithField(key, value)}
}

// Printf writes a single line to the log file.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.entry == nil {
		return
	}
	l.entry.Info(strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}

// Errorf writes a single error-level line.
func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || l.entry == nil {
		return
	}
	l.entry.Error(strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}
