// Package logger provides the structured logger shared by the server and services.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields are a representation of formatted log fields.
type Fields map[string]interface{}

// Log wraps a logrus entry so that module fields can be attached once and
// carried by every line.
type Log struct {
	*logrus.Entry
}

// Logger is the subset used by components that only need to derive loggers.
type Logger interface {
	// GetLevel returns the current logging level name.
	GetLevel() string
	With(fields Fields) *Log
}

// New creates a logger writing text lines to out (stdout when nil).
func New(level string, out io.Writer) (*Log, error) {
	log := logrus.New()

	if out == nil {
		out = os.Stdout
	}
	log.SetOutput(out)

	log.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)

	return &Log{Entry: logrus.NewEntry(log)}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Log {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Log{Entry: logrus.NewEntry(log)}
}

// With will add the fields to the formatted log entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

// Module is shorthand for With(Fields{"module": name}).
func (l *Log) Module(name string) *Log {
	return l.With(Fields{"module": name})
}

// GetLevel returns the current logging level name.
func (l *Log) GetLevel() string {
	return l.Logger.GetLevel().String()
}
