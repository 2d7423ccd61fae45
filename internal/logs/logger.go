// Package logs configures the process-wide logrus logger.
package logs

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the application logger. It is usable before Init with logrus defaults.
var Logger = logrus.New()

type Options struct {
	Level  string // trace|debug|info|warning|error|fatal
	Format string // text|json
	Output io.Writer
}

// Init builds a logger from opts and installs it as Logger.
func Init(opts Options) *logrus.Logger {
	l := New(opts)
	Logger = l
	return l
}

func New(opts Options) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if opts.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stdout)
	}
	return l
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
