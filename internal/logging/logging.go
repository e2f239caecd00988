// Package logging configures the process logger and hands out per-rank
// entries.
package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a text logger at the named level. Unknown levels fall back to
// info.
func New(level string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	if out != nil {
		logger.SetOutput(out)
	}
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

// Discard is a logger that drops everything, for tests and benchmarks.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ForRank tags every entry with the rank.
func ForRank(logger *logrus.Logger, rank int) *logrus.Entry {
	return logger.WithField("rank", rank)
}

// Component narrows a rank entry to one engine component.
func Component(entry *logrus.Entry, name string) *logrus.Entry {
	return entry.WithField("component", name)
}
