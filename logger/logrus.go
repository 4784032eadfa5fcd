package logger

import (
	"github.com/sirupsen/logrus"
)

// Logrus adapts a logrus logger or entry to hfsbtree.Logger. Key-value
// pairs become fields; a trailing key without a value is dropped.
type Logrus struct {
	logger logrus.FieldLogger
}

// NewLogrus wraps logger, which may be a *logrus.Logger or a *logrus.Entry.
func NewLogrus(logger logrus.FieldLogger) *Logrus {
	return &Logrus{logger: logger}
}

// With returns a logger that adds the key-value pairs to every event.
func (l *Logrus) With(args ...any) *Logrus {
	return &Logrus{logger: l.logger.WithFields(fields(args))}
}

func (l *Logrus) Error(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Error(msg)
}

func (l *Logrus) Warn(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Warn(msg)
}

func (l *Logrus) Info(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Info(msg)
}

func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			f[key] = args[i+1]
		}
	}
	return f
}
