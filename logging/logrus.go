// Package logging adapts structured loggers to stoat.Logger.
package logging

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/AshkanYarmoradi/go-stoat"
)

// Logrus implements stoat.Logger on a logrus entry.
type Logrus struct {
	entry *log.Entry
}

var _ stoat.Logger = (*Logrus)(nil)

// NewLogrus wraps l. A nil logger uses the logrus standard logger.
func NewLogrus(l *log.Logger) *Logrus {
	if l == nil {
		l = log.StandardLogger()
	}
	return &Logrus{entry: log.NewEntry(l)}
}

// With returns a logger that adds the key/value pairs to every entry.
func (l *Logrus) With(args ...interface{}) *Logrus {
	return &Logrus{entry: l.entry.WithFields(fields(args))}
}

// Debug implements stoat.Logger.
func (l *Logrus) Debug(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Debug(msg)
}

// Info implements stoat.Logger.
func (l *Logrus) Info(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Info(msg)
}

// Warn implements stoat.Logger.
func (l *Logrus) Warn(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Warn(msg)
}

// Error implements stoat.Logger.
func (l *Logrus) Error(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Error(msg)
}

// fields turns alternating key/value args into logrus fields.
// A trailing key without a value is kept under "!BADKEY".
func fields(args []interface{}) log.Fields {
	f := make(log.Fields, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			f["!BADKEY"] = key
			break
		}
		f[key] = args[i+1]
	}
	return f
}

// Configure sets level and formatter from their config names.
// format is "text" or "json"; level is any logrus level name.
func Configure(l *log.Logger, level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	l.SetLevel(lvl)

	switch format {
	case "", "text":
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("logging: unknown format %q", format)
	}
	return nil
}
