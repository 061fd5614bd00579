// Package logging wraps apex/log with per-module prefixes so every
// subsystem (gossip, cob, tracking, ...) tags its output uniformly.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
)

var logLevel = log.InfoLevel

// Init configures the process-wide handler and level. Level strings follow
// apex/log ("debug", "info", "warn", "error", "fatal").
func Init(level string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	log.SetHandler(text.New(w))

	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	logLevel = parsed
	log.SetLevel(parsed)
}

// Logger is a module-scoped logger.
type Logger struct {
	module string
}

// New returns a logger whose messages are prefixed with the module name.
func New(module string) *Logger {
	return &Logger{module: module}
}

func (l *Logger) prefix(msg string) string {
	return fmt.Sprintf("[%s] %s", l.module, msg)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if logLevel <= log.DebugLevel {
		log.Debug(l.prefix(fmt.Sprintf(format, args...)))
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if logLevel <= log.InfoLevel {
		log.Info(l.prefix(fmt.Sprintf(format, args...)))
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if logLevel <= log.WarnLevel {
		log.Warn(l.prefix(fmt.Sprintf(format, args...)))
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if logLevel <= log.ErrorLevel {
		log.Error(l.prefix(fmt.Sprintf(format, args...)))
	}
}
