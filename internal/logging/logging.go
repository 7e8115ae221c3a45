// Package logging provides the process-wide logger used by the proxy supervisor
// and its connection handlers. It mirrors the source implementation's notion of
// a scoped, lazily-initialized logger: until Init is called, every log call is a
// silent no-op rather than a panic or a write to an unconfigured destination.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level mirrors the four levels the source logger supports.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

var (
	mu  sync.Mutex
	log *logrus.Logger
)

// Init opens (creating/appending) logFile if non-empty and installs a logger
// that writes to it in addition to stderr; if logFile is empty, only stderr is
// used. Safe to call once at startup. Returns the closer for the opened file,
// if any, so the caller can flush/close it during shutdown.
func Init(logFile string, level Level) (io.Closer, error) {
	mu.Lock()
	defer mu.Unlock()

	l := logrus.New()
	l.SetLevel(level.logrus())
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var closer io.Closer
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		l.SetOutput(io.MultiWriter(os.Stderr, f))
		closer = f
	} else {
		l.SetOutput(os.Stderr)
	}

	log = l
	return closer, nil
}

// Cleanup detaches the process-wide logger so that subsequent calls become
// no-ops again. It does not close any file handed back by Init; the caller
// owns that closer.
func Cleanup() {
	mu.Lock()
	defer mu.Unlock()
	log = nil
}

func entry() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	return log
}

func Debugf(format string, args ...interface{}) {
	if l := entry(); l != nil {
		l.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if l := entry(); l != nil {
		l.Infof(format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if l := entry(); l != nil {
		l.Warnf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if l := entry(); l != nil {
		l.Errorf(format, args...)
	}
}
