// Package corelog binds a per-session logger to a Core, rather than a
// package-level global, so concurrently-loaded sessions don't share
// log state.
package corelog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the ambient diagnostic sink the Core session logs soft
// failures to: a dropped overlapping load block, note parsing that
// stopped early, an unavailable dynamic linker view, a failed sysroot
// substitution. The linker and probe packages take no Logger and do
// not log. Nothing the core logs is fatal; callers are expected to keep
// going.
type Logger struct {
	l *logrus.Logger
}

// New creates a Logger writing to w at the given verbosity. Pass
// os.Stderr and false for a quiet default session.
func New(w io.Writer, verbose bool) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    !isTerminal(w),
	})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.WarnLevel)
	}
	return &Logger{l: l}
}

// Discard returns a Logger that drops everything, for tests that don't
// want diagnostic noise.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{l: l}
}

func (lg *Logger) Debugf(format string, args ...any) { lg.l.Debugf(format, args...) }
func (lg *Logger) Warnf(format string, args ...any)  { lg.l.Warnf(format, args...) }

// WithField returns a structured entry, for call sites that want to
// attach e.g. a vaddr or link-map name to every line of a longer walk.
func (lg *Logger) WithField(key string, value any) *logrus.Entry {
	return lg.l.WithField(key, value)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
