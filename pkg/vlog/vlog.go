// Package vlog provides a small leveled wrapper around the standard
// library's log.Logger.
//
// Every package that logs in VectorDB accepts a *Logger through its
// constructor rather than reaching for a package-level logger, so a nil
// Logger (defaulting to vlog.Default()) can be threaded through instead of
// calling the log package's global functions directly.
package vlog

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level controls which calls actually produce output.
type Level int

// Levels, ordered from most to least verbose.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel parses a level name (case-insensitive); unrecognized names
// default to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger wraps a *log.Logger with a minimum level below which calls are
// dropped.
type Logger struct {
	out   *log.Logger
	level Level
}

// New creates a Logger writing through out at the given minimum level. A
// nil out defaults to a logger writing to os.Stderr with the standard
// date/time flags.
func New(out *log.Logger, level Level) *Logger {
	if out == nil {
		out = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Logger{out: out, level: level}
}

// Default returns a Logger at LevelInfo writing to os.Stderr.
func Default() *Logger {
	return New(nil, LevelInfo)
}

func (l *Logger) logf(level Level, prefix, format string, args ...any) {
	if level < l.level {
		return
	}
	l.out.Output(3, prefix+fmt.Sprintf(format, args...))
}

// Debugf logs at LevelDebug.
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, "DEBUG ", format, args...) }

// Infof logs at LevelInfo.
func (l *Logger) Infof(format string, args ...any) { l.logf(LevelInfo, "INFO ", format, args...) }

// Warnf logs at LevelWarn.
func (l *Logger) Warnf(format string, args ...any) { l.logf(LevelWarn, "WARN ", format, args...) }

// Errorf logs at LevelError.
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, "ERROR ", format, args...) }
