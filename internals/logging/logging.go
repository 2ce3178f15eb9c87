// Package logging is a really simple leveled logger for the sandbox
// binaries.  The level is taken from the SANDBOX_LOG environment variable
// (error, warn, info, debug); the default is warn.  Output goes to stderr
// as "LEVEL [component] message" with the level tag colored when stderr is
// a terminal.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fatih/color"
)

type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var maxLevel atomic.Int32

var tags = map[Level]string{
	LevelError: color.New(color.FgRed).Sprint("ERROR"),
	LevelWarn:  color.New(color.FgYellow).Sprint("WARN"),
	LevelInfo:  color.New(color.FgGreen).Sprint("INFO"),
	LevelDebug: color.New(color.FgCyan).Sprint("DEBUG"),
}

func init() {
	maxLevel.Store(int32(LevelWarn))
}

// ParseLevel maps a SANDBOX_LOG value onto a Level.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError, true
	case "warn", "warning":
		return LevelWarn, true
	case "info":
		return LevelInfo, true
	case "debug", "trace":
		return LevelDebug, true
	}
	return LevelWarn, false
}

// Setup installs the level from the environment.  Unset or unrecognized
// values keep the default.
func Setup() {
	if lvl, ok := ParseLevel(os.Getenv("SANDBOX_LOG")); ok {
		maxLevel.Store(int32(lvl))
	}
}

// SetLevel overrides the current level.
func SetLevel(lvl Level) {
	maxLevel.Store(int32(lvl))
}

// Enabled reports whether messages at lvl are currently emitted.
func Enabled(lvl Level) bool {
	return lvl <= Level(maxLevel.Load())
}

// Logger emits messages tagged with a component name.
type Logger struct {
	component string
}

// New returns a Logger for the named component.
func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) log(lvl Level, format string, args ...interface{}) {
	if !Enabled(lvl) {
		return
	}
	fmt.Fprintf(os.Stderr, "%-5s [%s] %s\n", tags[lvl], l.component,
		fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}
