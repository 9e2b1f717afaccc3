// Package log provides leveled, colorized logging in the style used
// throughout orly.dev: package-level loggers T (trace), D (debug), I (info),
// W (warn), E (error) and F (fatal), each with .F (printf-style), .Ln
// (println-style), .S (structured dump) and .Err (log-and-return-error)
// methods.
package log

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

// Level is a logging verbosity level.
type Level int

const (
	Fatal Level = iota
	Error
	Warn
	Info
	Debug
	Trace
)

var names = map[string]Level{
	"fatal": Fatal,
	"error": Error,
	"warn":  Warn,
	"info":  Info,
	"debug": Debug,
	"trace": Trace,
}

var current atomic.Int32

func init() { current.Store(int32(Info)) }

// SetLogLevel sets the global verbosity threshold by name; unknown names are
// ignored.
func SetLogLevel(level string) {
	if l, ok := names[level]; ok {
		current.Store(int32(l))
	}
}

// Logger is a single leveled logger.
type Logger struct {
	level  Level
	prefix string
	color  *color.Color
}

func newLogger(level Level, prefix string, c *color.Color) *Logger {
	return &Logger{level: level, prefix: prefix, color: c}
}

func (l *Logger) enabled() bool { return Level(current.Load()) >= l.level }

// F logs a printf-style message at this logger's level.
func (l *Logger) F(format string, args ...any) {
	if !l.enabled() {
		return
	}
	msg := l.color.Sprintf("%s "+format, append([]any{l.prefix}, args...)...)
	fmt.Fprintln(os.Stderr, msg)
	if l.level == Fatal {
		os.Exit(1)
	}
}

// Ln logs its arguments space-separated at this logger's level.
func (l *Logger) Ln(args ...any) {
	if !l.enabled() {
		return
	}
	msg := l.color.Sprint(append([]any{l.prefix}, args...)...)
	fmt.Fprintln(os.Stderr, msg)
	if l.level == Fatal {
		os.Exit(1)
	}
}

// S dumps v using spew, for inspecting structured values during debugging.
func (l *Logger) S(v any) {
	if !l.enabled() {
		return
	}
	fmt.Fprintln(os.Stderr, l.color.Sprint(l.prefix), spew.Sdump(v))
}

// Err logs a printf-style message and returns it as an error, for the
// `return log.E.Err("...")` idiom.
func (l *Logger) Err(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	l.F("%v", err)
	return err
}

var (
	T = newLogger(Trace, "TRC", color.New(color.FgCyan))
	D = newLogger(Debug, "DBG", color.New(color.FgBlue))
	I = newLogger(Info, "INF", color.New(color.FgGreen))
	W = newLogger(Warn, "WRN", color.New(color.FgYellow))
	E = newLogger(Error, "ERR", color.New(color.FgRed))
	F = newLogger(Fatal, "FTL", color.New(color.FgHiRed))
)
