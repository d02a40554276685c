// Package obslog is the broker's ambient logger: a thin, leveled wrapper
// around the standard library's log.Logger, the same shape the pack's own
// database clients use for their own logging rather than reaching for a
// structured-logging library.
package obslog

import (
	"fmt"
	"log"
	"os"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger prefixes every line with a component tag and filters below Min.
type Logger struct {
	out *log.Logger
	tag string
	Min Level
}

// New returns a Logger that writes to os.Stderr with component tag prefix
// "[component] ".
func New(component string) *Logger {
	return &Logger{
		out: log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags),
		tag: component,
		Min: LevelInfo,
	}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.Min {
		return
	}
	l.out.Printf("%s "+format, append([]interface{}{level}, args...)...)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// With returns a child logger with component tag "parent.child", sharing
// the same minimum level and output.
func (l *Logger) With(child string) *Logger {
	return &Logger{
		out: log.New(l.out.Writer(), fmt.Sprintf("[%s.%s] ", l.tag, child), log.LstdFlags),
		tag: l.tag + "." + child,
		Min: l.Min,
	}
}
