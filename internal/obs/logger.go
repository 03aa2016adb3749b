package obs

import (
	"fmt"
	"log"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is a minimal logging interface for observability.
type Logger interface {
	Logf(level Level, format string, args ...interface{})
}

// NopLogger discards all logs.
type NopLogger struct{}

func (NopLogger) Logf(level Level, format string, args ...interface{}) {}

// StdLogger adapts the standard library logger.
type StdLogger struct {
	L    *log.Logger
	Min  Level
	Pref string // optional prefix per log line
}

func (s StdLogger) Logf(level Level, format string, args ...interface{}) {
	if s.L == nil {
		return
	}
	if level < s.Min {
		return
	}
	if s.Pref != "" {
		s.L.Printf("%s[%s] "+format, append([]interface{}{s.Pref, level.String()}, args...)...)
	} else {
		s.L.Printf("[%s] "+format, append([]interface{}{level.String()}, args...)...)
	}
}

// FuncLogger forwards formatted lines to a (isError, text) callback.
// Warn and Error are reported as errors.
type FuncLogger func(isError bool, text string)

func (f FuncLogger) Logf(level Level, format string, args ...interface{}) {
	if f == nil {
		return
	}
	f(level >= Warn, fmt.Sprintf(format, args...))
}

// Prefixed prepends a fixed prefix to every line logged through L.
type Prefixed struct {
	L      Logger
	Prefix func() string
}

func (p Prefixed) Logf(level Level, format string, args ...interface{}) {
	if p.L == nil {
		return
	}
	if _, nop := p.L.(NopLogger); nop {
		return
	}
	if p.Prefix == nil {
		p.L.Logf(level, format, args...)
		return
	}
	p.L.Logf(level, "%s"+format, append([]interface{}{p.Prefix()}, args...)...)
}
