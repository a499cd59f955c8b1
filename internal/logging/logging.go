// Package logging is a small logfmt logger. Every component in relay
// takes a Logger; a nil Logger is safe and logs nothing.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
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
		return "debug"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

type Field struct {
	Key   string
	Value any
}

func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Enabled(level Level) bool
}

type logger struct {
	mu    *sync.Mutex
	out   io.Writer
	level Level
	bound []Field
	now   func() time.Time
}

func New(out io.Writer, level Level) Logger {
	if out == nil {
		out = os.Stderr
	}
	return &logger{mu: &sync.Mutex{}, out: out, level: level, now: time.Now}
}

func Nop() Logger {
	return &logger{mu: &sync.Mutex{}, out: io.Discard, level: Error + 1, now: time.Now}
}

func (l *logger) Enabled(level Level) bool {
	return l != nil && level >= l.level
}

func (l *logger) With(fields ...Field) Logger {
	if l == nil {
		return Nop()
	}
	bound := make([]Field, 0, len(l.bound)+len(fields))
	bound = append(bound, l.bound...)
	bound = append(bound, fields...)
	return &logger{mu: l.mu, out: l.out, level: l.level, bound: bound, now: l.now}
}

func (l *logger) Debug(msg string, fields ...Field) { l.write(Debug, msg, fields) }
func (l *logger) Info(msg string, fields ...Field)  { l.write(Info, msg, fields) }
func (l *logger) Warn(msg string, fields ...Field)  { l.write(Warn, msg, fields) }
func (l *logger) Error(msg string, fields ...Field) { l.write(Error, msg, fields) }

func (l *logger) write(level Level, msg string, fields []Field) {
	if l == nil || level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString("ts=")
	b.WriteString(l.now().UTC().Format(time.RFC3339Nano))
	b.WriteString(" level=")
	b.WriteString(level.String())
	b.WriteString(" msg=")
	b.WriteString(encode(msg))
	for _, f := range l.bound {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(encode(f.Value))
	}
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(encode(f.Value))
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, b.String())
}

func encode(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return quote(v)
	case error:
		return quote(v.Error())
	case time.Duration:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case fmt.Stringer:
		return quote(v.String())
	default:
		return quote(fmt.Sprintf("%v", v))
	}
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\n\r\"=") {
		return strconv.Quote(s)
	}
	return s
}
