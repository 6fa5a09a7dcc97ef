// Package obslog is the engine's structured logger: every dispatch fault and
// every OURO_DEBUG trace line goes through here rather than bare fmt calls,
// following go-ethereum's house style of pairing a captured call-stack frame
// with a colorized level tag (ProbeChain-go-probe's go.mod carries both
// github.com/go-stack/stack and github.com/fatih/color for exactly this).
package obslog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelColor = map[Level]*color.Color{
	LevelDebug: color.New(color.FgCyan),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

var levelName = map[Level]string{
	LevelDebug: "DBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "EROR",
}

// Logger writes leveled, stack-annotated lines to an underlying writer.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	debug  bool
	colors bool
}

// New builds a Logger. debug gates LevelDebug output, matching the
// OURO_DEBUG=true environment flag from §6.
func New(out io.Writer, debug bool) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{out: out, debug: debug, colors: color.NoColor == false}
}

// FromEnv builds a Logger reading OURO_DEBUG from the process environment,
// the single recognized flag §6 documents.
func FromEnv() *Logger {
	return New(os.Stderr, os.Getenv("OURO_DEBUG") == "true")
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.debug {
		return
	}
	l.logf(LevelDebug, 2, format, args...)
}

func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, 2, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, 2, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, 2, format, args...) }

func (l *Logger) logf(lvl Level, skip int, format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	frame := callerFrame(skip)
	tag := levelName[lvl]
	line := fmt.Sprintf("[%s] %s %s", tag, frame, fmt.Sprintf(format, args...))
	if l.colors {
		line = levelColor[lvl].Sprint(line)
	}
	fmt.Fprintln(l.out, line)
}

// callerFrame captures a single human-readable call-stack frame using
// go-stack/stack, the same library go-ethereum's log package uses to locate
// the call site of a log line without paying for a full runtime.Callers scan
// at every call.
func callerFrame(skip int) string {
	c := stack.Caller(skip)
	return fmt.Sprintf("%+v", c)
}
