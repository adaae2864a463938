package diag

import (
	"fmt"
	"io"
	"log"
	"sync"
)

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
	// SeverityFatal marks consistency failures. It is a diagnostic level only
	// and never terminates the process.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	case SeverityFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("SEVERITY(%d)", int(s))
	}
}

type Entry struct {
	Severity Severity
	Scope    string
	Message  string
}

type Sink interface {
	Write(Entry)
}

// Logger adds severity and a scope to a *log.Logger. A nil *Logger discards
// everything, so components can hold one unconditionally.
type Logger struct {
	out   *log.Logger
	scope string
	min   Severity
	sinks *sinkSet
}

type sinkSet struct {
	mu    sync.Mutex
	sinks []Sink
}

func New(out *log.Logger, scope string) *Logger {
	if out == nil {
		out = log.New(io.Discard, "", 0)
	}
	return &Logger{out: out, scope: scope, min: SeverityInfo, sinks: &sinkSet{}}
}

// Discard returns a logger that drops output but still feeds sinks.
func Discard() *Logger {
	return New(nil, "")
}

func (l *Logger) With(scope string) *Logger {
	if l == nil {
		return nil
	}
	cp := *l
	if cp.scope == "" {
		cp.scope = scope
	} else {
		cp.scope = cp.scope + "." + scope
	}
	return &cp
}

func (l *Logger) SetMinSeverity(s Severity) {
	if l != nil {
		l.min = s
	}
}

func (l *Logger) AddSink(s Sink) {
	if l == nil || s == nil {
		return
	}
	l.sinks.mu.Lock()
	l.sinks.sinks = append(l.sinks.sinks, s)
	l.sinks.mu.Unlock()
}

func (l *Logger) Debugf(format string, args ...any) { l.emit(SeverityDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.emit(SeverityInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.emit(SeverityWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.emit(SeverityError, format, args...) }
func (l *Logger) Fatalf(format string, args ...any) { l.emit(SeverityFatal, format, args...) }

func (l *Logger) emit(sev Severity, format string, args ...any) {
	if l == nil {
		return
	}
	e := Entry{Severity: sev, Scope: l.scope, Message: fmt.Sprintf(format, args...)}
	l.sinks.mu.Lock()
	sinks := l.sinks.sinks
	l.sinks.mu.Unlock()
	for _, s := range sinks {
		s.Write(e)
	}
	if sev < l.min {
		return
	}
	if e.Scope != "" {
		l.out.Printf("%s %s: %s", sev, e.Scope, e.Message)
		return
	}
	l.out.Printf("%s %s", sev, e.Message)
}

// Memory records every entry regardless of the logger's minimum severity.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Write(e Entry) {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
}

func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

func (m *Memory) Count(sev Severity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Severity == sev {
			n++
		}
	}
	return n
}

func (m *Memory) Reset() {
	m.mu.Lock()
	m.entries = m.entries[:0]
	m.mu.Unlock()
}
