// Package telemetry provides the event reporting interface injected into
// core components, along with logging, metrics and in-memory implementations.
package telemetry

import (
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/neilberkman/chatsync/internal/core/apperr"
)

// Reporter receives events and failures from core components.
// Implementations must be safe for concurrent use.
type Reporter interface {
	Event(name string, keyvals ...interface{})
	Failure(op string, err error, keyvals ...interface{})
}

// Nop discards everything
type Nop struct{}

func (Nop) Event(string, ...interface{})          {}
func (Nop) Failure(string, error, ...interface{}) {}

// LogReporter writes events and failures to a charm logger
type LogReporter struct {
	logger *log.Logger
}

// NewLogReporter wraps logger. A nil logger uses log.Default().
func NewLogReporter(logger *log.Logger) *LogReporter {
	if logger == nil {
		logger = log.Default()
	}
	return &LogReporter{logger: logger}
}

// NewLogger builds a charm logger at the given level ("debug", "info", ...)
func NewLogger(w io.Writer, level string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "chatsync",
	})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func (r *LogReporter) Event(name string, keyvals ...interface{}) {
	r.logger.Debug(name, keyvals...)
}

func (r *LogReporter) Failure(op string, err error, keyvals ...interface{}) {
	kv := append([]interface{}{"op", op, "kind", apperr.KindOf(err).String(), "err", err}, keyvals...)
	// Best-effort failures are expected noise, not user-facing errors
	if apperr.IsBestEffort(err) {
		r.logger.Warn("background step failed", kv...)
		return
	}
	r.logger.Error("operation failed", kv...)
}

// Record is one captured report
type Record struct {
	Name    string // event name or failing op
	Err     error  // nil for events
	Keyvals []interface{}
}

// Recorder keeps reports in memory for inspection
type Recorder struct {
	mu       sync.Mutex
	events   []Record
	failures []Record
}

func (r *Recorder) Event(name string, keyvals ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Record{Name: name, Keyvals: keyvals})
}

func (r *Recorder) Failure(op string, err error, keyvals ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, Record{Name: op, Err: err, Keyvals: keyvals})
}

// Events returns a copy of recorded events
func (r *Recorder) Events() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.events...)
}

// Failures returns a copy of recorded failures
func (r *Recorder) Failures() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.failures...)
}

// HasEvent reports whether an event with name was recorded
func (r *Recorder) HasEvent(name string) bool {
	for _, e := range r.Events() {
		if e.Name == name {
			return true
		}
	}
	return false
}

// FailuresFor returns recorded failures for op
func (r *Recorder) FailuresFor(op string) []Record {
	var out []Record
	for _, f := range r.Failures() {
		if f.Name == op {
			out = append(out, f)
		}
	}
	return out
}
