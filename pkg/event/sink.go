package event

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// Sink stores transcript events in order.
type Sink interface {
	Append(Event) error
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Append(evt Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.events = append(m.events, evt)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of everything appended so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfType returns the appended events of the given types, in order.
func (m *MemorySink) OfType(types ...Type) []Event {
	want := make(map[Type]struct{}, len(types))
	for _, t := range types {
		want[t] = struct{}{}
	}
	var out []Event
	for _, evt := range m.Events() {
		if _, ok := want[evt.Type]; ok {
			out = append(out, evt)
		}
	}
	return out
}

// Types lists the type of every appended event, in order.
func (m *MemorySink) Types() []Type {
	events := m.Events()
	out := make([]Type, len(events))
	for i, evt := range events {
		out[i] = evt.Type
	}
	return out
}

type multiSink []Sink

// Multi fans events out to every non-nil sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Append(evt Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder stamps events for one session and appends them to a sink. Sink
// failures are logged and never interrupt the caller.
type Recorder struct {
	sink      Sink
	sessionID string
	cwd       string
	logger    *slog.Logger
}

// NewRecorder builds a recorder. A nil sink discards events.
func NewRecorder(sink Sink, sessionID, cwd string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, sessionID: sessionID, cwd: cwd, logger: logger}
}

// SessionID returns the stamped session.
func (r *Recorder) SessionID() string {
	if r == nil {
		return ""
	}
	return r.sessionID
}

// WithSession returns a recorder on the same sink for another session.
func (r *Recorder) WithSession(sessionID string) *Recorder {
	if r == nil {
		return nil
	}
	return &Recorder{sink: r.sink, sessionID: sessionID, cwd: r.cwd, logger: r.logger}
}

// Record appends one event.
func (r *Recorder) Record(typ Type, data any) {
	if r == nil || r.sink == nil {
		return
	}
	evt := New(typ, r.sessionID, data)
	evt.Cwd = r.cwd
	if err := r.sink.Append(evt); err != nil {
		r.logger.Warn("transcript append failed", "type", string(typ), "session_id", r.sessionID, "error", err)
	}
}

// Clip shortens s for transcript payloads.
func Clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
