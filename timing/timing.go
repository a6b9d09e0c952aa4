// Package timing defines the callback timing record shape and a
// file-backed sink for it, kept free of any dependency on package plugin
// or package log so both can depend on it without an import cycle:
// plugin.Callback reports every invocation here, and the concrete sink
// wiring (which file, which rotation policy) lives with the rest of the
// daemon's log setup.
package timing

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Record is one callback-invocation timing sample: event id, created_at,
// callback name, start/end/duration, the start-to-created_at delay, and
// whether the invocation errored.
type Record struct {
	CallbackName string        `json:"callback_name"`
	EventID      int64         `json:"event_id"`
	CreatedAt    time.Time     `json:"created_at"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Duration     time.Duration `json:"duration_ns"`
	Delay        time.Duration `json:"delay_ns"`
	Errored      bool          `json:"errored"`
}

// Sink receives one Record per callback invocation.
type Sink interface {
	RecordTiming(rec Record)
}

// FileSink writes one JSON line per Record to an underlying io.Writer
// (typically a log.TimeRotationWriter), backing the optional timing_log
// file. Safe for concurrent use, though the engine's
// single-threaded dispatch loop never calls it concurrently itself — a
// remote plugin's callback forwarding or a future worker pool might.
type FileSink struct {
	mu  sync.Mutex
	out io.Writer
	enc *json.Encoder
}

// NewFileSink wraps out (already open, already rotation-aware) as a Sink.
func NewFileSink(out io.Writer) *FileSink {
	s := &FileSink{out: out}
	s.enc = json.NewEncoder(out)
	return s
}

// RecordTiming implements Sink.
func (s *FileSink) RecordTiming(rec Record) {
	if rec.Delay == 0 && !rec.Start.IsZero() && !rec.CreatedAt.IsZero() {
		rec.Delay = rec.Start.Sub(rec.CreatedAt)
	}
	if rec.Duration == 0 && !rec.End.IsZero() && !rec.Start.IsZero() {
		rec.Duration = rec.End.Sub(rec.Start)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(rec)
}

// NoopSink discards every record; used when [daemon] timing_log is off.
type NoopSink struct{}

// RecordTiming implements Sink.
func (NoopSink) RecordTiming(Record) {}
