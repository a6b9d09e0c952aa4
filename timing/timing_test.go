package timing

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestFileSinkWritesOneJSONLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := NewFileSink(&buf)

	now := time.Now()
	sink.RecordTiming(Record{
		CallbackName: "recorder",
		EventID:      7,
		CreatedAt:    now.Add(-2 * time.Second),
		Start:        now.Add(-time.Second),
		End:          now,
	})
	sink.RecordTiming(Record{CallbackName: "second", EventID: 8})

	dec := json.NewDecoder(&buf)
	var first, second Record
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("decode first record: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("decode second record: %v", err)
	}
	if first.CallbackName != "recorder" || first.EventID != 7 {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if second.CallbackName != "second" || second.EventID != 8 {
		t.Fatalf("unexpected second record: %+v", second)
	}
}

func TestFileSinkDerivesDelayAndDuration(t *testing.T) {
	var buf bytes.Buffer
	sink := NewFileSink(&buf)

	now := time.Now()
	sink.RecordTiming(Record{
		CreatedAt: now,
		Start:     now.Add(500 * time.Millisecond),
		End:       now.Add(800 * time.Millisecond),
	})

	var rec Record
	if err := json.NewDecoder(&buf).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Delay != 500*time.Millisecond {
		t.Fatalf("Delay = %v, want 500ms", rec.Delay)
	}
	if rec.Duration != 300*time.Millisecond {
		t.Fatalf("Duration = %v, want 300ms", rec.Duration)
	}
}

func TestFileSinkRespectsExplicitDelayAndDuration(t *testing.T) {
	var buf bytes.Buffer
	sink := NewFileSink(&buf)

	now := time.Now()
	sink.RecordTiming(Record{
		CreatedAt: now,
		Start:     now.Add(500 * time.Millisecond),
		End:       now.Add(800 * time.Millisecond),
		Delay:     time.Minute,
		Duration:  time.Hour,
	})

	var rec Record
	if err := json.NewDecoder(&buf).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Delay != time.Minute {
		t.Fatalf("explicit Delay was overwritten: got %v", rec.Delay)
	}
	if rec.Duration != time.Hour {
		t.Fatalf("explicit Duration was overwritten: got %v", rec.Duration)
	}
}

func TestNoopSinkDiscardsRecords(t *testing.T) {
	var sink NoopSink
	sink.RecordTiming(Record{CallbackName: "anything", EventID: 1})
}
