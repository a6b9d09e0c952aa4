package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	kratoslog "github.com/go-kratos/kratos/v2/log"

	"github.com/go-lynx/eventdaemon/upstream"
)

func TestCallbackStopOnErrorDeactivates(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context, h *upstream.Handle, logger *kratoslog.Helper, e upstream.Event, args map[string]any) error {
		calls++
		return errors.New("boom")
	}
	cb := newCallback(registration{name: "cb", filter: AnyEvent(), stopOnError: true}, fn)

	if err := cb.Invoke(context.Background(), ev(1, time.Now()), time.Second); err == nil {
		t.Fatal("expected callback error to propagate")
	}
	if cb.Active() {
		t.Fatal("a stopOnError callback must deactivate itself after a failing invocation")
	}

	// A second dispatch must not invoke the now-inactive callback at all —
	// verified at the Plugin level in TestPluginStopOnErrorFaultIsolation,
	// but Accepts() alone should already report false once inactive.
	if cb.Accepts(ev(2, time.Now())) {
		t.Fatal("an inactive callback must never accept events")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one invocation, got %d", calls)
	}
}

func TestCallbackWithoutStopOnErrorStaysActive(t *testing.T) {
	fn := func(ctx context.Context, h *upstream.Handle, logger *kratoslog.Helper, e upstream.Event, args map[string]any) error {
		return errors.New("boom")
	}
	cb := newCallback(registration{name: "cb", filter: AnyEvent()}, fn)

	_ = cb.Invoke(context.Background(), ev(1, time.Now()), time.Second)
	if !cb.Active() {
		t.Fatal("a callback without stopOnError must stay active after a failing invocation")
	}
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	fn := func(ctx context.Context, h *upstream.Handle, logger *kratoslog.Helper, e upstream.Event, args map[string]any) error {
		panic("user code exploded")
	}
	cb := newCallback(registration{name: "cb", filter: AnyEvent()}, fn)

	err := cb.Invoke(context.Background(), ev(1, time.Now()), time.Second)
	if err == nil {
		t.Fatal("expected a panic in user code to be captured as an error")
	}
}

// TestPluginStopOnErrorFaultIsolation covers callback A (stopOnError=true)
// failing on event 20: callback B still runs for the same event, lastID
// still advances, and on the next event only B fires.
func TestPluginStopOnErrorFaultIsolation(t *testing.T) {
	p := newTestPlugin()
	lastID := int64(19)
	p.SetCursor(Cursor{LastID: &lastID})

	var seenA, seenB []int64
	failOn := map[int64]struct{}{20: {}}
	cbA := newCallback(registration{name: "A", filter: AnyEvent(), stopOnError: true}, appendingFunc(&seenA, failOn))
	cbB := newCallback(registration{name: "B", filter: AnyEvent()}, appendingFunc(&seenB, nil))
	p.callbacks = []*Callback{cbA, cbB}

	now := time.Now()
	p.Dispatch(context.Background(), now, ev(20, now))

	if cbA.Active() {
		t.Fatal("callback A should have deactivated itself after failing with stopOnError")
	}
	if !cbB.Active() {
		t.Fatal("callback B must not be affected by A's failure")
	}
	if got := *p.Cursor().LastID; got != 20 {
		t.Fatalf("lastID must still advance to 20 despite A's failure, got %d", got)
	}
	if !int64SliceEqual(seenB, []int64{20}) {
		t.Fatalf("callback B must still have been invoked for event 20, saw %v", seenB)
	}

	p.Dispatch(context.Background(), now, ev(21, now))
	if int64SliceEqual(seenA, []int64{20, 21}) {
		t.Fatal("deactivated callback A must not receive event 21")
	}
	if !int64SliceEqual(seenB, []int64{20, 21}) {
		t.Fatalf("callback B must receive event 21, saw %v", seenB)
	}
}

func TestCallbackFilterCorrectness(t *testing.T) {
	var seen []int64
	fn := appendingFunc(&seen, nil)
	filter := NewFilter().WithAttributes("Shotgun_Task_Change", "sg_status_list")
	cb := newCallback(registration{name: "cb", filter: filter}, fn)

	matching := upstream.Event{ID: 1, EventType: "Shotgun_Task_Change", AttributeName: "sg_status_list"}
	nonMatching := upstream.Event{ID: 2, EventType: "Shotgun_Task_Change", AttributeName: "description"}

	if !cb.Accepts(matching) {
		t.Fatal("expected callback to accept a matching event")
	}
	if cb.Accepts(nonMatching) {
		t.Fatal("expected callback to reject a non-matching event")
	}
}
