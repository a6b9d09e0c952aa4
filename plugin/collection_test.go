package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	kratoslog "github.com/go-kratos/kratos/v2/log"

	"github.com/go-lynx/eventdaemon/upstream"
)

func writeDescriptor(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	contents := "name: " + name + "\ntransport: inprocess\npackage: eventdaemon-test-noop\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	return path
}

func init() {
	Register("eventdaemon-test-noop", func(r *Registrar) error { return nil })
}

func TestCollectionLoadDropsDeletedFiles(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "b.plugin.yaml")
	writeDescriptor(t, dir, "a.plugin.yaml")

	c := NewCollection(dir, nil, nil, nil, false)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.plugins) != 2 {
		t.Fatalf("expected 2 plugins loaded, got %d", len(c.plugins))
	}

	if err := os.Remove(filepath.Join(dir, "a.plugin.yaml")); err != nil {
		t.Fatal(err)
	}
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load (reload): %v", err)
	}
	if _, ok := c.plugins["a.plugin.yaml"]; ok {
		t.Fatal("expected deleted descriptor's plugin to be dropped on reload")
	}
	if _, ok := c.plugins["b.plugin.yaml"]; !ok {
		t.Fatal("expected surviving descriptor's plugin to remain")
	}
}

func TestCollectionDispatchOrderIsBasenameSorted(t *testing.T) {
	c := NewCollection(t.TempDir(), nil, nil, nil, false)

	// Build plugins whose recorded dispatch order we can observe through a
	// shared slice, keyed by plugin basename rather than registration order.
	var seen []string
	newRecording := func(name string) *Plugin {
		p := NewPlugin(name, nil, nil, nil, false)
		lastID := int64(0)
		p.SetCursor(Cursor{LastID: &lastID})
		fn := func(ctx context.Context, h *upstream.Handle, logger *kratoslog.Helper, e upstream.Event, args map[string]any) error {
			seen = append(seen, name)
			return nil
		}
		p.callbacks = []*Callback{newCallback(registration{name: name, filter: AnyEvent()}, fn)}
		return p
	}

	c.plugins["z.plugin.yaml"] = newRecording("z")
	c.plugins["a.plugin.yaml"] = newRecording("a")
	c.plugins["m.plugin.yaml"] = newRecording("m")

	c.Process(context.Background(), time.Now(), ev(1, time.Now()))
	want := []string{"a", "m", "z"}
	if !stringSliceEqual(seen, want) {
		t.Fatalf("dispatch order = %v, want %v", seen, want)
	}
}

func TestCollectionSetStateBareInt(t *testing.T) {
	c := NewCollection(t.TempDir(), nil, nil, nil, false)
	c.plugins["a.plugin.yaml"] = NewPlugin("a.plugin.yaml", nil, nil, nil, false)
	c.plugins["b.plugin.yaml"] = NewPlugin("b.plugin.yaml", nil, nil, nil, false)

	c.SetState(int64(100))

	for name, p := range c.plugins {
		cur := p.Cursor()
		if cur.LastID == nil || *cur.LastID != 100 {
			t.Fatalf("plugin %s: expected lastID=100, got %+v", name, cur.LastID)
		}
	}
}

func TestCollectionGetStateRoundTrip(t *testing.T) {
	c := NewCollection(t.TempDir(), nil, nil, nil, false)
	p := NewPlugin("a.plugin.yaml", nil, nil, nil, false)
	lastID := int64(42)
	p.SetCursor(Cursor{LastID: &lastID, Backlog: map[int64]time.Time{43: time.Now()}})
	c.plugins["a.plugin.yaml"] = p

	state := c.GetState()
	got, ok := state["a.plugin.yaml"]
	if !ok {
		t.Fatal("expected a.plugin.yaml in GetState result")
	}
	if got.LastID == nil || *got.LastID != 42 {
		t.Fatalf("expected round-tripped lastID=42, got %+v", got.LastID)
	}
	if _, ok := got.Backlog[43]; !ok {
		t.Fatal("expected round-tripped backlog entry for id 43")
	}
}

// TestCollectionProcessBatchRespectsPerPluginBacklog covers ProcessBatch
// dispatching the same batch to two plugins with different cursors: one
// sees the batch as a contiguous new run, the other sees it as a backlog
// redelivery, and each must update its own cursor correctly.
func TestCollectionProcessBatchRespectsPerPluginBacklog(t *testing.T) {
	c := NewCollection(t.TempDir(), nil, nil, nil, false)

	straight := NewPlugin("straight.plugin.yaml", nil, nil, nil, false)
	straightLastID := int64(10)
	straight.SetCursor(Cursor{LastID: &straightLastID})
	var straightSeen []int64
	straight.callbacks = []*Callback{newBatchCallback(registration{name: "cb", filter: AnyEvent()}, appendingBatchFunc(&straightSeen))}
	c.plugins["straight.plugin.yaml"] = straight

	backlogged := NewPlugin("backlogged.plugin.yaml", nil, nil, nil, false)
	backloggedLastID := int64(12)
	backlogged.SetCursor(Cursor{LastID: &backloggedLastID})
	backlogged.backlog[11] = time.Now().Add(time.Hour)
	var backloggedSeen []int64
	backlogged.callbacks = []*Callback{newBatchCallback(registration{name: "cb", filter: AnyEvent()}, appendingBatchFunc(&backloggedSeen))}
	c.plugins["backlogged.plugin.yaml"] = backlogged

	now := time.Now()
	c.ProcessBatch(context.Background(), now, []upstream.Event{ev(11, now), ev(12, now)})

	if !int64SliceEqual(straightSeen, []int64{11, 12}) {
		t.Fatalf("straight plugin saw %v, want [11 12]", straightSeen)
	}
	if got := *straight.Cursor().LastID; got != 12 {
		t.Fatalf("straight plugin lastID = %d, want 12", got)
	}

	if !int64SliceEqual(backloggedSeen, []int64{11}) {
		t.Fatalf("backlogged plugin should only see its pending backlog id 11, saw %v", backloggedSeen)
	}
	if len(backlogged.Cursor().Backlog) != 0 {
		t.Fatalf("expected backlogged plugin's backlog cleared, got %+v", backlogged.Cursor().Backlog)
	}
	if got := *backlogged.Cursor().LastID; got != 12 {
		t.Fatalf("backlogged plugin lastID = %d, want 12", got)
	}
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
