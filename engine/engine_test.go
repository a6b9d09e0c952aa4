package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	kratoslog "github.com/go-kratos/kratos/v2/log"

	"github.com/go-lynx/eventdaemon/config"
	"github.com/go-lynx/eventdaemon/plugin"
	"github.com/go-lynx/eventdaemon/upstream"
)

// fakeClient is a scripted upstream.Client: MaxEventID returns a fixed
// value, and EventsSince returns the batch at index N on its Nth call
// (0-indexed), or an empty batch once the script is exhausted. onCall, if
// set, runs before each EventsSince call returns, letting tests stop the
// engine deterministically after a specific iteration completes.
type fakeClient struct {
	mu       sync.Mutex
	maxID    int64
	maxFound bool
	batches  [][]upstream.Event
	calls    int
	onCall   func(call int)
}

func (f *fakeClient) MaxEventID(ctx context.Context) (int64, bool, error) {
	return f.maxID, f.maxFound, nil
}

func (f *fakeClient) EventsSince(ctx context.Context, afterID int64, limit int) ([]upstream.Event, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(idx)
	}
	if idx < len(f.batches) {
		return f.batches[idx], nil
	}
	return nil, nil
}

func writeTestConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "shotgunEventDaemon.conf")
	body := "[daemon]\n" +
		"max_conn_retries = 1\n" +
		"conn_retry_sleep = 0\n" +
		"fetch_interval = 0\n" +
		"conn_sleep = 0\n" +
		"max_event_batch_size = 500\n" +
		extra
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

// testCollection builds a real plugin.Collection rooted at a fresh temp
// directory with a single descriptor registering one recording callback,
// so engine-level tests exercise the full descriptor-load/dispatch path
// rather than poking at plugin internals.
func testCollection(t *testing.T, client upstream.Client, seen *[]int64) *plugin.Collection {
	t.Helper()
	pkg := t.Name() + "-plugin"
	plugin.Register(pkg, func(r *plugin.Registrar) error {
		fn := func(ctx context.Context, h *upstream.Handle, logger *kratoslog.Helper, e upstream.Event, args map[string]any) error {
			*seen = append(*seen, e.ID)
			return nil
		}
		return r.RegisterCallback("test-script", "test-key", fn)
	})

	dir := t.TempDir()
	descriptor := "name: recorder\ntransport: inprocess\npackage: " + pkg + "\n"
	if err := os.WriteFile(filepath.Join(dir, "recorder.plugin.yaml"), []byte(descriptor), 0o644); err != nil {
		t.Fatal(err)
	}
	return plugin.NewCollection(dir, client, nil, nil, false)
}

func evAt(id int64, createdAt time.Time) upstream.Event {
	return upstream.Event{ID: id, EventType: "Shotgun_Task_Change", CreatedAt: createdAt}
}

// TestEngineBootstrap covers a fresh run with no prior state: the
// upstream's max id seeds every plugin, and no events are dispatched.
func TestEngineBootstrap(t *testing.T) {
	cfg := writeTestConfig(t, "")
	var seen []int64
	client := &fakeClient{maxID: 100, maxFound: true}
	col := testCollection(t, client, &seen)

	store := NewStateStore(filepath.Join(t.TempDir(), "cursor.state"))
	e := New(cfg, client, RealClock{}, store, []*plugin.Collection{col})
	client.onCall = func(call int) {
		if call == 0 {
			e.Stop()
		}
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(seen) != 0 {
		t.Fatalf("bootstrap must not dispatch any events, saw %v", seen)
	}
	state := col.GetState()
	cur, ok := state["recorder.plugin.yaml"]
	if !ok || cur.LastID == nil || *cur.LastID != 100 {
		t.Fatalf("expected every plugin seeded with lastID=100, got %+v", cur)
	}
}

// TestEngineStraightThrough covers cursor seeded at 10, upstream returning
// [11,12,13]: every plugin ends at lastID=13 with an empty backlog.
func TestEngineStraightThrough(t *testing.T) {
	cfg := writeTestConfig(t, "")
	now := time.Now()
	var seen []int64
	client := &fakeClient{
		maxID:    999,
		maxFound: true,
		batches:  [][]upstream.Event{{evAt(11, now), evAt(12, now), evAt(13, now)}},
	}
	col := testCollection(t, client, &seen)

	statePath := filepath.Join(t.TempDir(), "cursor.state")
	if err := os.WriteFile(statePath, []byte("10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStateStore(statePath)

	e := New(cfg, client, RealClock{}, store, []*plugin.Collection{col})
	client.onCall = func(call int) {
		if call == 1 {
			e.Stop()
		}
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []int64{11, 12, 13}
	if !int64sEqual(seen, want) {
		t.Fatalf("dispatch order = %v, want %v", seen, want)
	}
	cur := col.GetState()["recorder.plugin.yaml"]
	if cur.LastID == nil || *cur.LastID != 13 {
		t.Fatalf("expected lastID=13, got %+v", cur.LastID)
	}
	if len(cur.Backlog) != 0 {
		t.Fatalf("expected empty backlog, got %+v", cur.Backlog)
	}
}

// TestEngineGapWithinTimeout drives the engine's loop end to end with a
// fake clock: a gap inside BacklogTimeout is filled in on a later poll
// rather than discarded.
func TestEngineGapWithinTimeout(t *testing.T) {
	cfg := writeTestConfig(t, "")
	clock := NewFakeClock(time.Now())
	var seen []int64
	client := &fakeClient{
		maxID:    999,
		maxFound: true,
		batches: [][]upstream.Event{
			{evAt(11, clock.Now().Add(-1 * time.Minute)), evAt(13, clock.Now().Add(-1 * time.Minute))},
			{evAt(12, clock.Now().Add(-30 * time.Second))},
		},
	}
	col := testCollection(t, client, &seen)

	statePath := filepath.Join(t.TempDir(), "cursor.state")
	if err := os.WriteFile(statePath, []byte("10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStateStore(statePath)

	e := New(cfg, client, clock, store, []*plugin.Collection{col})
	client.onCall = func(call int) {
		if call == 2 {
			e.Stop()
		}
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []int64{11, 13, 12}
	if !int64sEqual(seen, want) {
		t.Fatalf("dispatch order = %v, want %v", seen, want)
	}
	cur := col.GetState()["recorder.plugin.yaml"]
	if cur.LastID == nil || *cur.LastID != 13 {
		t.Fatalf("expected lastID to remain 13 after the backlog fill, got %+v", cur.LastID)
	}
	if len(cur.Backlog) != 0 {
		t.Fatalf("expected backlog drained after id 12 arrived, got %+v", cur.Backlog)
	}
}

// TestEngineGapPastTimeout covers a gap whose filling event's created_at
// is already older than BacklogTimeout: it is discarded outright.
func TestEngineGapPastTimeout(t *testing.T) {
	cfg := writeTestConfig(t, "")
	clock := NewFakeClock(time.Now())
	var seen []int64
	client := &fakeClient{
		maxID:    999,
		maxFound: true,
		batches: [][]upstream.Event{
			{evAt(14, clock.Now().Add(-10 * time.Minute))},
		},
	}
	col := testCollection(t, client, &seen)

	statePath := filepath.Join(t.TempDir(), "cursor.state")
	if err := os.WriteFile(statePath, []byte("10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStateStore(statePath)

	e := New(cfg, client, clock, store, []*plugin.Collection{col})
	client.onCall = func(call int) {
		if call == 1 {
			e.Stop()
		}
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cur := col.GetState()["recorder.plugin.yaml"]
	if cur.LastID == nil || *cur.LastID != 14 {
		t.Fatalf("expected lastID=14, got %+v", cur.LastID)
	}
	if len(cur.Backlog) != 0 {
		t.Fatalf("expected no backlog entries for a timed-out gap, got %+v", cur.Backlog)
	}
}

func int64sEqual(a, b []int64) bool {
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
