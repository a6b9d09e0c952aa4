package plugin

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherStartsDirty(t *testing.T) {
	dir := t.TempDir()
	w, err := newWatcher(dir)
	if err != nil {
		t.Fatalf("newWatcher: %v", err)
	}
	defer w.close()

	if !w.consumeDirty() {
		t.Fatal("expected a freshly created watcher to report dirty on its first check")
	}
	if w.consumeDirty() {
		t.Fatal("expected consumeDirty to clear the flag after reporting it")
	}
}

func TestWatcherObservesFileChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := newWatcher(dir)
	if err != nil {
		t.Fatalf("newWatcher: %v", err)
	}
	defer w.close()
	w.consumeDirty() // clear the initial forced-dirty flag

	path := filepath.Join(dir, "new.plugin.yaml")
	if err := os.WriteFile(path, []byte("name: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.consumeDirty() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the watcher to observe the new file within the deadline")
}
