package plugin

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/go-lynx/eventdaemon/log"
)

// watcher runs an fsnotify watch on a single directory on its own
// goroutine. It never touches Plugin or Collection state directly — it
// only flips a dirty flag that the single loop goroutine consumes at its
// next safe point, preserving the single-writer invariant on plugin and
// cursor state.
type watcher struct {
	fs    *fsnotify.Watcher
	dirty atomic.Bool
	done  chan struct{}
}

func newWatcher(path string) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &watcher{fs: fw, done: make(chan struct{})}
	w.dirty.Store(true) // force an initial Load
	go w.run(path)
	return w, nil
}

func (w *watcher) run(path string) {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			log.Debugf("collection %s: fsnotify %s", path, event)
			w.dirty.Store(true)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warnf("collection %s: fsnotify error: %v", path, err)
		case <-w.done:
			return
		}
	}
}

// consumeDirty reports whether a change was observed since the last call
// and clears the flag. The caller (Collection.Load) discards the result
// and always re-lists the directory regardless; the flag is never a gate
// on whether Load runs.
func (w *watcher) consumeDirty() bool {
	return w.dirty.Swap(false)
}

func (w *watcher) close() {
	close(w.done)
	_ = w.fs.Close()
}
