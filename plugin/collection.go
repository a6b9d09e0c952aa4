package plugin

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-lynx/eventdaemon/log"
	"github.com/go-lynx/eventdaemon/secrets"
	"github.com/go-lynx/eventdaemon/upstream"
)

// descriptorSuffix is the file extension a Collection's directory listing
// matches against; anything else in the directory is ignored.
const descriptorSuffix = ".plugin.yaml"

// Collection is a directory of plugin descriptors, loaded and reloaded as
// a unit. Iteration order over its plugins is always the lexicographic
// sort of descriptor basenames, so dispatch order is reproducible.
type Collection struct {
	path    string
	plugins map[string]*Plugin

	client     upstream.Client
	secrets    *secrets.Cache
	timing     TimingFactory
	useSession bool

	watcher *watcher
}

// NewCollection builds an (empty, unloaded) Collection rooted at path.
// client, cache and timing are bound into every Plugin it constructs.
// useSession mirrors [shotgun] use_session_uuid: when true, every
// registered callback stamps the upstream Handle's SessionUUID from its
// event before invocation. This is a process-wide daemon setting, not a
// per-callback choice.
func NewCollection(path string, client upstream.Client, cache *secrets.Cache, timing TimingFactory, useSession bool) *Collection {
	return &Collection{
		path:       path,
		plugins:    make(map[string]*Plugin),
		client:     client,
		secrets:    cache,
		timing:     timing,
		useSession: useSession,
	}
}

// Path returns the directory this collection watches.
func (c *Collection) Path() string { return c.path }

// EnableWatcher starts an fsnotify-backed dirty flag for this collection's
// directory. It is optional: Load always falls back to a directory
// listing plus modTime comparison, so a watcher start failure (e.g. on a
// filesystem fsnotify cannot watch) is logged and otherwise ignored.
func (c *Collection) EnableWatcher() {
	w, err := newWatcher(c.path)
	if err != nil {
		log.Warnf("collection %s: fsnotify unavailable, falling back to modTime polling only: %v", c.path, err)
		return
	}
	c.watcher = w
}

// Close releases the collection's watcher, if any.
func (c *Collection) Close() {
	if c.watcher != nil {
		c.watcher.close()
	}
}

// Load lists the collection directory, constructs or reuses a Plugin per
// descriptor entry, drops plugins whose file disappeared, and calls
// Plugin.Load on every surviving entry (a no-op when its mtime hasn't
// advanced). Safe to call on every engine iteration; the fsnotify dirty
// flag (if a watcher is enabled) is cleared here and otherwise unused, so
// a directory change is picked up only on the next call, which always
// re-lists the directory.
func (c *Collection) Load(ctx context.Context) error {
	if c.watcher != nil {
		c.watcher.consumeDirty()
	}

	entries, err := os.ReadDir(c.path)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), descriptorSuffix) {
			continue
		}
		name := entry.Name()
		seen[name] = struct{}{}

		p, ok := c.plugins[name]
		if !ok {
			p = NewPlugin(filepath.Join(c.path, name), c.client, c.secrets, c.timing, c.useSession)
			c.plugins[name] = p
		}
		if err := p.Load(ctx, Global()); err != nil {
			log.Errorf("collection %s: plugin %s failed to load: %v", c.path, name, err)
		}
	}

	for name := range c.plugins {
		if _, ok := seen[name]; !ok {
			delete(c.plugins, name)
		}
	}
	return nil
}

// sortedNames returns this collection's plugin basenames in the stable
// dispatch order.
func (c *Collection) sortedNames() []string {
	names := make([]string, 0, len(c.plugins))
	for name := range c.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Process dispatches a single event to every active plugin, in
// basename-sorted order. now drives the gap/backlog timeout math.
func (c *Collection) Process(ctx context.Context, now time.Time, e upstream.Event) {
	for _, name := range c.sortedNames() {
		p := c.plugins[name]
		if !p.Active() {
			log.Debugf("collection %s: skipping inactive plugin %s", c.path, name)
			continue
		}
		p.Dispatch(ctx, now, e)
	}
}

// ProcessBatch dispatches an already-filtered, non-empty event batch to
// every active plugin's BatchCallbacks, in basename-sorted order.
func (c *Collection) ProcessBatch(ctx context.Context, now time.Time, events []upstream.Event) {
	for _, name := range c.sortedNames() {
		p := c.plugins[name]
		if !p.Active() {
			log.Debugf("collection %s: skipping inactive plugin %s", c.path, name)
			continue
		}
		p.DispatchBatch(ctx, now, events)
	}
}

// BacklogIDs returns the union of every active plugin's current backlog
// ids, for the engine's batch-mode two-pass split.
func (c *Collection) BacklogIDs() map[int64]struct{} {
	out := make(map[int64]struct{})
	for _, p := range c.plugins {
		if !p.Active() {
			continue
		}
		for id := range p.backlog {
			out[id] = struct{}{}
		}
	}
	return out
}

// SetState seeds every plugin's cursor from persisted state. s is either
// a bare int64 (every plugin starts at lastID=s with an empty backlog) or
// a map[string]Cursor keyed by plugin name. Names in the map that don't
// match a currently loaded plugin are retained by the caller (the engine
// keeps the full persisted map around) so a plugin added later still
// picks up its entry the next time SetState is called after a reload.
func (c *Collection) SetState(s any) {
	switch v := s.(type) {
	case int64:
		for _, p := range c.plugins {
			p.SetCursor(Cursor{LastID: &v})
		}
	case map[string]Cursor:
		for name, p := range c.plugins {
			if cur, ok := v[name]; ok {
				p.SetCursor(cur)
			}
		}
	}
}

// GetState returns the current cursor of every loaded plugin, keyed by
// descriptor basename.
func (c *Collection) GetState() map[string]Cursor {
	out := make(map[string]Cursor, len(c.plugins))
	for name, p := range c.plugins {
		out[name] = p.Cursor()
	}
	return out
}

// NextUnprocessedEventID returns the minimum NextUnprocessedEventID over
// every active plugin, or (0, false) if none has a cursor or backlog.
func (c *Collection) NextUnprocessedEventID(now time.Time) (int64, bool) {
	var candidate int64
	found := false
	for _, p := range c.plugins {
		if !p.Active() {
			continue
		}
		id, ok := p.NextUnprocessedEventID(now)
		if !ok {
			continue
		}
		if !found || id < candidate {
			candidate = id
			found = true
		}
	}
	return candidate, found
}
