package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-lynx/eventdaemon/log"
	"github.com/go-lynx/eventdaemon/secrets"
	"github.com/go-lynx/eventdaemon/upstream"
)

// BacklogTimeout is the wall-clock window a gap id is retried before the
// plugin gives up on it as "never happened".
const BacklogTimeout = 5 * time.Minute

// CallbackTimeout bounds a single callback invocation's soft watchdog; it
// does not forcibly cancel the user's goroutine (user callbacks are not
// preemptible), it only stops waiting and logs if the goroutine is slow.
const CallbackTimeout = 30 * time.Second

// Descriptor names the on-disk contract for a plugin: a *.plugin.yaml file
// pointing either at a compiled-in registry entry or a remote socket.
type Descriptor struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // "inprocess" (default) or "remote"
	Package   string `yaml:"package"`   // registry key, for in-process plugins
	Socket    string `yaml:"socket"`    // unix socket path, for remote plugins
	Version   string `yaml:"version"`   // bumped to force remote reload
}

// Cursor is a plugin's durable position: the last successfully processed
// event id and the set of gap ids still awaiting a late arrival.
type Cursor struct {
	LastID  *int64
	Backlog map[int64]time.Time
}

// Plugin is a single descriptor file on disk (or remote endpoint) that
// registers one or more Callbacks and owns a cursor.
type Plugin struct {
	path       string
	descriptor Descriptor
	modTime    time.Time
	active     bool
	callbacks  []*Callback
	lastID     *int64
	backlog    map[int64]time.Time

	registrar *Registrar
	remote    *remoteEndpoint

	client     upstream.Client
	secrets    *secrets.Cache
	timing     TimingFactory
	useSession bool
}

// NewPlugin constructs a Plugin for the descriptor file at path. client,
// cache and timing are bound into every Registrar built for this plugin
// across reloads. It does not load callbacks yet; call Load to do that.
func NewPlugin(path string, client upstream.Client, cache *secrets.Cache, timing TimingFactory, useSession bool) *Plugin {
	return &Plugin{
		path:       path,
		active:     true,
		backlog:    make(map[int64]time.Time),
		client:     client,
		secrets:    cache,
		timing:     timing,
		useSession: useSession,
	}
}

// Name returns the plugin's descriptor name, or its basename before Load.
func (p *Plugin) Name() string {
	if p.descriptor.Name != "" {
		return p.descriptor.Name
	}
	return filepath.Base(p.path)
}

// Active reports whether the plugin is currently dispatching events.
func (p *Plugin) Active() bool { return p.active }

// Load (re-)reads the descriptor file if its mtime advanced, resetting and
// re-registering callbacks. A missing registry entry or remote socket
// marks the plugin inactive but preserves its cursor so a later successful
// reload can resume dispatch.
func (p *Plugin) Load(ctx context.Context, reg *Registry) error {
	info, err := os.Stat(p.path)
	if err != nil {
		return fmt.Errorf("plugin %s: stat: %w", p.path, err)
	}
	if !info.ModTime().After(p.modTime) && p.callbacks != nil {
		return nil // unchanged since last load
	}

	desc, err := parseDescriptor(p.path)
	if err != nil {
		p.active = false
		log.Errorf("plugin %s: failed to parse descriptor: %v", p.path, err)
		return err
	}
	p.descriptor = desc
	p.modTime = info.ModTime()
	p.callbacks = nil
	p.active = true
	p.registrar = newRegistrar(reg, p.Name())
	p.registrar.Bind(p.client, p.secrets, p.timing, p.useSession)

	switch desc.Transport {
	case "", "inprocess":
		ctor, ok := reg.lookup(desc.Package)
		if !ok {
			p.active = false
			log.Errorf("plugin %s: no registered package %q", p.Name(), desc.Package)
			return fmt.Errorf("plugin %s: package %q not registered", p.Name(), desc.Package)
		}
		if err := ctor(p.registrar); err != nil {
			p.active = false
			log.Errorf("plugin %s: RegisterCallbacks failed: %v", p.Name(), err)
			return err
		}
	case "remote":
		ep, err := dialRemote(ctx, desc.Socket)
		if err != nil {
			p.active = false
			log.Errorf("plugin %s: failed to dial remote socket %s: %v", p.Name(), desc.Socket, err)
			return err
		}
		cbs, err := ep.handshake(ctx)
		if err != nil {
			p.active = false
			log.Errorf("plugin %s: remote handshake failed: %v", p.Name(), err)
			return err
		}
		p.remote = ep
		p.callbacks = cbs
	default:
		p.active = false
		return fmt.Errorf("plugin %s: unknown transport %q", p.Name(), desc.Transport)
	}

	p.callbacks = append(p.callbacks, p.registrar.callbacks...)
	return nil
}

// Cursor returns the plugin's current durable position.
func (p *Plugin) Cursor() Cursor {
	backlog := make(map[int64]time.Time, len(p.backlog))
	for k, v := range p.backlog {
		backlog[k] = v
	}
	return Cursor{LastID: copyInt64(p.lastID), Backlog: backlog}
}

// SetCursor seeds the plugin's cursor, e.g. from persisted state or an
// upstream bootstrap.
func (p *Plugin) SetCursor(c Cursor) {
	p.lastID = copyInt64(c.LastID)
	p.backlog = make(map[int64]time.Time, len(c.Backlog))
	for k, v := range c.Backlog {
		p.backlog[k] = v
	}
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// NextUnprocessedEventID returns the smallest id the plugin has not yet
// successfully processed: min(lastID+1, earliest non-expired backlog key).
// Expired backlog keys are removed here. Returns (0, false) when the
// plugin has no cursor and no backlog.
func (p *Plugin) NextUnprocessedEventID(now time.Time) (int64, bool) {
	for id, expiry := range p.backlog {
		if now.After(expiry) {
			delete(p.backlog, id)
			log.Warnf("plugin %s: backlog id %d expired after %s, giving up", p.Name(), id, BacklogTimeout)
		}
	}

	var candidate int64
	found := false
	if p.lastID != nil {
		candidate = *p.lastID + 1
		found = true
	}
	for id := range p.backlog {
		if !found || id < candidate {
			candidate = id
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return candidate, true
}

// Dispatch routes event e through every active, matching Callback in
// registration order, applying the gap/backlog algorithm around it. now
// drives the gap-timeout and backlog-expiry decisions, so tests can pin it
// with a fake clock instead of wall time.
func (p *Plugin) Dispatch(ctx context.Context, now time.Time, e upstream.Event) {
	if !p.active {
		log.Debugf("plugin %s: skipping, inactive", p.Name())
		return
	}

	_, inBacklog := p.backlog[e.ID]
	switch {
	case inBacklog:
		if p.invokeCallbacks(ctx, e) {
			delete(p.backlog, e.ID)
			p.advance(now, e)
		}
	case p.lastID != nil && e.ID <= *p.lastID:
		log.Debugf("plugin %s: dropping already-processed event %d (lastID=%d)", p.Name(), e.ID, *p.lastID)
	default:
		if p.invokeCallbacks(ctx, e) {
			p.advance(now, e)
		}
	}
}

// DispatchBatch runs every active BatchCallback against an already
// filtered, non-empty event list — used in batch mode, always as a
// separate pass from any single-event dispatch in the same iteration.
// Bookkeeping mirrors Dispatch exactly, just applied per event inside a
// single batch rather than one event at a time: events already covered by
// lastID are dropped before any callback runs, and backlog removal plus
// advance happen per surviving event in ascending order, so a contiguous
// run of new ids (e.g. lastID=10, events [11,12,13]) advances id-by-id
// instead of jumping straight to the last id and spuriously backlogging
// the ones in between.
func (p *Plugin) DispatchBatch(ctx context.Context, now time.Time, events []upstream.Event) {
	if !p.active || len(events) == 0 {
		return
	}

	toProcess := make([]upstream.Event, 0, len(events))
	for _, e := range events {
		if _, inBacklog := p.backlog[e.ID]; inBacklog {
			toProcess = append(toProcess, e)
			continue
		}
		if p.lastID != nil && e.ID <= *p.lastID {
			log.Debugf("plugin %s: dropping already-processed event %d (lastID=%d)", p.Name(), e.ID, *p.lastID)
			continue
		}
		toProcess = append(toProcess, e)
	}
	if len(toProcess) == 0 {
		return
	}

	for _, cb := range p.callbacks {
		if !cb.Active() || cb.state.batchFn == nil {
			continue
		}
		matched := make([]upstream.Event, 0, len(toProcess))
		for _, e := range toProcess {
			if cb.Accepts(e) {
				matched = append(matched, e)
			}
		}
		if len(matched) == 0 {
			continue
		}
		if err := cb.InvokeBatch(ctx, matched, CallbackTimeout); err != nil {
			log.Errorf("plugin %s: batch callback %s failed: %v", p.Name(), cb.Name(), err)
		}
	}

	for _, e := range toProcess {
		delete(p.backlog, e.ID)
		p.advance(now, e)
	}
}

// invokeCallbacks runs every matching callback for e and reports whether
// dispatch should be considered successful (no callback deactivated the
// whole plugin by reporting plugin-fatal failure).
func (p *Plugin) invokeCallbacks(ctx context.Context, e upstream.Event) bool {
	for _, cb := range p.callbacks {
		if !cb.Active() || cb.state.fn == nil || !cb.Accepts(e) {
			continue
		}
		if err := cb.Invoke(ctx, e, CallbackTimeout); err != nil {
			log.Errorf("plugin %s: callback %s failed on event %d: %v", p.Name(), cb.Name(), e.ID, err)
		}
	}
	return true
}

// advance implements the gap/backlog bookkeeping step after a successful
// dispatch of event e. lastID only ever moves forward: a backlog id
// delivered out of order (necessarily <= the current lastID, invariant
// (iv)) must not regress the cursor when it lands.
func (p *Plugin) advance(now time.Time, e upstream.Event) {
	if p.lastID != nil && e.ID > *p.lastID+1 {
		gapAge := now.Sub(e.CreatedAt)
		if gapAge > BacklogTimeout {
			log.Warnf("plugin %s: ids %d..%d never arrived, discarding", p.Name(), *p.lastID+1, e.ID-1)
		} else {
			expiry := now.Add(BacklogTimeout)
			for id := *p.lastID + 1; id < e.ID; id++ {
				p.backlog[id] = expiry
			}
		}
	}
	if p.lastID == nil || e.ID > *p.lastID {
		id := e.ID
		p.lastID = &id
	}
}

func parseDescriptor(path string) (Descriptor, error) {
	return loadDescriptorYAML(path)
}

// sortedBasenames returns names sorted lexicographically, the stable
// dispatch order required across plugins and collections.
func sortedBasenames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
