// Package engine owns the poll loop, the durable cursor map and the
// upstream retry/circuit-breaker policy around it.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kratos/aegis/circuitbreaker"
	"github.com/go-kratos/aegis/circuitbreaker/sre"

	"github.com/go-lynx/eventdaemon/config"
	"github.com/go-lynx/eventdaemon/log"
	"github.com/go-lynx/eventdaemon/plugin"
	"github.com/go-lynx/eventdaemon/upstream"
)

// Engine drives fetch -> dispatch -> persist -> sleep on a single
// goroutine. No internal parallelism across collections, plugins or
// callbacks: ordering is entirely determined by sorted iteration.
type Engine struct {
	cfg         *config.Config
	client      upstream.Client
	clock       Clock
	store       *StateStore
	collections []*plugin.Collection

	breaker circuitbreaker.CircuitBreaker

	persisted CursorMap // the last map read from / written to the StateStore
	stopped   atomic.Bool
}

// New builds an Engine. collections must already be constructed (see
// plugin.NewCollection); Start loads them from disk.
func New(cfg *config.Config, client upstream.Client, clock Clock, store *StateStore, collections []*plugin.Collection) *Engine {
	return &Engine{
		cfg:         cfg,
		client:      client,
		clock:       clock,
		store:       store,
		collections: collections,
		breaker:     sre.NewBreaker(),
	}
}

// Stop sets a cooperative flag observed by Loop at each turn.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

// Stopped reports whether Stop has been called.
func (e *Engine) Stopped() bool {
	return e.stopped.Load()
}

// Start loads every Collection from disk, restores cursors from the
// State Store (or bootstraps from upstream if no state file exists yet),
// then enters Loop.
func (e *Engine) Start(ctx context.Context) error {
	for _, c := range e.collections {
		if err := c.Load(ctx); err != nil {
			return fmt.Errorf("engine: initial load of %s: %w", c.Path(), err)
		}
	}

	result, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("engine: loading state: %w", err)
	}
	switch {
	case !result.Found:
		log.Infof("engine: no prior state found, bootstrapping cursors from upstream")
		if err := e.bootstrap(ctx); err != nil {
			return err
		}
	case result.Legacy:
		log.Infof("engine: seeding every plugin from legacy cursor %d", result.Cursor)
		for _, c := range e.collections {
			c.SetState(result.Cursor)
		}
	default:
		e.persisted = result.Cursors
		e.resolveCursors(ctx)
	}

	return e.Loop(ctx)
}

// bootstrap blocks (subject to the retry policy) until the upstream
// returns a non-null max id, then seeds every plugin lacking prior state
// with it. An empty upstream log is not fatal: MaxEventID's (0, false,
// nil) result means "wait", not "error".
func (e *Engine) bootstrap(ctx context.Context) error {
	for {
		if e.Stopped() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var (
			maxID int64
			found bool
		)
		err := e.withRetry(ctx, "MaxEventID", func(ctx context.Context) error {
			var innerErr error
			maxID, found, innerErr = e.client.MaxEventID(ctx)
			return innerErr
		})
		if err != nil {
			// Retries (and the breaker) are exhausted for this attempt;
			// wait the connection-failure sleep and try again rather
			// than treating this as fatal.
			time.Sleep(time.Duration(e.cfg.ConnRetrySleep()) * time.Second)
			continue
		}
		if !found {
			log.Infof("engine: upstream event log is empty, waiting for the first event")
			time.Sleep(time.Duration(e.cfg.FetchInterval()) * time.Second)
			continue
		}
		for _, c := range e.collections {
			c.SetState(maxID)
		}
		return nil
	}
}

// resolveCursors applies e.persisted to every collection. A collection
// whose path has no entry in the persisted map falls back to scanning
// every entry in the map for plugin names matching its currently loaded
// plugins and adopts the highest LastID seen per name; plugins with no
// match anywhere fall back to the current upstream max id.
func (e *Engine) resolveCursors(ctx context.Context) {
	for _, c := range e.collections {
		if perPlugin, ok := e.persisted[c.Path()]; ok {
			c.SetState(toPluginCursors(perPlugin))
			continue
		}
		e.nameBasedFallback(ctx, c)
	}
}

func (e *Engine) nameBasedFallback(ctx context.Context, c *plugin.Collection) {
	best := make(map[string]PluginCursor)
	for _, perPlugin := range e.persisted {
		for name, cur := range perPlugin {
			existing, ok := best[name]
			if !ok || (cur.LastID != nil && (existing.LastID == nil || *cur.LastID > *existing.LastID)) {
				best[name] = cur
			}
		}
	}
	if len(best) == 0 {
		log.Warnf("collection %s: no persisted state found by path or name, falling back to upstream max id", c.Path())
		var maxID int64
		var found bool
		if err := e.withRetry(ctx, "MaxEventID", func(ctx context.Context) error {
			var innerErr error
			maxID, found, innerErr = e.client.MaxEventID(ctx)
			return innerErr
		}); err == nil && found {
			c.SetState(maxID)
		}
		return
	}
	log.Infof("collection %s: resolved %d plugin cursor(s) via name-based fallback", c.Path(), len(best))
	c.SetState(toPluginCursors(best))
}

// Loop runs fetch -> dispatch -> persist -> sleep until Stop is called
// or ctx is cancelled.
func (e *Engine) Loop(ctx context.Context) error {
	for !e.Stopped() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.iterate(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) iterate(ctx context.Context) error {
	nextID, found := e.nextUnprocessedEventID()
	if !found {
		if err := e.bootstrap(ctx); err != nil {
			return err
		}
		return nil
	}

	limit := e.cfg.MaxEventBatchSize()
	var batch []upstream.Event
	err := e.withRetry(ctx, "EventsSince", func(ctx context.Context) error {
		var innerErr error
		batch, innerErr = e.client.EventsSince(ctx, nextID-1, limit)
		return innerErr
	})
	if err != nil {
		// Retries and the breaker are exhausted for this iteration; the
		// cursor is not advanced, sleep and let the next iteration retry.
		time.Sleep(time.Duration(e.cfg.ConnSleep()) * time.Second)
		return nil
	}

	if len(batch) > 0 {
		e.dispatch(ctx, batch)
		if err := e.persist(); err != nil {
			log.Errorf("engine: persisting cursor map failed: %v", err)
		}
	}

	if len(batch) < limit {
		time.Sleep(time.Duration(e.cfg.FetchInterval()) * time.Second)
	}

	for _, c := range e.collections {
		if err := c.Load(ctx); err != nil {
			log.Errorf("engine: reloading collection %s failed: %v", c.Path(), err)
		}
	}
	if len(batch) > 0 {
		e.resolveCursors(ctx)
	}
	return nil
}

// dispatch hands batch to every Collection, honoring the two-pass batch
// mode mixing rule: when batch mode is enabled, the
// subset of ids any plugin still has in its backlog is processed as its
// own ProcessBatch call before the remaining ("new") subset, never
// concatenated into one call. In non-batch mode every event is
// dispatched individually via Process, which already applies the same
// backlog-vs-new branching per event.
func (e *Engine) dispatch(ctx context.Context, batch []upstream.Event) {
	now := e.clock.Now()
	if !e.cfg.IsBatchMode() {
		for _, ev := range batch {
			for _, c := range e.collections {
				c.Process(ctx, now, ev)
			}
		}
		return
	}

	for _, c := range e.collections {
		backlogSubset, newSubset := splitBacklog(c, batch)
		if len(backlogSubset) > 0 {
			c.ProcessBatch(ctx, now, backlogSubset)
		}
		if len(newSubset) > 0 {
			c.ProcessBatch(ctx, now, newSubset)
		}
	}
}

// persist captures the current cursor state of every collection into
// e.persisted and writes it via the StateStore, exactly once per loop
// iteration that processed events.
func (e *Engine) persist() error {
	out := make(CursorMap, len(e.collections))
	for _, c := range e.collections {
		out[c.Path()] = fromPluginCursors(c.GetState())
	}
	e.persisted = out
	return e.store.Save(out)
}

// nextUnprocessedEventID returns the minimum NextUnprocessedEventID
// across every collection.
func (e *Engine) nextUnprocessedEventID() (int64, bool) {
	now := e.clock.Now()
	var candidate int64
	found := false
	for _, c := range e.collections {
		id, ok := c.NextUnprocessedEventID(now)
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

// withRetry implements the engine's upstream call retry policy: attempt
// up to MaxConnRetries, sleeping ConnRetrySleep between attempts; an
// aegis circuit breaker additionally short-circuits calls during a retry
// storm, layered on top of (never replacing) the counted-retry policy.
func (e *Engine) withRetry(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := e.breaker.Allow(); err != nil {
		log.Warnf("engine: circuit breaker open for %s, treating as exhausted retries: %v", name, err)
		return fmt.Errorf("%s: circuit open: %w", name, err)
	}

	max := e.cfg.MaxConnRetries()
	sleep := time.Duration(e.cfg.ConnRetrySleep()) * time.Second

	var lastErr error
	for attempt := 0; attempt < max; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			e.breaker.MarkSuccess()
			return nil
		}
		if attempt < max-1 {
			log.Warnf("engine: %s attempt %d/%d failed: %v", name, attempt+1, max, lastErr)
			select {
			case <-ctx.Done():
				e.breaker.MarkFailed()
				return ctx.Err()
			case <-time.After(sleep):
			}
		} else {
			log.Errorf("engine: %s failed after %d attempts: %v", name, max, lastErr)
		}
	}
	e.breaker.MarkFailed()
	return lastErr
}

func toPluginCursors(in map[string]PluginCursor) map[string]plugin.Cursor {
	out := make(map[string]plugin.Cursor, len(in))
	for name, c := range in {
		out[name] = plugin.Cursor{LastID: c.LastID, Backlog: c.Backlog}
	}
	return out
}

func fromPluginCursors(in map[string]plugin.Cursor) map[string]PluginCursor {
	out := make(map[string]PluginCursor, len(in))
	for name, c := range in {
		out[name] = PluginCursor{LastID: c.LastID, Backlog: c.Backlog}
	}
	return out
}

// splitBacklog partitions batch into events any plugin in c currently
// holds in backlog, and the remainder. Ordering within each subset is
// preserved from batch (already ascending by id).
func splitBacklog(c *plugin.Collection, batch []upstream.Event) (backlog, rest []upstream.Event) {
	backlogIDs := c.BacklogIDs()
	for _, ev := range batch {
		if _, ok := backlogIDs[ev.ID]; ok {
			backlog = append(backlog, ev)
		} else {
			rest = append(rest, ev)
		}
	}
	return backlog, rest
}
