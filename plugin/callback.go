package plugin

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"time"

	kratoslog "github.com/go-kratos/kratos/v2/log"

	"github.com/go-lynx/eventdaemon/log"
	"github.com/go-lynx/eventdaemon/timing"
	"github.com/go-lynx/eventdaemon/tracing"
	"github.com/go-lynx/eventdaemon/upstream"
)

// Func is a single-event handler registered by a plugin. h is the
// per-callback upstream handle (credentials + session correlation),
// logger is the callback's own *log.Helper.
type Func func(ctx context.Context, h *upstream.Handle, logger *kratoslog.Helper, event upstream.Event, args map[string]any) error

// BatchFunc is a whole-batch handler, used when the daemon runs in batch
// mode: new events and backlog retries are always separate BatchFunc
// invocations, never concatenated into one call.
type BatchFunc func(ctx context.Context, h *upstream.Handle, logger *kratoslog.Helper, events []upstream.Event, args map[string]any) error

// callbackState holds one registered callback's identity and behavior.
// active=false permanently disables it until the owning Plugin reloads.
type callbackState struct {
	name        string
	filter      *Filter
	fn          Func
	batchFn     BatchFunc
	args        map[string]any
	stopOnError bool
	active      bool
	handle      *upstream.Handle
	logger      *kratoslog.Helper
	useSession  bool
	timing      timing.Sink
}

// Callback is the smallest dispatch unit: a user function plus the event
// filter and fault-isolation policy that govern when and how it runs.
type Callback struct {
	state *callbackState
}

// registration carries everything a Registrar gathers before building a
// Callback, so both the single-event and batch constructors share it.
type registration struct {
	name        string
	filter      *Filter
	args        map[string]any
	stopOnError bool
	handle      *upstream.Handle
	logger      *kratoslog.Helper
	useSession  bool
	timing      timing.Sink
}

// newCallback registers a single-event callback. name, if empty, is
// derived from fn via runtime.FuncForPC.
func newCallback(r registration, fn Func) *Callback {
	name := r.name
	if name == "" {
		name = funcName(fn)
	}
	return &Callback{state: &callbackState{
		name:        name,
		filter:      r.filter,
		fn:          fn,
		args:        r.args,
		stopOnError: r.stopOnError,
		active:      true,
		handle:      r.handle,
		logger:      r.logger,
		useSession:  r.useSession,
		timing:      r.timing,
	}}
}

// newBatchCallback registers a whole-batch callback.
func newBatchCallback(r registration, fn BatchFunc) *Callback {
	name := r.name
	if name == "" {
		name = "batch-callback"
	}
	return &Callback{state: &callbackState{
		name:        name,
		filter:      r.filter,
		batchFn:     fn,
		args:        r.args,
		stopOnError: r.stopOnError,
		active:      true,
		handle:      r.handle,
		logger:      r.logger,
		useSession:  r.useSession,
		timing:      r.timing,
	}}
}

func funcName(fn Func) string {
	if fn == nil {
		return "unknown"
	}
	p := reflect.ValueOf(fn).Pointer()
	f := runtime.FuncForPC(p)
	if f == nil {
		return "unknown"
	}
	return f.Name()
}

// Name returns the callback's registered name.
func (c *Callback) Name() string { return c.state.name }

// Active reports whether the callback is still enabled.
func (c *Callback) Active() bool { return c.state.active }

// Deactivate permanently disables the callback until the next reload.
func (c *Callback) Deactivate() { c.state.active = false }

// Accepts reports whether the callback's filter matches the event.
func (c *Callback) Accepts(e upstream.Event) bool {
	if !c.state.active || c.state.filter == nil {
		return false
	}
	return c.state.filter.Matches(e.EventType, e.AttributeName)
}

// Invoke runs the callback against a single event with panic recovery,
// stack capture and an optional timing log: a goroutine plus a context
// deadline bounds the call, recover() plus runtime.Stack captures a
// panicking handler, and either case returns a structured error.
func (c *Callback) Invoke(ctx context.Context, e upstream.Event, timeout time.Duration) error {
	if c.state.fn == nil {
		return fmt.Errorf("callback %s: no single-event handler registered", c.state.name)
	}
	if c.state.useSession && c.state.handle != nil {
		c.state.handle.SetSessionUUID(e.SessionUUID)
	}
	start, end, err := c.invoke(ctx, timeout, e.CreatedAt, func(ctx context.Context) error {
		return c.state.fn(ctx, c.state.handle, c.state.logger, e, c.state.args)
	})
	c.recordTiming(e.ID, e.CreatedAt, start, end, err)
	return err
}

// InvokeBatch runs the callback against a whole batch, same fault
// isolation semantics as Invoke. One timing record is emitted per event,
// sharing the batch's start/end/duration.
func (c *Callback) InvokeBatch(ctx context.Context, events []upstream.Event, timeout time.Duration) error {
	if c.state.batchFn == nil {
		return fmt.Errorf("callback %s: no batch handler registered", c.state.name)
	}
	var firstCreated time.Time
	if len(events) > 0 {
		firstCreated = events[0].CreatedAt
	}
	start, end, err := c.invoke(ctx, timeout, firstCreated, func(ctx context.Context) error {
		return c.state.batchFn(ctx, c.state.handle, c.state.logger, events, c.state.args)
	})
	for _, e := range events {
		c.recordTiming(e.ID, e.CreatedAt, start, end, err)
	}
	return err
}

func (c *Callback) recordTiming(eventID int64, createdAt, start, end time.Time, err error) {
	if c.state.timing == nil {
		return
	}
	c.state.timing.RecordTiming(timing.Record{
		CallbackName: c.state.name,
		EventID:      eventID,
		CreatedAt:    createdAt,
		Start:        start,
		End:          end,
		Duration:     end.Sub(start),
		Delay:        start.Sub(createdAt),
		Errored:      err != nil,
	})
}

func (c *Callback) invoke(parent context.Context, timeout time.Duration, createdAt time.Time, run func(context.Context) error) (start, end time.Time, err error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start = time.Now()
	ctx, span := tracing.StartCallbackSpan(ctx, c.state.name)
	defer span.End()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := log.CaptureCallbackStack()
				log.Errorf("panic in callback %s: %v\n%s", c.state.name, r, stack)
				done <- fmt.Errorf("panic in callback %s: %v", c.state.name, r)
			}
		}()
		done <- run(ctx)
	}()

	select {
	case callErr := <-done:
		end = time.Now()
		tracing.RecordCallbackDuration(ctx, c.state.name, end.Sub(start), callErr)
		if callErr != nil && c.state.stopOnError {
			c.Deactivate()
		}
		return start, end, callErr
	case <-ctx.Done():
		go func(started time.Time) {
			select {
			case callErr := <-done:
				log.Warnf("callback %s returned after deadline; delay=%s err=%v", c.state.name, time.Since(started), callErr)
			case <-time.After(30 * time.Second):
				log.Errorf("callback %s still running 30s after timeout; possible goroutine leak", c.state.name)
			}
		}(start)
		end = time.Now()
		timeoutErr := fmt.Errorf("callback %s timed out after %s: %w", c.state.name, timeout, ctx.Err())
		tracing.RecordCallbackDuration(ctx, c.state.name, end.Sub(start), timeoutErr)
		if c.state.stopOnError {
			c.Deactivate()
		}
		return start, end, timeoutErr
	}
}
