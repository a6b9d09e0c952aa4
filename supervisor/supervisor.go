// Package supervisor converts OS termination signals into a cooperative
// engine stop, and re-enters the engine if it exits abnormally.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-lynx/eventdaemon/log"
)

// Engine is the subset of engine.Engine the Supervisor drives.
type Engine interface {
	Start(ctx context.Context) error
	Loop(ctx context.Context) error
	Stop()
}

// Supervisor installs SIGINT/SIGTERM handlers that convert into a
// cooperative stop flag, then re-enters Engine.Start on any abnormal
// exit (a returned error or a recovered panic) until asked to stop.
type Supervisor struct {
	engine    Engine
	connSleep time.Duration
	stopped   atomic.Bool
}

// New builds a Supervisor around engine. connSleep is the pause between
// restart attempts after an abnormal engine exit ([daemon] conn_sleep).
func New(engine Engine, connSleep time.Duration) *Supervisor {
	return &Supervisor{engine: engine, connSleep: connSleep}
}

// Run installs signal handlers and calls Engine.Start (which runs Loop
// itself); whenever Start returns while not stopped, it sleeps connSleep
// and calls Start again. Loop is never called directly. Returns nil on a
// clean stop (SIGINT/SIGTERM observed or ctx done).
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("supervisor: received signal %v, stopping", sig)
		s.stopped.Store(true)
		s.engine.Stop()
		cancel()
	}()
	defer signal.Stop(sigCh)

	if err := s.runOnce(ctx); err != nil {
		log.Errorf("supervisor: engine exited abnormally: %v", err)
	}
	for !s.stopped.Load() {
		log.Warnf("supervisor: restarting engine after %s", s.connSleep)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.connSleep):
		}
		if err := s.runOnce(ctx); err != nil {
			log.Errorf("supervisor: engine exited abnormally: %v", err)
		}
	}
	return nil
}

// runOnce calls Engine.Start (which internally enters Loop) once,
// recovering any panic so a single misbehaving iteration can never take
// down the whole process — the Supervisor always gets a chance to
// restart it.
func (s *Supervisor) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v\n%s", r, debug.Stack())
		}
	}()
	return s.engine.Start(ctx)
}
