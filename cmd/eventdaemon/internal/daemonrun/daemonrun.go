// Package daemonrun wires the ambient and domain stack (config, secrets,
// logging, tracing, upstream client, plugin collections) into a running
// engine.Engine behind a supervisor.Supervisor — the one path both the
// foreground CLI command and (indirectly, via the generated systemd
// unit's ExecStart) the installed service take to actually run the
// daemon.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-lynx/eventdaemon/config"
	"github.com/go-lynx/eventdaemon/engine"
	"github.com/go-lynx/eventdaemon/log"
	"github.com/go-lynx/eventdaemon/plugin"
	"github.com/go-lynx/eventdaemon/secrets"
	"github.com/go-lynx/eventdaemon/supervisor"
	"github.com/go-lynx/eventdaemon/timing"
	"github.com/go-lynx/eventdaemon/tracing"
	"github.com/go-lynx/eventdaemon/upstream"
)

// ResolveConfigPath applies §6's search order: the directory of argv0,
// then /etc, then the directory containing this binary's install prefix.
func ResolveConfigPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	installDir := filepath.Dir(filepath.Dir(exe)) // .../bin/eventdaemon -> install prefix
	return config.Locate(exe, installDir)
}

// Run loads configuration from cfgPath, wires every ambient/domain
// component and blocks inside supervisor.Supervisor.Run until ctx is
// cancelled or a termination signal is observed. showBanner controls the
// startup banner; the `foreground` command, which the generated systemd
// unit also runs, always passes true.
func Run(ctx context.Context, cfgPath string, showBanner bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("daemonrun: %w", err)
	}

	logFile, err := cfg.LogFile()
	if err != nil {
		log.Warnf("daemonrun: no log file configured (%v), logging to stdout only", err)
	}
	if err := log.InitLogger(cfg.ServiceName(), hostname(), version, showBanner, cfg.ConsoleFormat(), cfg.ConsoleColor()); err != nil {
		return fmt.Errorf("daemonrun: failed to initialize logging: %w", err)
	}
	if logFile != "" {
		log.Infof("daemonrun: file logging target is %s (rotation wiring is the operator's systemd/logrotate policy)", logFile)
	}

	provider, err := tracing.Init(ctx, cfg.ServiceName(), cfg.OTLPEndpoint())
	if err != nil {
		log.Warnf("daemonrun: tracing init failed, continuing without it: %v", err)
	}
	defer provider.Shutdown(ctx)

	cache := buildSecretsCache()
	client, err := buildUpstreamClient(cfg, cache)
	if err != nil {
		return fmt.Errorf("daemonrun: %w", err)
	}

	timingFactory := buildTimingFactory(cfg)

	collections := make([]*plugin.Collection, 0, len(cfg.PluginPaths()))
	for _, p := range cfg.PluginPaths() {
		c := plugin.NewCollection(p, client, cache, timingFactory, cfg.UseSessionUUID())
		c.EnableWatcher()
		collections = append(collections, c)
	}
	if len(collections) == 0 {
		log.Warnf("daemonrun: no [plugins] paths configured, the daemon will poll but dispatch nothing")
	}

	store := engine.NewStateStore(cfg.EventIDFile())
	eng := engine.New(cfg, client, engine.RealClock{}, store, collections)

	sup := supervisor.New(eng, time.Duration(cfg.ConnSleep())*time.Second)
	return sup.Run(ctx)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// version is overridden at link time via -ldflags.
var version = "dev"

func buildUpstreamClient(cfg *config.Config, cache *secrets.Cache) (upstream.Client, error) {
	baseURL := cfg.ShotgunURL()

	if baseURL == "" {
		host, err := cache.Host()
		if err != nil {
			return nil, fmt.Errorf("no [shotgun] server configured and host lookup failed: %w", err)
		}
		baseURL = host
	}

	scriptName := cfg.EngineScriptName()
	keyValue, keyPresent := cfg.EngineScriptKey()
	key, err := secrets.ResolveKey(keyPresent, keyValue, scriptName, cache)
	if err != nil {
		return nil, err
	}

	// UseSessionUUID governs per-callback session correlation (see
	// plugin.WithSessionCorrelation and upstream.Handle.SetSessionUUID),
	// not this shared client, which has no session identity of its own.
	opts := []upstream.HTTPClientOption{}
	if p := cfg.EngineProxyServer(); p != "" {
		opts = append(opts, upstream.WithProxy(p))
	}
	return upstream.NewHTTPClient(baseURL, scriptName, key, opts...), nil
}

func buildSecretsCache() *secrets.Cache {
	fallback := secrets.EnvLookup{HostVar: "SHOTGUN_HOST", SecretPrefix: "SHOTGUN_SECRET_"}
	return secrets.NewCache(fallback, fallback)
}

func buildTimingFactory(cfg *config.Config) plugin.TimingFactory {
	path, err := cfg.TimingLogFile()
	if err != nil || path == "" {
		if err != nil {
			log.Warnf("daemonrun: timing log disabled: %v", err)
		}
		return func(string) timing.Sink { return timing.NoopSink{} }
	}

	writer := log.NewTimeRotationWriter(path, 50, 10, 30, true, log.RotationStrategyBoth, log.RotationIntervalDaily, 0)
	sink := timing.NewFileSink(writer)
	return func(string) timing.Sink { return sink }
}
