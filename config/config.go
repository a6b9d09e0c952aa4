// Package config loads the daemon's INI configuration file and exposes
// its sections as typed accessors.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// ErrNotFound is returned when no configuration file could be located in
// any of the search directories.
var ErrNotFound = fmt.Errorf("config: no shotgunEventDaemon.conf found in search path")

const configFileName = "shotgunEventDaemon.conf"

// Config wraps a parsed INI file with accessors for every recognised
// section/option. Construction never mutates process state; callers decide
// what to do with the returned values (e.g. creating logPath directories).
type Config struct {
	file *ini.File
}

// Locate walks the standard search order — the directory containing argv0,
// then /etc, then installDir (the directory containing this binary's
// install prefix, passed in by the caller) — and returns the path to the
// first shotgunEventDaemon.conf found. Returns ErrNotFound if none exist.
func Locate(argv0, installDir string) (string, error) {
	dirs := []string{filepath.Dir(argv0), "/etc", installDir}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", ErrNotFound
}

// Load parses the INI file at path. Environment variables are available to
// ini.v1's ValueMapper via os.Getenv when option values use the ${VAR} form.
func Load(path string) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	f.ValueMapper = os.ExpandEnv
	return &Config{file: f}, nil
}

func (c *Config) section(name string) *ini.Section {
	return c.file.Section(name)
}

// ShotgunURL returns the [shotgun] server option, or "" if unset (callers
// fall back to their own discovery mechanism, e.g. secrets.HostLookup).
func (c *Config) ShotgunURL() string {
	return strings.TrimSpace(c.section("shotgun").Key("server").String())
}

// EngineScriptName returns the [shotgun] name option.
func (c *Config) EngineScriptName() string {
	return c.section("shotgun").Key("name").String()
}

// EngineScriptKey returns the [shotgun] key option, and whether it was
// present at all — the secret-store fallback gates on presence of this
// option, not of "server".
func (c *Config) EngineScriptKey() (key string, present bool) {
	k := c.section("shotgun").Key("key")
	if k.String() == "" {
		return "", c.section("shotgun").HasKey("key")
	}
	return k.String(), true
}

// EngineProxyServer returns the [shotgun] proxy_server option, or "" if
// unset or blank.
func (c *Config) EngineProxyServer() string {
	return strings.TrimSpace(c.section("shotgun").Key("proxy_server").String())
}

// UseSessionUUID reports whether [shotgun] use_session_uuid is enabled.
func (c *Config) UseSessionUUID() bool {
	return c.section("shotgun").Key("use_session_uuid").MustBool(false)
}

// EventIDFile returns the [daemon] eventIdFile option — the path of the
// cursor state file engine.StateStore reads and writes (gob blob, with a
// legacy single-integer format still accepted on read).
func (c *Config) EventIDFile() string {
	return c.section("daemon").Key("eventIdFile").String()
}

// PluginPaths returns the [plugins] paths option split on commas, with
// whitespace trimmed from each entry.
func (c *Config) PluginPaths() []string {
	raw := c.section("plugins").Key("paths").String()
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MaxConnRetries returns [daemon] max_conn_retries, default 3.
func (c *Config) MaxConnRetries() int {
	return c.section("daemon").Key("max_conn_retries").MustInt(3)
}

// ConnRetrySleep returns [daemon] conn_retry_sleep in seconds, default 15.
func (c *Config) ConnRetrySleep() int {
	return c.section("daemon").Key("conn_retry_sleep").MustInt(15)
}

// FetchInterval returns [daemon] fetch_interval in seconds, default 10.
func (c *Config) FetchInterval() int {
	return c.section("daemon").Key("fetch_interval").MustInt(10)
}

// ConnSleep returns [daemon] conn_sleep in seconds, default 60 — the pause
// between Supervisor restarts of a crashed Engine loop.
func (c *Config) ConnSleep() int {
	return c.section("daemon").Key("conn_sleep").MustInt(60)
}

// MaxEventBatchSize returns [daemon] max_event_batch_size, default 500.
func (c *Config) MaxEventBatchSize() int {
	return c.section("daemon").Key("max_event_batch_size").MustInt(500)
}

// LogMode returns [daemon] logMode, default 0. The value is only read
// here; no logging setup in the daemon switches on it.
func (c *Config) LogMode() int {
	return c.section("daemon").Key("logMode").MustInt(0)
}

// LogLevel returns [daemon] logging as a numeric level, default 30 (the
// original daemon's warning level; not a log.LogLevel value). The value is
// only read here; nothing passes it to log.SetLevel.
func (c *Config) LogLevel() int {
	return c.section("daemon").Key("logging").MustInt(int(30))
}

// LogFile resolves the [daemon] logFile/logPath pair into a single path,
// creating logPath if it doesn't exist. Returns an error if logFile is
// absent, or if logPath exists and is not a directory.
func (c *Config) LogFile() (string, error) {
	filename := c.section("daemon").Key("logFile").String()
	if filename == "" {
		return "", fmt.Errorf("config: the config file has no logFile option")
	}
	path, ok := c.section("daemon").Key("logPath").String(), c.section("daemon").HasKey("logPath")
	if !ok || path == "" {
		return filename, nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return "", fmt.Errorf("config: failed to create logPath %s: %w", path, mkErr)
		}
	} else if err != nil {
		return "", err
	} else if !info.IsDir() {
		return "", fmt.Errorf("config: logPath %s must be a directory", path)
	}
	return filepath.Join(path, filename), nil
}

// TimingLogFile returns the timing-log path (LogFile()+".timing") when
// [daemon] timing_log is "on", or "" otherwise.
func (c *Config) TimingLogFile() (string, error) {
	if c.section("daemon").Key("timing_log").String() != "on" {
		return "", nil
	}
	base, err := c.LogFile()
	if err != nil {
		return "", err
	}
	return base + ".timing", nil
}

// ConsoleFormat returns [daemon] console_format: "pretty" (default, colored
// human-readable), "text" or "json". "text" passes records through
// unformatted, so its output is the same JSON lines as "json".
func (c *Config) ConsoleFormat() string {
	if f := c.section("daemon").Key("console_format").String(); f != "" {
		return f
	}
	return "pretty"
}

// ConsoleColor reports whether [daemon] console_color is enabled, default
// true. Ignored when ConsoleFormat is "json".
func (c *Config) ConsoleColor() bool {
	return c.section("daemon").Key("console_color").MustBool(true)
}

// IsBatchMode reports whether [daemon] batch_plugin is "on".
func (c *Config) IsBatchMode() bool {
	return c.section("daemon").Key("batch_plugin").String() == "on"
}

// ServiceName returns [daemon] service_name, used for process naming and
// as the "service.name" log field.
func (c *Config) ServiceName() string {
	if n := c.section("daemon").Key("service_name").String(); n != "" {
		return n
	}
	return "shotgunEventDaemon"
}

// SMTP bundles [emails] into one struct; Server == "" means email alerting
// is disabled.
type SMTP struct {
	Server    string
	Port      int
	From      string
	To        []string
	Subject   string
	Username  string
	Password  string
	UseTLS    bool
	Configured bool
}

// Email returns the [emails] section, or SMTP{} with Configured=false if
// no server is set.
func (c *Config) Email() SMTP {
	sec := c.section("emails")
	server := sec.Key("server").String()
	if server == "" {
		return SMTP{}
	}
	var to []string
	for _, a := range strings.Split(sec.Key("to").String(), ",") {
		if a = strings.TrimSpace(a); a != "" {
			to = append(to, a)
		}
	}
	return SMTP{
		Server:     server,
		Port:       sec.Key("port").MustInt(25),
		From:       sec.Key("from").String(),
		To:         to,
		Subject:    sec.Key("subject").String(),
		Username:   sec.Key("username").String(),
		Password:   sec.Key("password").String(),
		UseTLS:     sec.Key("useTLS").MustBool(false),
		Configured: true,
	}
}

// SentryDSN returns [sentry] sentry_dsn, or "" if unset.
func (c *Config) SentryDSN() string {
	return c.section("sentry").Key("sentry_dsn").String()
}

// OTLPEndpoint returns [tracing] otlp_endpoint, or "" to select the no-op
// tracing/metrics exporter (tracing is always optional, never fatal).
func (c *Config) OTLPEndpoint() string {
	return c.section("tracing").Key("otlp_endpoint").String()
}

// PluginTransport returns [daemon] plugin_transport: "inprocess" (default,
// compiled-in registry) or "remote" (out-of-process over a Unix socket).
func (c *Config) PluginTransport() string {
	v := c.section("daemon").Key("plugin_transport").String()
	if v == "" {
		return "inprocess"
	}
	return v
}
