package log

import (
	"sync"

	"github.com/go-kratos/kratos/v2/log"
)

// pluginSinks is the explicit sink registry keyed by plugin name: rather
// than a process-global logger hierarchy rooted at a per-plugin file
// path, each plugin gets its own *log.Helper built once at load time and
// handed to its Callbacks as a capability, never reached for through a
// package-global lookup from inside callback code.
var pluginSinks = struct {
	mu    sync.Mutex
	sinks map[string]*log.Helper
}{sinks: make(map[string]*log.Helper)}

// PluginLogger returns the *log.Helper for the named plugin, creating one
// on first use. Every subsequent call for the same name returns the same
// Helper instance, so two callbacks of the same plugin share one sink.
func PluginLogger(name string) *log.Helper {
	pluginSinks.mu.Lock()
	defer pluginSinks.mu.Unlock()

	if h, ok := pluginSinks.sinks[name]; ok {
		return h
	}

	base := Logger
	if base == nil {
		base = log.DefaultLogger
	}
	h := log.NewHelper(log.With(base, "plugin.name", name))
	pluginSinks.sinks[name] = h
	return h
}

// ResetPluginLoggers drops every cached per-plugin sink, forcing the next
// PluginLogger call for each name to rebuild against the current global
// Logger. Ordinary plugin reload does not call it.
func ResetPluginLoggers() {
	pluginSinks.mu.Lock()
	defer pluginSinks.mu.Unlock()
	pluginSinks.sinks = make(map[string]*log.Helper)
}
