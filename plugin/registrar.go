package plugin

import (
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"github.com/go-lynx/eventdaemon/log"
	"github.com/go-lynx/eventdaemon/secrets"
	"github.com/go-lynx/eventdaemon/timing"
	"github.com/go-lynx/eventdaemon/upstream"
)

// CallbackOption configures a single RegisterCallback call.
type CallbackOption func(*callbackOptions)

type callbackOptions struct {
	filter      *Filter
	args        map[string]any
	stopOnError bool
	batch       BatchFunc
	useSession  bool
}

// WithFilter sets the event filter a callback matches against. Defaults
// to AnyEvent() if never set.
func WithFilter(f *Filter) CallbackOption {
	return func(o *callbackOptions) { o.filter = f }
}

// WithArgs attaches an opaque argument bag passed through to the callback
// unmodified on every invocation.
func WithArgs(args map[string]any) CallbackOption {
	return func(o *callbackOptions) { o.args = args }
}

// WithStopOnError marks the callback to deactivate itself the first time
// its handler returns a non-nil error.
func WithStopOnError() CallbackOption {
	return func(o *callbackOptions) { o.stopOnError = true }
}

// WithBatch selects the BatchCallback variant instead of a single-event
// Func. Only meaningful when the daemon runs in batch mode.
func WithBatch(fn BatchFunc) CallbackOption {
	return func(o *callbackOptions) { o.batch = fn }
}

// WithSessionCorrelation forces stamping the upstream Handle's
// SessionUUID from each event before invocation, for UI correlation,
// overriding the daemon-wide use_session_uuid default for this callback.
func WithSessionCorrelation() CallbackOption {
	return func(o *callbackOptions) { o.useSession = true }
}

// Registrar is the minimal façade exposed to plugin registration code. Its
// method set is fixed at compile time, so there is no way for plugin code
// to reach beyond the methods declared here.
type Registrar struct {
	registry        *Registry
	pluginName      string
	client          upstream.Client
	secrets         *secrets.Cache
	timing          TimingFactory
	useSession      bool
	callbacks       []*Callback
	emailRecipients []string
}

// EmailRecipients returns the recipient list most recently set via
// SetEmails. Nothing else in the daemon reads it.
func (r *Registrar) EmailRecipients() []string { return r.emailRecipients }

// TimingFactory builds the timing.Sink a newly registered callback reports
// to; returning nil disables timing records for that callback.
type TimingFactory func(callbackName string) timing.Sink

func newRegistrar(reg *Registry, pluginName string) *Registrar {
	return &Registrar{registry: reg, pluginName: pluginName}
}

// Bind attaches the shared upstream client, credential cache and
// session-correlation default a Collection uses for every plugin it
// loads. Plugin.Load calls it on the fresh Registrar it builds for each
// (re)load, before registration runs.
func (r *Registrar) Bind(client upstream.Client, cache *secrets.Cache, timing TimingFactory, useSession bool) {
	r.client = client
	r.secrets = cache
	r.timing = timing
	r.useSession = useSession
}

// Logger returns this plugin's own log.Helper (see log.PluginLogger):
// every callback a plugin registers shares one sink tagged with its
// plugin name, rather than reaching through a process-global logger.
func (r *Registrar) Logger() *kratoslog.Helper {
	return log.PluginLogger(r.pluginName)
}

// SetEmails records a recipient list on the Registrar (see
// EmailRecipients) rather than placing a literal SMTP call from plugin
// code. The daemon has no email transport, so no message is sent to
// these recipients.
func (r *Registrar) SetEmails(recipients ...string) {
	r.emailRecipients = recipients
}

// RegisterCallback builds a fresh upstream.Handle bound to scriptName and
// scriptKey exactly as given (the credential cache is not consulted), and
// appends a Callback (or BatchCallback, via WithBatch) to the plugin
// currently being loaded.
func (r *Registrar) RegisterCallback(scriptName, scriptKey string, fn Func, opts ...CallbackOption) error {
	o := callbackOptions{filter: AnyEvent(), useSession: r.useSession}
	for _, opt := range opts {
		opt(&o)
	}

	handle := upstream.NewHandle(r.client, scriptName, scriptKey)
	reg := registration{
		filter:      o.filter,
		args:        o.args,
		stopOnError: o.stopOnError,
		handle:      handle,
		logger:      r.Logger(),
		useSession:  o.useSession,
	}
	if r.timing != nil {
		reg.timing = r.timing(scriptName)
	}

	if o.batch != nil {
		reg.name = scriptName
		r.callbacks = append(r.callbacks, newBatchCallback(reg, o.batch))
		return nil
	}
	reg.name = scriptName
	r.callbacks = append(r.callbacks, newCallback(reg, fn))
	return nil
}
