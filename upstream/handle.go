package upstream

import "sync/atomic"

// Handle is the per-callback binding to the upstream service: the
// credentials a single registered callback authenticates with, plus the
// optional UI-correlation session id. Each Callback owns exactly one
// Handle, constructed once at registration time.
type Handle struct {
	Client      Client
	ScriptName  string
	ScriptKey   string
	sessionUUID atomic.Value // string
}

// NewHandle binds client to a script identity.
func NewHandle(client Client, scriptName, scriptKey string) *Handle {
	return &Handle{Client: client, ScriptName: scriptName, ScriptKey: scriptKey}
}

// SetSessionUUID attaches a session id used by the upstream UI to
// correlate actions performed by this callback invocation.
func (h *Handle) SetSessionUUID(id string) {
	h.sessionUUID.Store(id)
}

// SessionUUID returns the currently set session id, or "" if none.
func (h *Handle) SessionUUID() string {
	if v := h.sessionUUID.Load(); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
