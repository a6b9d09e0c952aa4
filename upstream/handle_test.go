package upstream

import "testing"

func TestHandleSessionUUIDDefaultsEmpty(t *testing.T) {
	h := NewHandle(nil, "test-script", "s3cr3t")
	if got := h.SessionUUID(); got != "" {
		t.Fatalf("SessionUUID before any Set = %q, want empty", got)
	}
}

func TestHandleSetSessionUUIDRoundTrip(t *testing.T) {
	h := NewHandle(nil, "test-script", "s3cr3t")
	h.SetSessionUUID("abc-123")
	if got := h.SessionUUID(); got != "abc-123" {
		t.Fatalf("SessionUUID = %q, want abc-123", got)
	}
	h.SetSessionUUID("xyz-789")
	if got := h.SessionUUID(); got != "xyz-789" {
		t.Fatalf("SessionUUID after second Set = %q, want xyz-789", got)
	}
}

func TestNewHandleBindsScriptIdentity(t *testing.T) {
	h := NewHandle(nil, "test-script", "s3cr3t")
	if h.ScriptName != "test-script" {
		t.Fatalf("ScriptName = %q, want test-script", h.ScriptName)
	}
	if h.ScriptKey != "s3cr3t" {
		t.Fatalf("ScriptKey = %q, want s3cr3t", h.ScriptKey)
	}
}
