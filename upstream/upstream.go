// Package upstream provides the thin typed client over the remote
// project-management service's event log: fetching the current high-water
// mark and ordered batches of events strictly greater than a given id.
package upstream

import (
	"context"
	"errors"
	"time"
)

// Event is a single entry from the upstream event log.
type Event struct {
	ID            int64
	EventType     string
	AttributeName string
	CreatedAt     time.Time
	SessionUUID   string
	Meta          map[string]any
}

// Client is the upstream's event-log surface. Implementations must return
// events in strictly ascending ID order with no gaps introduced by the
// client itself (gaps in the upstream's own numbering are a normal
// condition the caller's gap/backlog tracker handles).
type Client interface {
	// MaxEventID returns the highest event id currently known to the
	// upstream, or (0, false) if the log is empty.
	MaxEventID(ctx context.Context) (int64, bool, error)

	// EventsSince returns up to limit events with ID > afterID, ordered
	// ascending by ID.
	EventsSince(ctx context.Context, afterID int64, limit int) ([]Event, error)
}

// Error taxonomy for callers that classify upstream failures. The
// engine's retry policy (engine.withRetry) does not consult it: it
// retries every error the same way.
type protocolError struct{ msg string }

func (e *protocolError) Error() string { return "upstream protocol error: " + e.msg }

type responseError struct{ msg string }

func (e *responseError) Error() string { return "upstream response error: " + e.msg }

// ErrProtocol wraps a transport-level failure (connection refused, DNS,
// TLS handshake, timeout) that a retry may plausibly recover from.
func ErrProtocol(msg string) error { return &protocolError{msg: msg} }

// ErrResponse wraps a non-2xx/garbled response from a reachable upstream.
func ErrResponse(msg string) error { return &responseError{msg: msg} }

// IsProtocolError reports whether err is (or wraps) a protocol-level error.
func IsProtocolError(err error) bool {
	var pe *protocolError
	return errors.As(err, &pe)
}

// IsResponseError reports whether err is (or wraps) a response-level error.
func IsResponseError(err error) bool {
	var re *responseError
	return errors.As(err, &re)
}
