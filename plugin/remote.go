package plugin

import (
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	kratoslog "github.com/go-kratos/kratos/v2/log"

	"github.com/go-lynx/eventdaemon/upstream"
)

// Out-of-process plugin transport: a small length-delimited encoding/gob
// request/response protocol over a Unix-domain socket, standing in for
// real gRPC/protobuf. Generated .pb.go stubs need protoc, which this
// build cannot run and cannot verify by building; a hand-maintained gob
// codec only needs the standard library's encoding/gob, which is safe to
// write without a compiler in the loop. See DESIGN.md for the full
// rationale.

// RemoteMessageType tags which request/response shape follows on the wire.
type RemoteMessageType int

const (
	MsgHandshake RemoteMessageType = iota
	MsgInvoke
	MsgInvokeBatch
)

// RemoteCallbackRequest is sent by the Collection to a remote plugin.
type RemoteCallbackRequest struct {
	Type        RemoteMessageType
	CallbackName string
	Event       upstream.Event
	Events      []upstream.Event
	Args        map[string]any
}

// RemoteCallbackResponse is returned by a remote plugin.
type RemoteCallbackResponse struct {
	Callbacks []RemoteCallbackDescriptor // only set on MsgHandshake
	Error     string
	Panic     string
}

// RemoteCallbackDescriptor is one callback a remote plugin exposes,
// returned during the handshake so the Collection can build local
// Callback shells that forward Invoke calls over the wire.
type RemoteCallbackDescriptor struct {
	Name        string
	EventTypes  []string
	AllAttrs    map[string]bool
	Attrs       map[string][]string
	StopOnError bool
	Batch       bool
}

type remoteEndpoint struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder
}

func dialRemote(ctx context.Context, socketPath string) (*remoteEndpoint, error) {
	d := net.Dialer{Timeout: remoteDialTimeout}
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("remote plugin: dial %s: %w", socketPath, err)
	}
	return &remoteEndpoint{
		conn: conn,
		enc:  gob.NewEncoder(conn),
		dec:  gob.NewDecoder(conn),
	}, nil
}

func (e *remoteEndpoint) roundTrip(req RemoteCallbackRequest) (RemoteCallbackResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var resp RemoteCallbackResponse
	if err := e.enc.Encode(&req); err != nil {
		return resp, fmt.Errorf("remote plugin: encode request: %w", err)
	}
	if err := e.dec.Decode(&resp); err != nil {
		return resp, fmt.Errorf("remote plugin: decode response: %w", err)
	}
	return resp, nil
}

// handshake queries the remote plugin for its callback list and builds
// local Callback shells that forward invocations over the socket.
func (e *remoteEndpoint) handshake(ctx context.Context) ([]*Callback, error) {
	resp, err := e.roundTrip(RemoteCallbackRequest{Type: MsgHandshake})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("remote plugin: handshake error: %s", resp.Error)
	}

	out := make([]*Callback, 0, len(resp.Callbacks))
	for _, d := range resp.Callbacks {
		filter := NewFilter()
		for _, et := range d.EventTypes {
			if d.AllAttrs[et] {
				filter.WithAllAttributes(et)
			} else {
				filter.WithAttributes(et, d.Attrs[et]...)
			}
		}
		name, stopOnError := d.Name, d.StopOnError
		if d.Batch {
			out = append(out, newBatchCallback(registration{name: name, filter: filter, stopOnError: stopOnError},
				e.remoteBatchFunc(name)))
			continue
		}
		out = append(out, newCallback(registration{name: name, filter: filter, stopOnError: stopOnError},
			e.remoteFunc(name)))
	}
	return out, nil
}

// remoteFunc returns a Func that forwards a single-event invocation to the
// remote plugin over the wire.
func (e *remoteEndpoint) remoteFunc(name string) Func {
	return func(ctx context.Context, _ *upstream.Handle, _ *kratoslog.Helper, event upstream.Event, args map[string]any) error {
		resp, err := e.roundTrip(RemoteCallbackRequest{Type: MsgInvoke, CallbackName: name, Event: event, Args: args})
		if err != nil {
			return err
		}
		if resp.Panic != "" {
			return fmt.Errorf("remote plugin: callback %s panicked: %s", name, resp.Panic)
		}
		if resp.Error != "" {
			return fmt.Errorf("remote plugin: callback %s failed: %s", name, resp.Error)
		}
		return nil
	}
}

func (e *remoteEndpoint) remoteBatchFunc(name string) BatchFunc {
	return func(ctx context.Context, _ *upstream.Handle, _ *kratoslog.Helper, events []upstream.Event, args map[string]any) error {
		resp, err := e.roundTrip(RemoteCallbackRequest{Type: MsgInvokeBatch, CallbackName: name, Events: events, Args: args})
		if err != nil {
			return err
		}
		if resp.Panic != "" {
			return fmt.Errorf("remote plugin: callback %s panicked: %s", name, resp.Panic)
		}
		if resp.Error != "" {
			return fmt.Errorf("remote plugin: callback %s failed: %s", name, resp.Error)
		}
		return nil
	}
}

func (e *remoteEndpoint) close() error {
	return e.conn.Close()
}

// remoteDialTimeout bounds how long the Collection waits for a remote
// plugin socket to accept a connection during reload.
const remoteDialTimeout = 5 * time.Second
