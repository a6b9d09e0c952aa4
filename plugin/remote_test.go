package plugin

import (
	"context"
	"encoding/gob"
	"net"
	"path/filepath"
	"testing"
	"time"
)

// fakeRemoteServer listens on a unix socket and answers exactly the
// protocol remoteEndpoint speaks, so handshake/remoteFunc/remoteBatchFunc
// can be exercised without a real out-of-process plugin.
type fakeRemoteServer struct {
	ln        net.Listener
	handshake RemoteCallbackResponse
	invoke    RemoteCallbackResponse
}

func startFakeRemoteServer(t *testing.T, socketPath string) *fakeRemoteServer {
	t.Helper()
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeRemoteServer{ln: ln}
	go s.serve(t)
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeRemoteServer) serve(t *testing.T) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(t, conn)
	}
}

func (s *fakeRemoteServer) handle(t *testing.T, conn net.Conn) {
	defer conn.Close()
	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)
	for {
		var req RemoteCallbackRequest
		if err := dec.Decode(&req); err != nil {
			return
		}
		var resp RemoteCallbackResponse
		switch req.Type {
		case MsgHandshake:
			resp = s.handshake
		default:
			resp = s.invoke
		}
		if err := enc.Encode(&resp); err != nil {
			return
		}
	}
}

func TestRemoteEndpointHandshakeBuildsCallbacks(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "plugin.sock")
	startFakeRemoteServer(t, socketPath).handshake = RemoteCallbackResponse{
		Callbacks: []RemoteCallbackDescriptor{
			{Name: "single", EventTypes: []string{"Shotgun_Task_Change"}, AllAttrs: map[string]bool{"Shotgun_Task_Change": true}},
			{Name: "batch", EventTypes: []string{"Shotgun_Task_Change"}, Batch: true, StopOnError: true},
		},
	}

	ep, err := dialRemote(context.Background(), socketPath)
	if err != nil {
		t.Fatalf("dialRemote: %v", err)
	}
	defer ep.close()

	callbacks, err := ep.handshake(context.Background())
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if len(callbacks) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(callbacks))
	}
	if callbacks[0].Name() != "single" || callbacks[1].Name() != "batch" {
		t.Fatalf("unexpected callback names: %s, %s", callbacks[0].Name(), callbacks[1].Name())
	}
	if !callbacks[1].state.stopOnError {
		t.Fatal("expected the batch callback's stopOnError to carry over from the descriptor")
	}
}

func TestRemoteEndpointForwardsInvocationsAndErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "plugin.sock")
	server := startFakeRemoteServer(t, socketPath)
	server.handshake = RemoteCallbackResponse{
		Callbacks: []RemoteCallbackDescriptor{{Name: "single", EventTypes: []string{"Shotgun_Task_Change"}, AllAttrs: map[string]bool{"Shotgun_Task_Change": true}}},
	}

	ep, err := dialRemote(context.Background(), socketPath)
	if err != nil {
		t.Fatalf("dialRemote: %v", err)
	}
	defer ep.close()

	callbacks, err := ep.handshake(context.Background())
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	cb := callbacks[0]

	server.invoke = RemoteCallbackResponse{}
	if err := cb.Invoke(context.Background(), ev(1, time.Now()), time.Second); err != nil {
		t.Fatalf("expected a clean remote invocation to succeed, got %v", err)
	}

	server.invoke = RemoteCallbackResponse{Error: "handler blew up"}
	if err := cb.Invoke(context.Background(), ev(2, time.Now()), time.Second); err == nil {
		t.Fatal("expected the remote error to propagate")
	}

	server.invoke = RemoteCallbackResponse{Panic: "nil pointer dereference"}
	if err := cb.Invoke(context.Background(), ev(3, time.Now()), time.Second); err == nil {
		t.Fatal("expected the remote panic to propagate as an error")
	}
}

func TestDialRemoteFailsForMissingSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "absent.sock")
	if _, err := dialRemote(context.Background(), socketPath); err == nil {
		t.Fatal("expected dialRemote to fail when nothing is listening")
	}
}
