package dist

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/armen/ergyre/term"
)

type recordingHandler struct {
	mu       sync.Mutex
	received []ControlMessage
	gotClose chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{gotClose: make(chan struct{})}
}

func (h *recordingHandler) HandleControl(m ControlMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, m)
}

func (h *recordingHandler) HandleDisconnect(error) {
	close(h.gotClose)
}

func (h *recordingHandler) snapshot() []ControlMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ControlMessage, len(h.received))
	copy(out, h.received)
	return out
}

func TestConnectionRoundTripsRegSend(t *testing.T) {
	a, b := net.Pipe()

	clientHandler := newRecordingHandler()
	serverHandler := newRecordingHandler()

	client := NewConnection(a, clientHandler, 0, "client@host", "cookie")
	server := NewConnection(b, serverHandler, 0, "server@host", "cookie")
	client.Start()
	server.Start()
	defer client.Close()
	defer server.Close()

	from := term.Pid{Node: "client@host", Id: 1, Serial: 0, Creation: 1}
	msg := ControlMessage{
		Op:      OpRegSend,
		From:    from,
		To:      term.NewAtom("net_kernel"),
		Payload: term.Tuple{term.NewAtom("$gen_call"), term.NewAtom("hello")},
	}

	if err := client.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(serverHandler.snapshot()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := serverHandler.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected exactly one control message delivered, got %d", len(got))
	}
	if got[0].Op != OpRegSend {
		t.Fatalf("expected OpRegSend, got %v", got[0].Op)
	}
	if got[0].From != from {
		t.Fatalf("expected from %+v, got %+v", from, got[0].From)
	}
	toAtom, ok := got[0].To.(term.Atom)
	if !ok || toAtom != "net_kernel" {
		t.Fatalf("expected To=net_kernel, got %+v", got[0].To)
	}
	if got[0].Payload == nil {
		t.Fatalf("expected a payload term")
	}
}

func TestConnectionTickIsIgnoredNotDispatched(t *testing.T) {
	a, b := net.Pipe()
	clientHandler := newRecordingHandler()
	serverHandler := newRecordingHandler()

	client := NewConnection(a, clientHandler, 20*time.Millisecond, "client@host", "cookie")
	server := NewConnection(b, serverHandler, 0, "server@host", "cookie")
	client.Start()
	server.Start()
	defer client.Close()
	defer server.Close()

	time.Sleep(80 * time.Millisecond)
	if len(serverHandler.snapshot()) != 0 {
		t.Fatalf("ticks must not be dispatched as control messages")
	}

	// The server's reader must answer each tick with a zero-length tock;
	// the client's own reader must see it as a plain 4-byte-zero frame,
	// never as a dispatched control message.
	if len(clientHandler.snapshot()) != 0 {
		t.Fatalf("tocks must not be dispatched as control messages either")
	}
}

func TestConnectionAnswersTickWithTock(t *testing.T) {
	a, b := net.Pipe()

	handler := newRecordingHandler()
	server := NewConnection(b, handler, 0, "server@host", "cookie")
	server.Start()
	defer server.Close()

	// Write a raw zero-length tick frame straight onto the wire, as a
	// peer's ticker would, and read the tock frame that comes back.
	if _, err := a.Write([]byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("write tick: %v", err)
	}

	reply := make([]byte, 4)
	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(a, reply); err != nil {
		t.Fatalf("expected a tock frame, got error: %v", err)
	}
	if !bytes.Equal(reply, []byte{0, 0, 0, 0}) {
		t.Fatalf("expected a zero-length tock frame, got %v", reply)
	}
}

func TestConnectionDisconnectNotifiesHandler(t *testing.T) {
	a, b := net.Pipe()
	clientHandler := newRecordingHandler()
	serverHandler := newRecordingHandler()

	client := NewConnection(a, clientHandler, 0, "client@host", "cookie")
	server := NewConnection(b, serverHandler, 0, "server@host", "cookie")
	client.Start()
	server.Start()

	client.Close()

	select {
	case <-serverHandler.gotClose:
	case <-time.After(2 * time.Second):
		t.Fatal("expected server handler to observe disconnect")
	}
}
