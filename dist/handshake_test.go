package dist

import (
	"net"
	"testing"
	"time"

	"github.com/armen/ergyre/node/identity"
)

func testIdentity(t *testing.T, alive, cookie string) identity.Identity {
	t.Helper()
	id, err := identity.Parse(alive+"@host", cookie)
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	id.Creation = 1
	return id
}

func TestHandshakeSucceedsWithMatchingCookie(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientID := testIdentity(t, "client", "secret")
	serverID := testIdentity(t, "server", "secret")

	type result struct {
		session Session
		err     error
	}
	clientResult := make(chan result, 1)
	serverResult := make(chan result, 1)

	go func() {
		s, err := Initiate(clientConn, clientID)
		clientResult <- result{s, err}
	}()
	go func() {
		s, err := Accept(serverConn, serverID)
		serverResult <- result{s, err}
	}()

	cr := waitResult(t, clientResult)
	sr := waitResult(t, serverResult)

	if cr.err != nil {
		t.Fatalf("initiator handshake failed: %v", cr.err)
	}
	if sr.err != nil {
		t.Fatalf("acceptor handshake failed: %v", sr.err)
	}
	if cr.session.PeerName != serverID.FullName() {
		t.Fatalf("client saw peer name %q, want %q", cr.session.PeerName, serverID.FullName())
	}
	if sr.session.PeerName != clientID.FullName() {
		t.Fatalf("server saw peer name %q, want %q", sr.session.PeerName, clientID.FullName())
	}
}

func TestHandshakeFailsOnCookieMismatch(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientID := testIdentity(t, "client", "secret-a")
	serverID := testIdentity(t, "server", "secret-b")

	clientErr := make(chan error, 1)
	serverErr := make(chan error, 1)

	go func() {
		_, err := Initiate(clientConn, clientID)
		clientErr <- err
	}()
	go func() {
		_, err := Accept(serverConn, serverID)
		serverErr <- err
	}()

	ce := <-clientErr
	se := <-serverErr
	if ce == nil && se == nil {
		t.Fatalf("expected at least one side to detect the cookie mismatch")
	}
}

func waitResult[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handshake goroutine")
	}
	var zero T
	return zero
}
