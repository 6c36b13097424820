package epmd

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"
)

func startTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	srv := NewServer()
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	host, portStr, err := net.SplitHostPort(srv.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return srv, &Client{Host: host, Port: port, DialTimeout: 2 * time.Second}
}

func TestRegisterThenLookup(t *testing.T) {
	_, client := startTestServer(t)
	ctx := context.Background()

	reg, err := client.Register(ctx, "foo", 9999, 6, 5)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer reg.Close()
	if reg.Creation == 0 {
		t.Fatalf("expected nonzero creation")
	}

	info, err := client.Lookup(ctx, "foo")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if info.Port != 9999 || info.Name != "foo" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestLookupMissingReturnsErrNotRegistered(t *testing.T) {
	_, client := startTestServer(t)
	_, err := client.Lookup(context.Background(), "nobody")
	if err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestNamesListsRegistered(t *testing.T) {
	_, client := startTestServer(t)
	ctx := context.Background()

	reg, err := client.Register(ctx, "bar", 1234, 6, 5)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer reg.Close()

	_, names, err := client.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	found := false
	for _, n := range names {
		if n.Name == "bar" && n.Port == 1234 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to find bar in %+v", names)
	}
}

func TestRegistrationClosedUnregisters(t *testing.T) {
	_, client := startTestServer(t)
	ctx := context.Background()

	reg, err := client.Register(ctx, "baz", 4321, 6, 5)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	reg.Close()

	// give the server goroutine a moment to notice the close
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := client.Lookup(ctx, "baz"); err == ErrNotRegistered {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected baz to be unregistered after connection close")
}

func TestStopRemovesName(t *testing.T) {
	_, client := startTestServer(t)
	ctx := context.Background()

	reg, err := client.Register(ctx, "qux", 5555, 6, 5)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer reg.Close()

	if err := client.Stop(ctx, "qux"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := client.Lookup(ctx, "qux"); err != ErrNotRegistered {
		t.Fatalf("expected qux gone after stop, got %v", err)
	}
}

func TestPortOverride(t *testing.T) {
	t.Setenv("ERL_EPMD_PORT", "4370")
	if p := Port(); p != 4370 {
		t.Fatalf("expected override 4370, got %d", p)
	}
	t.Setenv("ERL_EPMD_PORT", "")
	if p := Port(); p != DefaultPort {
		t.Fatalf("expected default %d, got %d", DefaultPort, p)
	}
}
