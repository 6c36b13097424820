package node

import (
	"context"
	"testing"
	"time"

	"github.com/armen/ergyre/epmd"
	"github.com/armen/ergyre/node/identity"
	"github.com/armen/ergyre/term"
)

func mustIdentity(t *testing.T, alive string) identity.Identity {
	t.Helper()
	id, err := identity.Parse(alive+"@127.0.0.1", "sharedcookie")
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	return id
}

func TestLocalSendAndReceive(t *testing.T) {
	n := New(mustIdentity(t, "solo"))
	defer n.Close()

	mb := n.Spawn()
	if err := mb.Register("echo"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := n.sendFrom(term.Pid{}, term.NewAtom("echo"), term.NewAtom("hi")); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := mb.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if a, ok := got.(term.Atom); !ok || a != "hi" {
		t.Fatalf("expected atom hi, got %+v", got)
	}
}

func TestWhereisResolvesRegisteredName(t *testing.T) {
	n := New(mustIdentity(t, "solo"))
	defer n.Close()

	mb := n.Spawn()
	mb.Register("svc")

	pid, ok := n.Whereis("svc")
	if !ok || pid != mb.Self() {
		t.Fatalf("expected to resolve svc to %+v, got %+v ok=%v", mb.Self(), pid, ok)
	}
}

func TestDuplicateRegisterRejected(t *testing.T) {
	n := New(mustIdentity(t, "solo"))
	defer n.Close()

	n.Spawn().Register("dup")
	if err := n.Spawn().Register("dup"); err != ErrNameTaken {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
}

func startEmbeddedEPMD(t *testing.T) *epmd.Server {
	t.Helper()
	srv := epmd.NewServer()
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("start embedded epmd: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func epmdClientFor(srv *epmd.Server) *epmd.Client {
	host, portStr, _ := splitHostPortHelper(srv.Addr().String())
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}
	return &epmd.Client{Host: host, Port: port, DialTimeout: 2 * time.Second}
}

func splitHostPortHelper(addr string) (string, string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return addr, "", nil
}

func TestTwoNodesPingOverLoopback(t *testing.T) {
	srv := startEmbeddedEPMD(t)
	client := epmdClientFor(srv)

	idA := mustIdentity(t, "nodea")
	idB := mustIdentity(t, "nodeb")

	a := New(idA, WithEPMDClient(client))
	b := New(idB, WithEPMDClient(client))
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := a.Listen(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("a.Listen: %v", err)
	}
	if err := b.Listen(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("b.Listen: %v", err)
	}

	ok, err := a.Ping(ctx, idB.FullName())
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !ok {
		t.Fatalf("expected ping to succeed")
	}
}

func TestLinkBreaksOnDisconnect(t *testing.T) {
	srv := startEmbeddedEPMD(t)
	client := epmdClientFor(srv)

	idA := mustIdentity(t, "linka")
	idB := mustIdentity(t, "linkb")

	a := New(idA, WithEPMDClient(client))
	b := New(idB, WithEPMDClient(client))
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := a.Listen(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("a.Listen: %v", err)
	}
	if err := b.Listen(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("b.Listen: %v", err)
	}

	localMb := a.Spawn()
	remoteMb := b.Spawn()

	if err := a.Connect(ctx, idB.FullName()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := localMb.Link(remoteMb.Self()); err != nil {
		t.Fatalf("link: %v", err)
	}

	time.Sleep(100 * time.Millisecond) // let the LINK control message land
	b.Close()

	rctx, rcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer rcancel()
	_, err := localMb.Receive(rctx)
	exited, ok := err.(*ExitedError)
	if !ok {
		t.Fatalf("expected an *ExitedError after disconnect, got %v", err)
	}
	if reason, ok := exited.Reason.(term.Atom); !ok || reason != "noconnection" {
		t.Fatalf("expected reason noconnection, got %+v", exited.Reason)
	}
	if from, ok := exited.From.(term.Atom); !ok || from != term.NewAtom(idB.FullName()) {
		t.Fatalf("expected from %q, got %+v", idB.FullName(), exited.From)
	}
}
