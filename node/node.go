// Package node is the runtime: mailbox registry, peer connection table,
// EPMD publication and the net_kernel ping responder that together let
// this process behave as one node in a distributed cluster
// (spec.md §4.H).
package node

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/armen/ergyre/dist"
	"github.com/armen/ergyre/epmd"
	"github.com/armen/ergyre/internal/sockopt"
	"github.com/armen/ergyre/node/identity"
	"github.com/armen/ergyre/term"
)

var (
	ErrMailboxClosed   = errors.New("node: mailbox closed")
	ErrNameTaken       = errors.New("node: name already registered")
	ErrNoSuchMailbox   = errors.New("node: no such pid or name")
	ErrBadDestination  = errors.New("node: unsupported send destination")
	ErrAlreadyDisposed = errors.New("node: node already closed")
)

// TickInterval is the keepalive period for every Connection this node
// drives, matching the default net_ticktime of a BEAM node.
const TickInterval = 15 * time.Second

// StatusFunc is called on connection lifecycle transitions, mirroring
// net_kernel's {nodeup,Node}/{nodedown,Node} system messages.
type StatusFunc func(peer string, up bool, reason error)

// Node is one participant in the cluster: an identity, an EPMD
// registration, a mailbox table and a table of live peer connections.
type Node struct {
	id   identity.Identity
	gens *identity.Generators

	epmdClient   *epmd.Client
	registration *epmd.Registration
	listener     net.Listener

	onStatus StatusFunc

	publishLimiter *rate.Limiter

	mu              sync.Mutex
	mailboxesByPid  map[term.Pid]*Mailbox
	mailboxesByName map[string]*Mailbox
	links           map[term.Pid]map[term.Pid]struct{}

	connMu      sync.Mutex
	connections map[string]*dist.Connection
	closed      bool
}

// New builds a Node for id; it does not yet listen or register with
// EPMD, so it can be used purely as a local mailbox host in tests.
func New(id identity.Identity, opts ...Option) *Node {
	n := &Node{
		id:              id,
		gens:            identity.NewGenerators(term.NewAtom(id.FullName()), id.Creation),
		epmdClient:      epmd.NewClient("localhost"),
		publishLimiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		mailboxesByPid:  make(map[term.Pid]*Mailbox),
		mailboxesByName: make(map[string]*Mailbox),
		links:           make(map[term.Pid]map[term.Pid]struct{}),
		connections:     make(map[string]*dist.Connection),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Option configures a Node at construction time.
type Option func(*Node)

// WithEPMDClient overrides the EPMD client, e.g. to target a non-default
// host/port or an embedded *epmd.Server in tests.
func WithEPMDClient(c *epmd.Client) Option {
	return func(n *Node) { n.epmdClient = c }
}

// WithStatusFunc registers a callback for peer up/down transitions.
func WithStatusFunc(f StatusFunc) Option {
	return func(n *Node) { n.onStatus = f }
}

// Identity returns the node's own identity.
func (n *Node) Identity() identity.Identity { return n.id }

// Listen binds addr (commonly ":0" for an ephemeral port), publishes
// the resulting port to EPMD via ALIVE2, and starts accepting inbound
// peer connections.
func (n *Node) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "node: listen")
	}
	n.listener = ln
	if tcpLn, ok := ln.(*net.TCPListener); ok {
		if err := sockopt.TuneListener(tcpLn); err != nil {
			logrus.WithError(err).Debug("node: could not tune listener socket options")
		}
	}

	port, err := listenerPort(ln)
	if err != nil {
		ln.Close()
		return err
	}

	if err := n.publishLimiter.Wait(ctx); err != nil {
		ln.Close()
		return err
	}
	reg, err := n.epmdClient.Register(ctx, n.id.Alive, port, n.id.DistHigh, n.id.DistLow)
	if err != nil {
		ln.Close()
		return errors.Wrap(err, "node: publish to epmd")
	}
	n.registration = reg
	n.id.Creation = reg.Creation
	n.gens = identity.NewGenerators(term.NewAtom(n.id.FullName()), reg.Creation)

	go n.acceptLoop()
	return nil
}

func listenerPort(ln net.Listener) (uint16, error) {
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return 0, err
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}
	return uint16(p), nil
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			return
		}
		go n.acceptConn(conn)
	}
}

func (n *Node) acceptConn(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := sockopt.TuneConnection(tcpConn, TickInterval); err != nil {
			logrus.WithError(err).Debug("node: could not tune peer socket options")
		}
	}
	session, err := dist.Accept(conn, n.id)
	if err != nil {
		logrus.WithError(err).Warn("node: inbound handshake failed")
		conn.Close()
		return
	}
	n.adoptConnection(session.PeerName, conn)
}

// Connect dials peerFullName ("alive@host"), looking its port up via
// EPMD first, and performs the initiating side of the handshake. It
// returns nil without dialing if a connection to peerFullName is already
// in the node's table.
func (n *Node) Connect(ctx context.Context, peerFullName string) error {
	n.connMu.Lock()
	if _, ok := n.connections[peerFullName]; ok {
		n.connMu.Unlock()
		return nil
	}
	n.connMu.Unlock()

	alive, host, ok := splitNodeName(peerFullName)
	if !ok {
		return errors.Errorf("node: malformed peer name %q", peerFullName)
	}

	lookupClient := &epmd.Client{Host: host, Port: n.epmdClient.Port, DialTimeout: n.epmdClient.DialTimeout}
	info, err := lookupClient.Lookup(ctx, alive)
	if err != nil {
		return errors.Wrapf(err, "node: lookup %s", peerFullName)
	}

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(info.Port))))
	if err != nil {
		return errors.Wrapf(err, "node: dial %s", peerFullName)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := sockopt.TuneConnection(tcpConn, TickInterval); err != nil {
			logrus.WithError(err).Debug("node: could not tune peer socket options")
		}
	}

	session, err := dist.Initiate(conn, n.id)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "node: handshake")
	}

	n.adoptConnection(session.PeerName, conn)
	return nil
}

// adoptConnection wraps conn (already handshaken) into a dist.Connection
// under peerName, replacing and closing any prior connection to the same
// peer, matching real distribution's duplicate-connection resolution.
func (n *Node) adoptConnection(peerName string, conn net.Conn) {
	c := dist.NewConnection(conn, &connHandler{node: n, peerName: peerName}, TickInterval, n.id.FullName(), n.id.Cookie)

	n.connMu.Lock()
	if old, ok := n.connections[peerName]; ok {
		old.Close()
	}
	n.connections[peerName] = c
	n.connMu.Unlock()

	c.Start()
	n.notifyStatus(peerName, true, nil)
}

func (n *Node) connectionFor(peerName string) (*dist.Connection, bool) {
	n.connMu.Lock()
	defer n.connMu.Unlock()
	c, ok := n.connections[peerName]
	return c, ok
}

func (n *Node) notifyStatus(peer string, up bool, reason error) {
	if n.onStatus != nil {
		n.onStatus(peer, up, reason)
	}
}

func splitNodeName(full string) (alive, host string, ok bool) {
	i := strings.IndexByte(full, '@')
	if i < 0 {
		return "", "", false
	}
	return full[:i], full[i+1:], true
}

// Spawn creates a fresh, unregistered mailbox with a newly generated pid.
func (n *Node) Spawn() *Mailbox {
	pid := n.gens.NextPid()
	mb := newMailbox(n, pid)
	n.mu.Lock()
	n.mailboxesByPid[pid] = mb
	n.mu.Unlock()
	return mb
}

func (n *Node) register(name string, mb *Mailbox) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.mailboxesByName[name]; ok {
		return ErrNameTaken
	}
	mb.name = name
	n.mailboxesByName[name] = mb
	return nil
}

// Whereis resolves a locally registered name to its pid.
func (n *Node) Whereis(name string) (term.Pid, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	mb, ok := n.mailboxesByName[name]
	if !ok {
		return term.Pid{}, false
	}
	return mb.pid, true
}

func (n *Node) mailboxByPid(pid term.Pid) (*Mailbox, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	mb, ok := n.mailboxesByPid[pid]
	return mb, ok
}

func (n *Node) mailboxByName(name string) (*Mailbox, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	mb, ok := n.mailboxesByName[name]
	return mb, ok
}

// sendFrom routes msg to to, which may be a local/remote Pid, a local
// Atom registered name, or a {Name, Node} tuple naming a registered
// process on a (possibly remote) node.
func (n *Node) sendFrom(from term.Pid, to term.Term, msg term.Term) error {
	switch dest := to.(type) {
	case term.Pid:
		if string(dest.Node) == n.id.FullName() {
			mb, ok := n.mailboxByPid(dest)
			if !ok {
				return ErrNoSuchMailbox
			}
			mb.deliver(from, msg)
			return nil
		}
		return n.sendRemote(string(dest.Node), dist.ControlMessage{Op: dist.OpSend, To: dest, Payload: msg})

	case term.Atom:
		mb, ok := n.mailboxByName(string(dest))
		if !ok {
			return ErrNoSuchMailbox
		}
		mb.deliver(from, msg)
		return nil

	case term.Tuple:
		if dest.Arity() != 2 {
			return ErrBadDestination
		}
		name, ok1 := dest[0].(term.Atom)
		node, ok2 := dest[1].(term.Atom)
		if !ok1 || !ok2 {
			return ErrBadDestination
		}
		if string(node) == n.id.FullName() {
			mb, ok := n.mailboxByName(string(name))
			if !ok {
				return ErrNoSuchMailbox
			}
			mb.deliver(from, msg)
			return nil
		}
		return n.sendRemote(string(node), dist.ControlMessage{Op: dist.OpRegSend, From: from, To: name, Payload: msg})

	default:
		return ErrBadDestination
	}
}

func (n *Node) sendRemote(peerName string, msg dist.ControlMessage) error {
	c, ok := n.connectionFor(peerName)
	if !ok {
		return errors.Errorf("node: no connection to %s", peerName)
	}
	return c.Send(msg)
}

func (n *Node) link(from, to term.Pid) error {
	local := string(to.Node) == n.id.FullName()
	if local {
		if _, ok := n.mailboxByPid(to); !ok {
			return &ExitedError{Reason: term.NewAtom("noproc"), From: to}
		}
	}

	n.mu.Lock()
	n.addLinkLocked(from, to)
	n.mu.Unlock()

	if local {
		return nil
	}
	return n.sendRemote(string(to.Node), dist.ControlMessage{Op: dist.OpLink, From: from, To: to})
}

func (n *Node) unlink(from, to term.Pid) error {
	n.mu.Lock()
	n.removeLinkLocked(from, to)
	n.mu.Unlock()

	if string(to.Node) == n.id.FullName() {
		return nil
	}
	return n.sendRemote(string(to.Node), dist.ControlMessage{Op: dist.OpUnlink, From: from, To: to})
}

func (n *Node) addLinkLocked(a, b term.Pid) {
	if n.links[a] == nil {
		n.links[a] = make(map[term.Pid]struct{})
	}
	n.links[a][b] = struct{}{}
	if n.links[b] == nil {
		n.links[b] = make(map[term.Pid]struct{})
	}
	n.links[b][a] = struct{}{}
}

func (n *Node) removeLinkLocked(a, b term.Pid) {
	delete(n.links[a], b)
	delete(n.links[b], a)
}

// exitMailbox terminates pid with reason, signalling every linked peer
// (local delivery or a remote EXIT control message) before closing it.
func (n *Node) exitMailbox(pid term.Pid, reason term.Term) {
	n.propagateExit(pid, reason, "")
	n.mu.Lock()
	mb, ok := n.mailboxesByPid[pid]
	delete(n.mailboxesByPid, pid)
	if ok && mb.name != "" {
		delete(n.mailboxesByName, mb.name)
	}
	delete(n.links, pid)
	n.mu.Unlock()
	if ok {
		mb.close()
	}
}

// propagateExit sends an exit signal for pid/reason to every linked
// peer, skipping skipPeer (the connection the signal itself arrived on,
// to avoid reflecting it straight back).
func (n *Node) propagateExit(pid term.Pid, reason term.Term, skipPeer string) {
	n.mu.Lock()
	linked := make([]term.Pid, 0, len(n.links[pid]))
	for p := range n.links[pid] {
		linked = append(linked, p)
	}
	n.mu.Unlock()

	for _, peer := range linked {
		if string(peer.Node) == n.id.FullName() {
			if mb, ok := n.mailboxByPid(peer); ok {
				mb.deliverExit(pid, reason)
			}
			continue
		}
		if string(peer.Node) == skipPeer {
			continue
		}
		n.sendRemote(string(peer.Node), dist.ControlMessage{Op: dist.OpExit, From: pid, To: peer, Reason: reason})
	}
}

// handleControl dispatches one decoded packet from the connection to
// peerName.
func (n *Node) handleControl(peerName string, msg dist.ControlMessage) {
	switch msg.Op {
	case dist.OpSend, dist.OpSendTT:
		pid, ok := msg.To.(term.Pid)
		if !ok {
			return
		}
		if mb, ok := n.mailboxByPid(pid); ok {
			mb.deliver(term.Atom(""), msg.Payload)
		}

	case dist.OpRegSend, dist.OpRegSendTT:
		name, ok := msg.To.(term.Atom)
		if !ok {
			return
		}
		if name == netKernelName {
			n.handleNetKernel(peerName, msg)
			return
		}
		if mb, ok := n.mailboxByName(string(name)); ok {
			mb.deliver(msg.From, msg.Payload)
		}

	case dist.OpLink:
		n.mu.Lock()
		n.addLinkLocked(msg.From, pidOrZero(msg.To))
		n.mu.Unlock()

	case dist.OpUnlink:
		n.mu.Lock()
		n.removeLinkLocked(msg.From, pidOrZero(msg.To))
		n.mu.Unlock()

	case dist.OpExit, dist.OpExit2, dist.OpExitTT, dist.OpExit2TT:
		to, ok := msg.To.(term.Pid)
		if !ok {
			return
		}
		if mb, ok := n.mailboxByPid(to); ok {
			mb.deliverExit(msg.From, msg.Reason)
		}
		n.propagateExit(to, msg.Reason, peerName)
	}
}

func pidOrZero(t term.Term) term.Pid {
	if p, ok := t.(term.Pid); ok {
		return p
	}
	return term.Pid{}
}

// handleDisconnect fires when the connection to peerName drops: every
// local mailbox linked to a pid on that node receives a noconnection
// exit, matching a BEAM node's nodedown link-breaking behavior.
func (n *Node) handleDisconnect(peerName string, err error) {
	n.connMu.Lock()
	delete(n.connections, peerName)
	n.connMu.Unlock()

	n.mu.Lock()
	var affected []term.Pid
	for local, peers := range n.links {
		if string(local.Node) != n.id.FullName() {
			continue
		}
		for peer := range peers {
			if string(peer.Node) == peerName {
				affected = append(affected, local)
				break
			}
		}
	}
	n.mu.Unlock()

	reason := term.NewAtom("noconnection")
	for _, local := range affected {
		if mb, ok := n.mailboxByPid(local); ok {
			mb.deliverExit(term.NewAtom(peerName), reason)
		}
	}
	n.notifyStatus(peerName, false, err)
}

// Close releases the listener, EPMD registration and every live
// connection.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrAlreadyDisposed
	}
	n.closed = true
	n.mu.Unlock()

	if n.listener != nil {
		n.listener.Close()
	}
	if n.registration != nil {
		n.registration.Close()
	}
	n.connMu.Lock()
	for _, c := range n.connections {
		c.Close()
	}
	n.connMu.Unlock()
	return nil
}

type connHandler struct {
	node     *Node
	peerName string
}

func (h *connHandler) HandleControl(msg dist.ControlMessage) {
	h.node.handleControl(h.peerName, msg)
}

func (h *connHandler) HandleDisconnect(err error) {
	h.node.handleDisconnect(h.peerName, err)
}
