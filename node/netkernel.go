package node

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/armen/ergyre/dist"
	"github.com/armen/ergyre/term"
)

// netKernelName is the registered name net_adm:ping/1 sends its is_auth
// query to.
const netKernelName = term.Atom("net_kernel")

// handleNetKernel answers a `{'$gen_call', {FromPid, Ref}, {is_auth, Node}}`
// query the way net_kernel itself does: reply `{Ref, yes}` straight back
// to FromPid (spec.md §4.H's "loopback ping" scenario).
func (n *Node) handleNetKernel(peerName string, msg dist.ControlMessage) {
	req, ok := msg.Payload.(term.Tuple)
	if !ok || req.Arity() != 3 {
		logrus.WithField("peer", peerName).Debug("node: malformed net_kernel request, ignoring")
		return
	}
	tag, ok := req[0].(term.Atom)
	if !ok || tag != "$gen_call" {
		return
	}
	fromTuple, ok := req[1].(term.Tuple)
	if !ok || fromTuple.Arity() != 2 {
		return
	}
	fromPid, ok := fromTuple[0].(term.Pid)
	if !ok {
		return
	}
	ref := fromTuple[1]

	query, ok := req[2].(term.Tuple)
	if !ok || query.Arity() != 2 {
		return
	}
	queryTag, ok := query[0].(term.Atom)
	if !ok || queryTag != "is_auth" {
		return
	}

	reply := term.Tuple{ref, term.NewAtom("yes")}
	if string(fromPid.Node) == n.id.FullName() {
		if mb, ok := n.mailboxByPid(fromPid); ok {
			mb.deliver(netKernelName, reply)
		}
		return
	}
	n.sendRemote(string(fromPid.Node), dist.ControlMessage{Op: dist.OpSend, To: fromPid, Payload: reply})
}

// Ping performs a net_adm:ping/1-style liveness check against
// peerFullName: connect if necessary, send the is_auth query from a
// fresh transient mailbox, and wait for the {Ref, yes} reply.
func (n *Node) Ping(ctx context.Context, peerFullName string) (bool, error) {
	if err := n.Connect(ctx, peerFullName); err != nil {
		return false, err
	}

	mb := n.Spawn()
	defer n.exitMailbox(mb.Self(), term.NewAtom("normal"))

	ref := n.gens.NextRef()
	query := term.Tuple{
		term.NewAtom("$gen_call"),
		term.Tuple{mb.Self(), ref},
		term.Tuple{term.NewAtom("is_auth"), term.NewAtom(n.id.FullName())},
	}

	dest := term.Tuple{netKernelName, term.NewAtom(peerFullName)}
	if err := n.sendFrom(mb.Self(), dest, query); err != nil {
		return false, err
	}

	reply, err := mb.Receive(ctx)
	if err != nil {
		return false, err
	}
	tup, ok := reply.(term.Tuple)
	if !ok || tup.Arity() != 2 {
		return false, nil
	}
	if !tup[0].Equal(ref) {
		return false, nil
	}
	answer, ok := tup[1].(term.Atom)
	return ok && answer == "yes", nil
}
