package node

import (
	"context"
	"fmt"

	"github.com/armen/ergyre/term"
)

// Mailbox is a process-like addressable endpoint: something a pid or
// registered name can route messages to, with Erlang's link semantics
// (spec.md §4.H, "Node runtime").
type Mailbox struct {
	node *Node
	pid  term.Pid
	name string

	inbox chan mailboxEnvelope
	done  chan struct{}
}

type mailboxEnvelope struct {
	From term.Term
	Msg  term.Term
	Exit bool // true iff Msg is an exit reason, not an ordinary payload
}

// ExitedError is what Receive returns when the next queued item is an
// exit signal rather than a delivered message (spec.md §4.G,
// "receive() ... on exit/exit2 raises exited(reason, from)").
type ExitedError struct {
	Reason term.Term
	From   term.Term
}

func (e *ExitedError) Error() string {
	return fmt.Sprintf("node: exited(%v, %v)", e.Reason, e.From)
}

const mailboxQueueDepth = 256

func newMailbox(n *Node, pid term.Pid) *Mailbox {
	return &Mailbox{
		node:  n,
		pid:   pid,
		inbox: make(chan mailboxEnvelope, mailboxQueueDepth),
		done:  make(chan struct{}),
	}
}

// Self returns this mailbox's pid.
func (m *Mailbox) Self() term.Pid { return m.pid }

// deliver enqueues msg without blocking the caller past the queue depth;
// a full mailbox drops the oldest pending message, matching the
// unbounded-but-finite behavior real mailboxes approximate under load.
func (m *Mailbox) deliver(from term.Term, msg term.Term) {
	m.enqueue(mailboxEnvelope{From: from, Msg: msg})
}

// deliverExit enqueues an exit signal (spec.md §4.G): Receive surfaces
// it as an ExitedError instead of decoding it as an ordinary payload.
func (m *Mailbox) deliverExit(from term.Term, reason term.Term) {
	m.enqueue(mailboxEnvelope{From: from, Msg: reason, Exit: true})
}

func (m *Mailbox) enqueue(env mailboxEnvelope) {
	select {
	case m.inbox <- env:
	default:
		select {
		case <-m.inbox:
		default:
		}
		select {
		case m.inbox <- env:
		default:
		}
	}
}

// Receive blocks for the next message, or returns ctx.Err() once ctx is
// done, or (nil, ErrMailboxClosed) once the mailbox has been closed. An
// exit signal is returned as an *ExitedError rather than a decoded term.
func (m *Mailbox) Receive(ctx context.Context) (term.Term, error) {
	select {
	case env, ok := <-m.inbox:
		if !ok {
			return nil, ErrMailboxClosed
		}
		if env.Exit {
			return nil, &ExitedError{Reason: env.Msg, From: env.From}
		}
		return env.Msg, nil
	case <-m.done:
		return nil, ErrMailboxClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send delivers msg to another pid, local or remote, on behalf of this
// mailbox (so the far side sees m.pid as the sender).
func (m *Mailbox) Send(to term.Term, msg term.Term) error {
	return m.node.sendFrom(m.pid, to, msg)
}

// Link establishes a bidirectional link with other (spec.md's LINK
// control message); a subsequent Exit or disconnect on either side
// propagates to the other.
func (m *Mailbox) Link(other term.Pid) error {
	return m.node.link(m.pid, other)
}

// Unlink removes a previously established link.
func (m *Mailbox) Unlink(other term.Pid) error {
	return m.node.unlink(m.pid, other)
}

// Exit terminates this mailbox with reason, propagating an exit signal
// to every linked pid before closing.
func (m *Mailbox) Exit(reason term.Term) {
	m.node.exitMailbox(m.pid, reason)
}

// Register binds name to this mailbox in the node's name table.
func (m *Mailbox) Register(name string) error {
	return m.node.register(name, m)
}

func (m *Mailbox) close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}
