package dist

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/armen/ergyre/etf"
	"github.com/armen/ergyre/term"
)

// Op is a distribution control-message opcode, the first element of the
// control tuple every packet after the handshake begins with
// (spec.md §4.G).
type Op int

const (
	OpLink         Op = 1
	OpSend         Op = 2
	OpExit         Op = 3
	OpUnlink       Op = 4
	OpNodeLink     Op = 5
	OpRegSend      Op = 6
	OpGroupLeader  Op = 7
	OpExit2        Op = 8
	OpSendTT       Op = 12
	OpExitTT       Op = 13
	OpRegSendTT    Op = 16
	OpExit2TT      Op = 18
	OpMonitorP     Op = 19
	OpDemonitorP   Op = 20
	OpMonitorPExit Op = 21
)

// ControlMessage is a decoded (or to-be-encoded) distribution packet.
type ControlMessage struct {
	Op         Op
	From       term.Pid
	To         term.Term // Pid for *-send/link ops, Atom for reg_send
	Reason     term.Term
	TraceToken term.Term
	Ref        term.Ref
	Cookie     term.Atom // SEND/REG_SEND cookie slot (spec.md §4.E)
	Payload    term.Term // nil when Op carries no message body
}

// carriesCookie reports whether op's control tuple has a cookie slot
// subject to the first-message cookie check (spec.md §4.E).
func carriesCookie(op Op) bool {
	switch op {
	case OpSend, OpSendTT, OpRegSend, OpRegSendTT:
		return true
	default:
		return false
	}
}

// passThroughByte precedes the version tag on every non-tick frame body
// (spec.md §4.E).
const passThroughByte = 0x70

// Handler receives decoded control messages and disconnect notification
// for one Connection. Implemented by the node runtime.
type Handler interface {
	HandleControl(ControlMessage)
	HandleDisconnect(error)
}

// Connection is one live peer link: a TCP socket plus the reader
// goroutine, tick/tock keepalive and output-lock-guarded writer that
// together implement spec.md §4.G.
type Connection struct {
	conn    net.Conn
	handler Handler

	writeMu sync.Mutex

	tickInterval time.Duration

	localCookie string
	localName   string

	closeOnce sync.Once
	done      chan struct{}

	mu             sync.Mutex
	lastRecv       time.Time
	tickMissed     int
	cookieVerified bool
	sendCookie     bool
}

// NewConnection wraps an already-handshaken conn. tickInterval of zero
// disables the keepalive loop (tests only; real peers always tick).
// localName/localCookie are this node's own identity, used to stamp
// outgoing SEND/REG_SEND cookies and to validate inbound ones
// (spec.md §4.E, "Cookie discipline").
func NewConnection(conn net.Conn, handler Handler, tickInterval time.Duration, localName, localCookie string) *Connection {
	return &Connection{
		conn:         conn,
		handler:      handler,
		tickInterval: tickInterval,
		localCookie:  localCookie,
		localName:    localName,
		sendCookie:   localCookie != "",
		done:         make(chan struct{}),
		lastRecv:     time.Now(),
	}
}

// Start launches the reader loop and, if configured, the ticker. It
// returns immediately; disconnects are reported to Handler.
func (c *Connection) Start() {
	go c.readLoop()
	if c.tickInterval > 0 {
		go c.tickLoop()
	}
}

// Close shuts the connection down exactly once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Connection) readLoop() {
	var closeErr error
	defer func() {
		c.Close()
		c.handler.HandleDisconnect(closeErr)
	}()

	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(c.conn, lenBuf); err != nil {
			closeErr = errors.Wrapf(ErrConnectionClosed, "read packet length: %v", err)
			return
		}
		n := binary.BigEndian.Uint32(lenBuf)

		c.mu.Lock()
		c.lastRecv = time.Now()
		c.mu.Unlock()

		if n == 0 {
			// tick: answer with a zero-length tock, no payload to dispatch
			if err := c.writeRaw(nil); err != nil {
				closeErr = errors.Wrapf(ErrConnectionClosed, "write tock: %v", err)
				return
			}
			continue
		}

		body := make([]byte, n)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			closeErr = errors.Wrapf(ErrConnectionClosed, "read packet body: %v", err)
			return
		}

		msg, err := decodeControlPacket(body)
		if err != nil {
			logrus.WithError(err).Warn("dist: dropping malformed packet")
			continue
		}

		if carriesCookie(msg.Op) {
			if bad := c.checkCookie(msg.Cookie); bad {
				c.sendBadCookieReply(msg.Cookie)
				closeErr = ErrAuthFailed
				return
			}
		}

		c.handler.HandleControl(msg)
	}
}

// checkCookie applies the first-message cookie check (spec.md §4.E): the
// first inbound SEND/REG_SEND after handshake must carry local_cookie if
// send_cookie is set, otherwise the empty atom; every message after that
// passes unconditionally.
func (c *Connection) checkCookie(got term.Atom) (bad bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cookieVerified {
		return false
	}
	want := term.Atom("")
	if c.sendCookie {
		want = term.NewAtom(c.localCookie)
	}
	if got != want {
		return true
	}
	c.cookieVerified = true
	return false
}

// sendBadCookieReply delivers the one-shot auth-error reply spec.md §4.E
// describes: a $gen_cast/print message aimed at a disposable pid,
// stamped with the peer's own (wrong) cookie so ours is never revealed.
func (c *Connection) sendBadCookieReply(peerCookie term.Atom) {
	disposable := term.Pid{Node: term.NewAtom(c.localName)}
	report := term.Tuple{
		term.NewAtom("$gen_cast"),
		term.Tuple{
			term.NewAtom("print"),
			term.String("~n** Bad cookie sent to " + c.localName + " **~n"),
			term.EmptyList,
		},
	}
	msg := ControlMessage{Op: OpSend, To: disposable, Payload: report}
	body, err := encodeControlPacket(msg, string(peerCookie))
	if err != nil {
		logrus.WithError(err).Warn("dist: failed to encode bad-cookie reply")
		return
	}
	if err := c.writeRaw(body); err != nil {
		logrus.WithError(err).Warn("dist: failed to write bad-cookie reply")
	}
}

func (c *Connection) tickLoop() {
	t := time.NewTicker(c.tickInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.writeRaw(nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) writeRaw(body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := c.conn.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "dist: write packet length")
	}
	if len(body) > 0 {
		if _, err := c.conn.Write(body); err != nil {
			return errors.Wrap(err, "dist: write packet body")
		}
	}
	return nil
}

// Send encodes msg as a control tuple (plus payload, if any) and writes
// it as one length-prefixed packet, stamping the local cookie into the
// SEND/REG_SEND cookie slot.
func (c *Connection) Send(msg ControlMessage) error {
	body, err := encodeControlPacket(msg, c.localCookie)
	if err != nil {
		return err
	}
	return c.writeRaw(body)
}

func controlTuple(msg ControlMessage, cookie string) term.Tuple {
	op := term.NewInteger(int64(msg.Op))
	ck := term.NewAtom(cookie)
	switch msg.Op {
	case OpLink, OpUnlink, OpNodeLink, OpGroupLeader:
		return term.Tuple{op, msg.From, msg.To}
	case OpSend:
		return term.Tuple{op, ck, msg.To}
	case OpSendTT:
		return term.Tuple{op, ck, msg.To, msg.TraceToken}
	case OpRegSend:
		return term.Tuple{op, msg.From, ck, msg.To}
	case OpRegSendTT:
		return term.Tuple{op, msg.From, ck, msg.To, msg.TraceToken}
	case OpExit, OpExit2:
		return term.Tuple{op, msg.From, msg.To, msg.Reason}
	case OpExitTT, OpExit2TT:
		return term.Tuple{op, msg.From, msg.To, msg.TraceToken, msg.Reason}
	case OpMonitorP, OpDemonitorP:
		return term.Tuple{op, msg.From, msg.To, msg.Ref}
	case OpMonitorPExit:
		return term.Tuple{op, msg.From, msg.To, msg.Ref, msg.Reason}
	default:
		return term.Tuple{op}
	}
}

func encodeControlPacket(msg ControlMessage, cookie string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(passThroughByte) // spec.md §4.E: precedes the version tag on every non-tick frame
	buf.WriteByte(131)             // version tag, ahead of the control tuple

	ctl, err := etf.Encode(controlTuple(msg, cookie))
	if err != nil {
		return nil, err
	}
	buf.Write(ctl[1:]) // strip the version tag Encode() added, we already wrote one

	if msg.Payload != nil {
		pl, err := etf.Encode(msg.Payload) // payload carries its own version tag
		if err != nil {
			return nil, err
		}
		buf.Write(pl)
	}
	return buf.Bytes(), nil
}

func decodeControlPacket(body []byte) (ControlMessage, error) {
	if len(body) == 0 || body[0] != passThroughByte {
		return ControlMessage{}, errors.New("dist: control packet missing pass_through byte")
	}
	terms, err := etf.DecodeAll(body[1:])
	if err != nil {
		return ControlMessage{}, err
	}
	if len(terms) == 0 {
		return ControlMessage{}, errors.New("dist: empty control packet")
	}
	tup, ok := terms[0].(term.Tuple)
	if !ok || tup.Arity() == 0 {
		return ControlMessage{}, errors.New("dist: control message is not a nonempty tuple")
	}
	opInt, ok := tup[0].(term.Integer)
	if !ok {
		return ControlMessage{}, errors.New("dist: control tuple tag is not an integer")
	}
	v, err := opInt.Int64()
	if err != nil {
		return ControlMessage{}, err
	}
	msg := ControlMessage{Op: Op(v)}

	switch msg.Op {
	case OpLink, OpUnlink, OpNodeLink, OpGroupLeader:
		if err := bindPidPid(tup, &msg.From, &msg.To); err != nil {
			return msg, err
		}
	case OpSend:
		if tup.Arity() < 3 {
			return msg, errors.New("dist: malformed SEND tuple")
		}
		if ck, ok := tup[1].(term.Atom); ok {
			msg.Cookie = ck
		}
		msg.To = tup[2]
	case OpSendTT:
		if tup.Arity() < 4 {
			return msg, errors.New("dist: malformed SEND_TT tuple")
		}
		if ck, ok := tup[1].(term.Atom); ok {
			msg.Cookie = ck
		}
		msg.To = tup[2]
		msg.TraceToken = tup[3]
	case OpRegSend:
		if tup.Arity() < 4 {
			return msg, errors.New("dist: malformed REG_SEND tuple")
		}
		from, ok := tup[1].(term.Pid)
		if !ok {
			return msg, errors.New("dist: REG_SEND from is not a pid")
		}
		msg.From = from
		if ck, ok := tup[2].(term.Atom); ok {
			msg.Cookie = ck
		}
		msg.To = tup[3]
	case OpRegSendTT:
		if tup.Arity() < 5 {
			return msg, errors.New("dist: malformed REG_SEND_TT tuple")
		}
		from, ok := tup[1].(term.Pid)
		if !ok {
			return msg, errors.New("dist: REG_SEND_TT from is not a pid")
		}
		msg.From = from
		if ck, ok := tup[2].(term.Atom); ok {
			msg.Cookie = ck
		}
		msg.To = tup[3]
		msg.TraceToken = tup[4]
	case OpExit, OpExit2:
		if tup.Arity() < 4 {
			return msg, errors.New("dist: malformed EXIT tuple")
		}
		if err := bindPidPid(tup, &msg.From, &msg.To); err != nil {
			return msg, err
		}
		msg.Reason = tup[3]
	case OpExitTT, OpExit2TT:
		if tup.Arity() < 5 {
			return msg, errors.New("dist: malformed EXIT_TT tuple")
		}
		if err := bindPidPid(tup, &msg.From, &msg.To); err != nil {
			return msg, err
		}
		msg.TraceToken = tup[3]
		msg.Reason = tup[4]
	case OpMonitorP, OpDemonitorP:
		if tup.Arity() < 4 {
			return msg, errors.New("dist: malformed MONITOR tuple")
		}
		if err := bindPidPid(tup, &msg.From, &msg.To); err != nil {
			return msg, err
		}
		if r, ok := tup[3].(term.Ref); ok {
			msg.Ref = r
		}
	case OpMonitorPExit:
		if tup.Arity() < 5 {
			return msg, errors.New("dist: malformed MONITOR_P_EXIT tuple")
		}
		if err := bindPidPid(tup, &msg.From, &msg.To); err != nil {
			return msg, err
		}
		if r, ok := tup[3].(term.Ref); ok {
			msg.Ref = r
		}
		msg.Reason = tup[4]
	}

	if len(terms) > 1 {
		msg.Payload = terms[1]
	}
	return msg, nil
}

func bindPidPid(tup term.Tuple, from *term.Pid, to *term.Term) error {
	if tup.Arity() < 3 {
		return errors.New("dist: control tuple too short for from/to pids")
	}
	f, ok := tup[1].(term.Pid)
	if !ok {
		return errors.New("dist: control tuple 'from' is not a pid")
	}
	*from = f
	*to = tup[2]
	return nil
}
