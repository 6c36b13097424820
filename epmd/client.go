package epmd

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Client talks to a single epmd instance, normally the one on localhost.
type Client struct {
	Host string
	Port int

	// DialTimeout bounds establishing the TCP connection for each epmd
	// request; zero means no timeout beyond the caller's context. Reads
	// and writes after the dial have no deadline.
	DialTimeout time.Duration
}

// NewClient builds a Client for the epmd on host, using Port() (which
// honors ERL_EPMD_PORT) unless overridden.
func NewClient(host string) *Client {
	return &Client{Host: host, Port: Port()}
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		return nil, errors.Wrapf(err, "epmd: dial %s", c.addr())
	}
	return conn, nil
}

// NodeInfo describes a single name registered with epmd.
type NodeInfo struct {
	Name           string
	Port           uint16
	NodeType       byte
	Protocol       byte
	HighestVersion uint16
	LowestVersion  uint16
	Extra          []byte
}

// Registration is a live ALIVE2 session: epmd learns the node is gone the
// instant this connection closes, so the caller must keep it open for as
// long as the node wants to stay published.
type Registration struct {
	conn     net.Conn
	Creation uint32
}

// Close ends the registration by closing the underlying connection.
func (r *Registration) Close() error {
	return r.conn.Close()
}

// Register publishes alive at listenPort via ALIVE2_REQ and keeps the
// connection open, returning the creation number epmd assigned
// (spec.md §4.D). The caller owns the returned Registration's lifetime.
func (c *Client) Register(ctx context.Context, alive string, listenPort uint16, highest, lowest uint16) (*Registration, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	var body []byte
	body = append(body, tagAlive2Req)
	body = appendUint16(body, listenPort)
	body = append(body, nodeTypeNormal, protoTCPIPv4)
	body = appendUint16(body, highest)
	body = appendUint16(body, lowest)
	body = appendUint16(body, uint16(len(alive)))
	body = append(body, alive...)
	body = appendUint16(body, 0) // no extra data

	if err := writeFramed(conn, body); err != nil {
		conn.Close()
		return nil, err
	}

	resp := make([]byte, 4)
	if _, err := readFull(conn, resp); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "epmd: read ALIVE2_RESP")
	}
	if resp[0] != tagAlive2Resp {
		conn.Close()
		return nil, errors.Errorf("epmd: unexpected ALIVE2_RESP tag %d", resp[0])
	}
	if resp[1] != 0 {
		conn.Close()
		return nil, errors.Errorf("epmd: ALIVE2_RESP rejected registration, result=%d", resp[1])
	}
	creation := uint32(binary.BigEndian.Uint16(resp[2:4]))

	logrus.WithFields(logrus.Fields{"alive": alive, "port": listenPort, "creation": creation}).
		Debug("epmd: registered")
	return &Registration{conn: conn, Creation: creation}, nil
}

// Lookup resolves alive's listen port via PORT_PLEASE2_REQ, returning
// ErrNotRegistered if epmd has no such name.
func (c *Client) Lookup(ctx context.Context, alive string) (*NodeInfo, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	body := append([]byte{tagPortReq}, alive...)
	if err := writeFramed(conn, body); err != nil {
		return nil, err
	}

	r := bufio.NewReader(conn)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "epmd: read PORT2_RESP tag")
	}
	if tag != tagPort2Resp {
		return nil, errors.Errorf("epmd: unexpected PORT2_RESP tag %d", tag)
	}
	result, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "epmd: read PORT2_RESP result")
	}
	if result != 0 {
		return nil, ErrNotRegistered
	}

	hdr := make([]byte, 8)
	if _, err := readFull(r, hdr); err != nil {
		return nil, errors.Wrap(err, "epmd: read PORT2_RESP header")
	}
	info := &NodeInfo{
		Port:           binary.BigEndian.Uint16(hdr[0:2]),
		NodeType:       hdr[2],
		Protocol:       hdr[3],
		HighestVersion: binary.BigEndian.Uint16(hdr[4:6]),
		LowestVersion:  binary.BigEndian.Uint16(hdr[6:8]),
	}

	nlenBuf := make([]byte, 2)
	if _, err := readFull(r, nlenBuf); err != nil {
		return nil, errors.Wrap(err, "epmd: read PORT2_RESP name length")
	}
	name := make([]byte, binary.BigEndian.Uint16(nlenBuf))
	if _, err := readFull(r, name); err != nil {
		return nil, errors.Wrap(err, "epmd: read PORT2_RESP name")
	}
	info.Name = string(name)

	elenBuf := make([]byte, 2)
	if _, err := readFull(r, elenBuf); err == nil {
		extra := make([]byte, binary.BigEndian.Uint16(elenBuf))
		readFull(r, extra)
		info.Extra = extra
	}

	return info, nil
}

// Names lists every name epmd currently has registered, and the port
// epmd itself is listening on (NAMES_REQ).
func (c *Client) Names(ctx context.Context) (epmdPort uint32, names []NodeInfo, err error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer conn.Close()

	if err := writeFramed(conn, []byte{tagNamesReq}); err != nil {
		return 0, nil, err
	}

	r := bufio.NewReader(conn)
	hdr := make([]byte, 4)
	if _, err := readFull(r, hdr); err != nil {
		return 0, nil, errors.Wrap(err, "epmd: read NAMES_RESP port")
	}
	epmdPort = binary.BigEndian.Uint32(hdr)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		info, ok := parseNamesLine(line)
		if ok {
			names = append(names, info)
		}
	}
	return epmdPort, names, nil
}

// parseNamesLine parses a NAMES_RESP line of the form
// `name <alive> at port <port>`.
func parseNamesLine(line string) (NodeInfo, bool) {
	var alive string
	var port uint16
	n, err := fmt.Sscanf(line, "name %s at port %d", &alive, &port)
	if err != nil || n != 2 {
		return NodeInfo{}, false
	}
	return NodeInfo{Name: strings.TrimSpace(alive), Port: port}, true
}

// Stop asks epmd to forget alive (STOP_REQ). Real epmd only honors this
// from localhost and replies with a plain-text "STOPPED"/"NOEXIST".
func (c *Client) Stop(ctx context.Context, alive string) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	body := append([]byte{tagStopReq}, alive...)
	if err := writeFramed(conn, body); err != nil {
		return err
	}
	resp := make([]byte, 64)
	n, _ := conn.Read(resp)
	if strings.HasPrefix(string(resp[:n]), "STOPPED") {
		return nil
	}
	return ErrNotRegistered
}

func writeFramed(conn net.Conn, body []byte) error {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(body)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "epmd: write length prefix")
	}
	if _, err := conn.Write(body); err != nil {
		return errors.Wrap(err, "epmd: write request body")
	}
	return nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}
