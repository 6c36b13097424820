package epmd

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Server is a minimal in-process epmd, enough to exercise a full
// register/lookup/names round-trip against loopback without a system
// epmd running (spec.md §4.D's "embedded EPMD" addition).
type Server struct {
	mu       sync.Mutex
	entries  map[string]*serverEntry
	creation uint32

	ln net.Listener
	wg sync.WaitGroup
}

type serverEntry struct {
	info NodeInfo
	conn net.Conn
}

// NewServer builds an unstarted Server.
func NewServer() *Server {
	return &Server{entries: make(map[string]*serverEntry)}
}

// Listen binds addr ("" host means all interfaces, port 0 picks a free
// ephemeral port) and starts accepting in the background.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close stops accepting and drops every live registration connection.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for _, e := range s.entries {
		e.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	lenBuf := make([]byte, 2)
	if _, err := readFull(conn, lenBuf); err != nil {
		conn.Close()
		return
	}
	body := make([]byte, binary.BigEndian.Uint16(lenBuf))
	if _, err := readFull(conn, body); err != nil {
		conn.Close()
		return
	}
	if len(body) == 0 {
		conn.Close()
		return
	}

	switch body[0] {
	case tagAlive2Req:
		s.handleAlive2(conn, body[1:])
	case tagPortReq:
		defer conn.Close()
		s.handlePortPlease(conn, string(body[1:]))
	case tagNamesReq:
		defer conn.Close()
		s.handleNames(conn)
	case tagStopReq:
		defer conn.Close()
		s.handleStop(conn, string(body[1:]))
	default:
		conn.Close()
	}
}

func (s *Server) handleAlive2(conn net.Conn, body []byte) {
	if len(body) < 10 {
		conn.Close()
		return
	}
	port := binary.BigEndian.Uint16(body[0:2])
	nodeType := body[2]
	proto := body[3]
	highest := binary.BigEndian.Uint16(body[4:6])
	lowest := binary.BigEndian.Uint16(body[6:8])
	nlen := binary.BigEndian.Uint16(body[8:10])
	rest := body[10:]
	if int(nlen) > len(rest) {
		conn.Close()
		return
	}
	name := string(rest[:nlen])

	s.mu.Lock()
	s.creation++
	creation := s.creation
	if old, ok := s.entries[name]; ok {
		old.conn.Close()
	}
	entry := &serverEntry{
		info: NodeInfo{Name: name, Port: port, NodeType: nodeType, Protocol: proto, HighestVersion: highest, LowestVersion: lowest},
		conn: conn,
	}
	s.entries[name] = entry
	s.mu.Unlock()

	resp := []byte{tagAlive2Resp, 0}
	resp = appendUint16(resp, uint16(creation))
	if _, err := conn.Write(resp); err != nil {
		s.forget(name, conn)
		conn.Close()
		return
	}

	logrus.WithField("name", name).Debug("epmd server: registered")

	// The registration lives as long as this connection does; block
	// here until the peer closes it, then unregister.
	io.Copy(io.Discard, conn)
	s.forget(name, conn)
	conn.Close()
}

func (s *Server) forget(name string, conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok && e.conn == conn {
		delete(s.entries, name)
	}
}

func (s *Server) handlePortPlease(conn net.Conn, name string) {
	s.mu.Lock()
	entry, ok := s.entries[name]
	s.mu.Unlock()

	if !ok {
		conn.Write([]byte{tagPort2Resp, 1})
		return
	}

	resp := []byte{tagPort2Resp, 0}
	resp = appendUint16(resp, entry.info.Port)
	resp = append(resp, entry.info.NodeType, entry.info.Protocol)
	resp = appendUint16(resp, entry.info.HighestVersion)
	resp = appendUint16(resp, entry.info.LowestVersion)
	resp = appendUint16(resp, uint16(len(entry.info.Name)))
	resp = append(resp, entry.info.Name...)
	resp = appendUint16(resp, 0)
	conn.Write(resp)
}

func (s *Server) handleNames(conn net.Conn) {
	var port uint32
	if a, ok := s.ln.Addr().(*net.TCPAddr); ok {
		port = uint32(a.Port)
	}
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, port)
	conn.Write(hdr)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		line := "name " + e.info.Name + " at port " + itoa(int(e.info.Port)) + "\n"
		conn.Write([]byte(line))
	}
}

func (s *Server) handleStop(conn net.Conn, name string) {
	s.mu.Lock()
	entry, ok := s.entries[name]
	if ok {
		delete(s.entries, name)
	}
	s.mu.Unlock()

	if !ok {
		conn.Write([]byte("NOEXIST"))
		return
	}
	entry.conn.Close()
	conn.Write([]byte("STOPPED"))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
