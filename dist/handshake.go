package dist

import (
	"bufio"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"io"
	"net"
	"strconv"

	"github.com/pkg/errors"

	"github.com/armen/ergyre/node/identity"
)

// Message tags exchanged before the connection is considered up
// (spec.md §4.F, the five-step MD5 challenge handshake).
const (
	tagSendNameOld  = 110 // 'n', version 5 framing
	tagSendNameNew  = 78  // 'N', version 6 / HANDSHAKE_23 framing
	tagStatus       = 115 // 's'
	tagChallengeRep = 114 // 'r'
	tagChallengeAck = 97  // 'a'
	tagComplement   = 99  // 'c'
)

// Session is the result of a completed handshake: everything the
// Connection actor needs to know about the peer it just authenticated.
type Session struct {
	PeerName     string
	PeerFlags    identity.Flags
	PeerCreation uint32
}

// Initiate performs the connecting side of the handshake: send_name,
// recv_status, recv_challenge, send_challenge_reply, recv_challenge_ack.
func Initiate(conn net.Conn, local identity.Identity) (Session, error) {
	r := bufio.NewReader(conn)

	sentOld, err := sendName(conn, local)
	if err != nil {
		return Session{}, err
	}

	status, err := recvStatus(r)
	if err != nil {
		return Session{}, err
	}
	if status != "ok" && status != "ok_simultaneous" {
		return Session{}, errors.Wrapf(ErrHandshakeRejected, "status=%q", status)
	}

	peerName, peerFlags, peerCreation, theirChallenge, err := recvChallenge(r)
	if err != nil {
		return Session{}, err
	}
	if peerFlags&identity.MandatoryForHandshake != identity.MandatoryForHandshake {
		return Session{}, ErrMandatoryFlagsMissing
	}

	// SEND_COMPLEMENT (spec.md §4.F step 4): only needed when we used the
	// short 'n' framing and the peer is new enough to expect the follow-up.
	if sentOld && peerFlags.Has(identity.FlagHandshake23) {
		if err := sendComplement(conn, local); err != nil {
			return Session{}, err
		}
	}

	ourChallenge, err := randomChallenge()
	if err != nil {
		return Session{}, err
	}
	if err := sendChallengeReply(conn, ourChallenge, digest(local.Cookie, theirChallenge)); err != nil {
		return Session{}, err
	}

	theirDigest, err := recvChallengeAck(r)
	if err != nil {
		return Session{}, err
	}
	if !digestsEqual(theirDigest, digest(local.Cookie, ourChallenge)) {
		return Session{}, ErrBadCookie
	}

	return Session{PeerName: peerName, PeerFlags: peerFlags, PeerCreation: peerCreation}, nil
}

// Accept performs the accepting side of the handshake: recv_name,
// send_status, send_challenge, recv_challenge_reply, send_challenge_ack.
func Accept(conn net.Conn, local identity.Identity) (Session, error) {
	r := bufio.NewReader(conn)

	peerName, peerFlags, peerCreation, peerSentOld, err := recvName(r)
	if err != nil {
		return Session{}, err
	}
	if peerFlags&identity.MandatoryForHandshake != identity.MandatoryForHandshake {
		sendStatus(conn, "not_allowed")
		return Session{}, ErrMandatoryFlagsMissing
	}

	if err := sendStatus(conn, "ok"); err != nil {
		return Session{}, err
	}

	ourChallenge, err := randomChallenge()
	if err != nil {
		return Session{}, err
	}
	if _, err := sendChallenge(conn, local, ourChallenge); err != nil {
		return Session{}, err
	}

	// RECV_COMPLEMENT (spec.md §4.F step 4, acceptor side): symmetric to
	// the initiator's SEND_COMPLEMENT, gated on the peer's own choice.
	if peerSentOld && peerFlags.Has(identity.FlagHandshake23) {
		flagsHigh, creation, err := recvComplement(r)
		if err != nil {
			return Session{}, err
		}
		peerFlags |= identity.Flags(uint64(flagsHigh) << 32)
		peerCreation = creation
	}

	theirChallenge, theirDigest, err := recvChallengeReply(r)
	if err != nil {
		return Session{}, err
	}
	if !digestsEqual(theirDigest, digest(local.Cookie, ourChallenge)) {
		return Session{}, ErrBadCookie
	}

	if err := sendChallengeAck(conn, digest(local.Cookie, theirChallenge)); err != nil {
		return Session{}, err
	}

	return Session{PeerName: peerName, PeerFlags: peerFlags, PeerCreation: peerCreation}, nil
}

func randomChallenge() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return 0, errors.Wrap(err, "dist: generate challenge")
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// digest is md5(cookie || decimal-ASCII(challenge)), the exact
// concatenation the real distribution handshake hashes.
func digest(cookie string, challenge uint32) [16]byte {
	h := md5.New()
	io.WriteString(h, cookie)
	io.WriteString(h, strconv.FormatUint(uint64(challenge), 10))
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

func digestsEqual(a, b [16]byte) bool {
	return a == b
}

// sendName writes the SEND_NAME message, choosing the short 'n' framing
// when local.DistChoose==5 (spec.md §4.F step 1) and the long 'N'
// framing otherwise. It reports which framing it used so the caller can
// gate the SEND_COMPLEMENT follow-up.
func sendName(conn net.Conn, local identity.Identity) (sentOld bool, err error) {
	name := local.FullName()
	if local.DistChoose == 5 {
		body := make([]byte, 0, 1+2+4+len(name))
		body = append(body, tagSendNameOld)
		body = appendUint16(body, local.DistHigh)
		body = appendUint32(body, uint32(local.Flags))
		body = append(body, name...)
		return true, writeFramed16(conn, body)
	}
	body := make([]byte, 0, 1+8+4+2+len(name))
	body = append(body, tagSendNameNew)
	body = appendUint64(body, uint64(local.Flags))
	body = appendUint32(body, local.Creation)
	body = appendUint16(body, uint16(len(name)))
	body = append(body, name...)
	return false, writeFramed16(conn, body)
}

func recvName(r *bufio.Reader) (name string, flags identity.Flags, creation uint32, sentOld bool, err error) {
	body, err := readFramed16(r)
	if err != nil {
		return "", 0, 0, false, err
	}
	if len(body) == 0 {
		return "", 0, 0, false, errors.New("dist: empty send_name message")
	}
	switch body[0] {
	case tagSendNameNew:
		if len(body) < 15 {
			return "", 0, 0, false, errors.New("dist: truncated send_name (new)")
		}
		flags = identity.Flags(binary.BigEndian.Uint64(body[1:9]))
		creation = binary.BigEndian.Uint32(body[9:13])
		nlen := binary.BigEndian.Uint16(body[13:15])
		if len(body) < 15+int(nlen) {
			return "", 0, 0, false, errors.New("dist: truncated send_name name")
		}
		return string(body[15 : 15+int(nlen)]), flags, creation, false, nil
	case tagSendNameOld:
		if len(body) < 7 {
			return "", 0, 0, false, errors.New("dist: truncated send_name (old)")
		}
		flags = identity.Flags(binary.BigEndian.Uint32(body[3:7]))
		return string(body[7:]), flags, 0, true, nil
	default:
		return "", 0, 0, false, errors.Errorf("dist: unexpected send_name tag %d", body[0])
	}
}

func sendStatus(conn net.Conn, status string) error {
	body := append([]byte{tagStatus}, status...)
	return writeFramed16(conn, body)
}

func recvStatus(r *bufio.Reader) (string, error) {
	body, err := readFramed16(r)
	if err != nil {
		return "", err
	}
	if len(body) == 0 || body[0] != tagStatus {
		return "", errors.New("dist: expected send_status message")
	}
	return string(body[1:]), nil
}

// sendChallenge writes SEND_CHALLENGE, mirroring sendName's framing
// choice (spec.md §4.F acceptor step 3).
func sendChallenge(conn net.Conn, local identity.Identity, challenge uint32) (sentOld bool, err error) {
	name := local.FullName()
	if local.DistChoose == 5 {
		body := make([]byte, 0, 1+2+4+4+len(name))
		body = append(body, tagSendNameOld)
		body = appendUint16(body, local.DistHigh)
		body = appendUint32(body, uint32(local.Flags))
		body = appendUint32(body, challenge)
		body = append(body, name...)
		return true, writeFramed16(conn, body)
	}
	body := make([]byte, 0, 1+8+4+4+2+len(name))
	body = append(body, tagSendNameNew)
	body = appendUint64(body, uint64(local.Flags))
	body = appendUint32(body, challenge)
	body = appendUint32(body, local.Creation)
	body = appendUint16(body, uint16(len(name)))
	body = append(body, name...)
	return false, writeFramed16(conn, body)
}

// sendComplement writes SEND_COMPLEMENT: the upper 32 bits of the local
// flag set plus creation, sent after a short 'n' name/challenge message
// when the peer's flags show it expects the follow-up (spec.md §4.F
// step 4).
func sendComplement(conn net.Conn, local identity.Identity) error {
	body := make([]byte, 0, 9)
	body = append(body, tagComplement)
	body = appendUint32(body, uint32(uint64(local.Flags)>>32))
	body = appendUint32(body, local.Creation)
	return writeFramed16(conn, body)
}

func recvComplement(r *bufio.Reader) (flagsHigh uint32, creation uint32, err error) {
	body, err := readFramed16(r)
	if err != nil {
		return 0, 0, err
	}
	if len(body) != 9 || body[0] != tagComplement {
		return 0, 0, errors.New("dist: malformed complement message")
	}
	flagsHigh = binary.BigEndian.Uint32(body[1:5])
	creation = binary.BigEndian.Uint32(body[5:9])
	return flagsHigh, creation, nil
}

func recvChallenge(r *bufio.Reader) (name string, flags identity.Flags, creation uint32, challenge uint32, err error) {
	body, err := readFramed16(r)
	if err != nil {
		return "", 0, 0, 0, err
	}
	if len(body) == 0 {
		return "", 0, 0, 0, errors.New("dist: empty recv_challenge message")
	}
	switch body[0] {
	case tagSendNameNew:
		if len(body) < 19 {
			return "", 0, 0, 0, errors.New("dist: truncated recv_challenge (new)")
		}
		flags = identity.Flags(binary.BigEndian.Uint64(body[1:9]))
		challenge = binary.BigEndian.Uint32(body[9:13])
		creation = binary.BigEndian.Uint32(body[13:17])
		nlen := binary.BigEndian.Uint16(body[17:19])
		if len(body) < 19+int(nlen) {
			return "", 0, 0, 0, errors.New("dist: truncated recv_challenge name")
		}
		return string(body[19 : 19+int(nlen)]), flags, creation, challenge, nil
	case tagSendNameOld:
		if len(body) < 11 {
			return "", 0, 0, 0, errors.New("dist: truncated recv_challenge (old)")
		}
		flags = identity.Flags(binary.BigEndian.Uint32(body[3:7]))
		challenge = binary.BigEndian.Uint32(body[7:11])
		return string(body[11:]), flags, 0, challenge, nil
	default:
		return "", 0, 0, 0, errors.Errorf("dist: unexpected recv_challenge tag %d", body[0])
	}
}

func sendChallengeReply(conn net.Conn, challenge uint32, d [16]byte) error {
	body := make([]byte, 0, 1+4+16)
	body = append(body, tagChallengeRep)
	body = appendUint32(body, challenge)
	body = append(body, d[:]...)
	return writeFramed16(conn, body)
}

func recvChallengeReply(r *bufio.Reader) (challenge uint32, d [16]byte, err error) {
	body, err := readFramed16(r)
	if err != nil {
		return 0, d, err
	}
	if len(body) != 21 || body[0] != tagChallengeRep {
		return 0, d, errors.New("dist: malformed send_challenge_reply message")
	}
	challenge = binary.BigEndian.Uint32(body[1:5])
	copy(d[:], body[5:21])
	return challenge, d, nil
}

func sendChallengeAck(conn net.Conn, d [16]byte) error {
	body := append([]byte{tagChallengeAck}, d[:]...)
	return writeFramed16(conn, body)
}

func recvChallengeAck(r *bufio.Reader) (d [16]byte, err error) {
	body, err := readFramed16(r)
	if err != nil {
		return d, err
	}
	if len(body) != 17 || body[0] != tagChallengeAck {
		return d, errors.New("dist: malformed send_challenge_ack message")
	}
	copy(d[:], body[1:17])
	return d, nil
}

func writeFramed16(conn net.Conn, body []byte) error {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(body)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "dist: write handshake frame header")
	}
	if _, err := conn.Write(body); err != nil {
		return errors.Wrap(err, "dist: write handshake frame body")
	}
	return nil
}

func readFramed16(r *bufio.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "dist: read handshake frame header")
	}
	n := binary.BigEndian.Uint16(hdr[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(err, "dist: read handshake frame body")
	}
	return body, nil
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendUint64(b []byte, v uint64) []byte {
	return append(b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
