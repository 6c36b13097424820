package dist

import "github.com/pkg/errors"

var (
	// ErrHandshakeRejected is returned when the peer's status message is
	// anything other than "ok" or "ok_simultaneous".
	ErrHandshakeRejected = errors.New("dist: handshake rejected by peer")

	// ErrBadCookie is returned when a challenge digest does not match,
	// meaning the two nodes do not share a cookie.
	ErrBadCookie = errors.New("dist: cookie mismatch")

	// ErrMandatoryFlagsMissing is returned when a peer's advertised
	// capability flags lack one this module requires for correctness.
	ErrMandatoryFlagsMissing = errors.New("dist: peer missing mandatory distribution flags")

	// ErrConnectionClosed is surfaced to a Handler when the underlying
	// transport closes, whether cleanly or not.
	ErrConnectionClosed = errors.New("dist: connection closed")

	// ErrAuthFailed is surfaced to a Handler when the first inbound
	// SEND/REG_SEND on a connection carries a cookie that fails the
	// check in spec.md §4.E ("Cookie discipline").
	ErrAuthFailed = errors.New("dist: auth_error")
)
