//go:build !linux

package sockopt

import (
	"net"
	"time"
)

// TuneListener is a no-op on platforms without the Linux-specific
// socket option set this package otherwise applies.
func TuneListener(ln *net.TCPListener) error { return nil }

// TuneConnection is a no-op on platforms without the Linux-specific
// socket option set this package otherwise applies; Go's net package
// keepalive defaults still apply.
func TuneConnection(conn *net.TCPConn, idle time.Duration) error { return nil }
