//go:build linux

// Package sockopt tunes raw socket options on a distribution
// connection's file descriptor: SO_REUSEADDR on the listener and
// TCP keepalive on accepted peer connections, the way a production
// node avoids TIME_WAIT port exhaustion and dead-peer buildup.
package sockopt

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// TuneListener sets SO_REUSEADDR on a TCP listener's socket so a
// restarted node can rebind its distribution port immediately.
func TuneListener(ln *net.TCPListener) error {
	raw, err := ln.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	err = raw.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}

// TuneConnection enables TCP keepalive on conn with the given idle time,
// so a half-open peer connection is detected even if the application
// layer's own tick/tock never notices.
func TuneConnection(conn *net.TCPConn, idle time.Duration) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	err = raw.Control(func(fd uintptr) {
		if setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); setErr != nil {
			return
		}
		secs := int(idle.Seconds())
		if secs <= 0 {
			secs = 1
		}
		setErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
	})
	if err != nil {
		return err
	}
	return setErr
}
