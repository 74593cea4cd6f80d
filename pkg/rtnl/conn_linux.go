//go:build linux

package rtnl

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultReadTimeout bounds how long a receive blocks before Next
// re-checks its context.
const DefaultReadTimeout = 500 * time.Millisecond

// SocketConn is an rtnetlink socket subscribed to link and neighbor
// notifications.
type SocketConn struct {
	fd     int
	closed atomic.Bool
}

// Dial opens the rtnetlink socket, sizes its receive buffer and joins the
// link and neighbor multicast groups. Failure here is fatal to the daemon.
func Dial(bufferSize int, readTimeout time.Duration) (*SocketConn, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, fmt.Errorf("rtnl: open socket: %w", err)
	}

	if bufferSize > 0 {
		// SO_RCVBUFFORCE needs CAP_NET_ADMIN; SO_RCVBUF is capped by rmem_max.
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, bufferSize); err != nil {
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bufferSize); err != nil {
				unix.Close(fd)
				return nil, fmt.Errorf("rtnl: set receive buffer %d: %w", bufferSize, err)
			}
		}
	}

	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rtnl: set receive timeout: %w", err)
	}

	sa := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: unix.RTMGRP_LINK | unix.RTMGRP_NEIGH,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rtnl: bind: %w", err)
	}

	return &SocketConn{fd: fd}, nil
}

// Receive reads one datagram into b.
func (c *SocketConn) Receive(b []byte) (int, error) {
	if c.closed.Load() {
		return 0, fmt.Errorf("rtnl: receive on closed socket: %w", unix.EBADF)
	}
	n, _, err := unix.Recvfrom(c.fd, b, 0)
	switch err {
	case nil:
		return n, nil
	case unix.ENOBUFS:
		return 0, ErrOverflow
	case unix.EAGAIN, unix.EINTR:
		return 0, ErrTimeout
	default:
		return 0, fmt.Errorf("rtnl: receive: %w", err)
	}
}

// Send writes a request to the kernel.
func (c *SocketConn) Send(b []byte) error {
	if err := unix.Sendto(c.fd, b, 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		return fmt.Errorf("rtnl: send: %w", err)
	}
	return nil
}

// Alive reports whether the socket is still open.
func (c *SocketConn) Alive() bool {
	return !c.closed.Load()
}

// Close closes the socket. It is safe to call more than once.
func (c *SocketConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return unix.Close(c.fd)
}
