// Package rtnl reads link and neighbor change events from the kernel's
// rtnetlink socket.
//
// Messages are decoded in place over a reused receive buffer: headers and
// attributes are walked as sub-slices, and only the values an event keeps
// (interface name, formatted addresses) are copied out.
package rtnl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrOverflow reports that the kernel dropped messages because the
	// socket receive buffer was full (ENOBUFS). Callers count it and keep
	// reading.
	ErrOverflow = errors.New("rtnetlink receive buffer overflow")

	// ErrTimeout reports that a receive timed out without data. Source.Next
	// uses it to observe cancellation.
	ErrTimeout = errors.New("rtnetlink receive timeout")

	// ErrMalformed is the sentinel wrapped by MalformedError.
	ErrMalformed = errors.New("malformed rtnetlink message")

	// errSkip marks a well-formed message that does not produce an event.
	errSkip = errors.New("skip")
)

// MalformedError describes a message that could not be decoded. The message
// is dropped; reading continues.
type MalformedError struct {
	Type   uint16
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed rtnetlink message type %d: %s", e.Type, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}

func malformed(typ uint16, format string, args ...interface{}) error {
	return &MalformedError{Type: typ, Reason: fmt.Sprintf(format, args...)}
}

var native = binary.NativeEndian

// message is a view of one netlink message inside the receive buffer.
// Payload aliases the buffer and is only valid until the next receive.
type message struct {
	Type    uint16
	Flags   uint16
	Seq     uint32
	Payload []byte
}

func nlmsgAlign(n int) int {
	return (n + unix.NLMSG_ALIGNTO - 1) &^ (unix.NLMSG_ALIGNTO - 1)
}

func rtaAlign(n int) int {
	return (n + unix.RTA_ALIGNTO - 1) &^ (unix.RTA_ALIGNTO - 1)
}

// walkMessages calls fn for each netlink message in a datagram. A header
// that claims more bytes than remain ends the walk with a MalformedError;
// messages decoded before it have already been delivered.
func walkMessages(b []byte, fn func(message)) error {
	for len(b) >= unix.NLMSG_HDRLEN {
		l := int(native.Uint32(b[0:4]))
		typ := native.Uint16(b[4:6])
		if l < unix.NLMSG_HDRLEN || l > len(b) {
			return malformed(typ, "header length %d with %d bytes left", l, len(b))
		}
		fn(message{
			Type:    typ,
			Flags:   native.Uint16(b[6:8]),
			Seq:     native.Uint32(b[8:12]),
			Payload: b[unix.NLMSG_HDRLEN:l],
		})
		next := nlmsgAlign(l)
		if next >= len(b) {
			return nil
		}
		b = b[next:]
	}
	if len(b) != 0 {
		return malformed(0, "%d trailing bytes", len(b))
	}
	return nil
}

// walkAttrs calls fn for each rtattr in b. The value slice aliases b.
func walkAttrs(typ uint16, b []byte, fn func(attr uint16, val []byte)) error {
	for len(b) >= unix.SizeofRtAttr {
		l := int(native.Uint16(b[0:2]))
		if l < unix.SizeofRtAttr || l > len(b) {
			return malformed(typ, "attribute length %d with %d bytes left", l, len(b))
		}
		fn(native.Uint16(b[2:4])&^(unix.NLA_F_NESTED|unix.NLA_F_NET_BYTEORDER), b[unix.SizeofRtAttr:l])
		next := rtaAlign(l)
		if next >= len(b) {
			return nil
		}
		b = b[next:]
	}
	return nil
}

// cString returns the NUL-terminated prefix of b as a string.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// nlmsgError returns the errno carried by an NLMSG_ERROR payload. Zero is
// an acknowledgment.
func nlmsgError(p []byte) (unix.Errno, error) {
	if len(p) < 4 {
		return 0, malformed(unix.NLMSG_ERROR, "payload %d bytes", len(p))
	}
	code := int32(native.Uint32(p[0:4]))
	if code < 0 {
		code = -code
	}
	return unix.Errno(code), nil
}
