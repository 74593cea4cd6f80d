package rtnl

import (
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ============================================================================
// Message builders
// ============================================================================

type attr struct {
	typ uint16
	val []byte
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	native.PutUint32(b, v)
	return b
}

func str(s string) []byte { return append([]byte(s), 0) }

func encodeAttrs(attrs []attr) []byte {
	var out []byte
	for _, a := range attrs {
		l := unix.SizeofRtAttr + len(a.val)
		b := make([]byte, rtaAlign(l))
		native.PutUint16(b[0:2], uint16(l))
		native.PutUint16(b[2:4], a.typ)
		copy(b[unix.SizeofRtAttr:], a.val)
		out = append(out, b...)
	}
	return out
}

func encodeMsg(typ, flags uint16, seq uint32, payload []byte) []byte {
	b := make([]byte, nlmsgAlign(unix.NLMSG_HDRLEN+len(payload)))
	native.PutUint32(b[0:4], uint32(unix.NLMSG_HDRLEN+len(payload)))
	native.PutUint16(b[4:6], typ)
	native.PutUint16(b[6:8], flags)
	native.PutUint32(b[8:12], seq)
	copy(b[unix.NLMSG_HDRLEN:], payload)
	return b
}

type linkSpec struct {
	typ     uint16
	flags   uint16 // netlink header flags
	seq     uint32
	index   int32
	ifFlags uint32
	change  uint32
	name    string
	mtu     uint32
	oper    int // -1 omits IFLA_OPERSTATE
}

func linkMessage(l linkSpec) []byte {
	if l.typ == 0 {
		l.typ = unix.RTM_NEWLINK
	}
	p := make([]byte, unix.SizeofIfInfomsg)
	native.PutUint32(p[4:8], uint32(l.index))
	native.PutUint32(p[8:12], l.ifFlags)
	native.PutUint32(p[12:16], l.change)

	var attrs []attr
	if l.name != "" {
		attrs = append(attrs, attr{unix.IFLA_IFNAME, str(l.name)})
	}
	if l.mtu != 0 {
		attrs = append(attrs, attr{unix.IFLA_MTU, u32(l.mtu)})
	}
	if l.oper >= 0 {
		attrs = append(attrs, attr{unix.IFLA_OPERSTATE, []byte{byte(l.oper)}})
	}
	return encodeMsg(l.typ, l.flags, l.seq, append(p, encodeAttrs(attrs)...))
}

type neighSpec struct {
	typ    uint16
	flags  uint16
	seq    uint32
	family uint8
	index  int32
	state  uint16
	ip     string
	mac    string
}

func neighMessage(n neighSpec) []byte {
	if n.typ == 0 {
		n.typ = unix.RTM_NEWNEIGH
	}
	if n.family == 0 {
		n.family = unix.AF_INET
	}
	p := make([]byte, unix.SizeofNdMsg)
	p[0] = n.family
	native.PutUint32(p[4:8], uint32(n.index))
	native.PutUint16(p[8:10], n.state)

	var attrs []attr
	if n.ip != "" {
		ip := net.ParseIP(n.ip)
		if v4 := ip.To4(); v4 != nil && n.family == unix.AF_INET {
			ip = v4
		}
		attrs = append(attrs, attr{unix.NDA_DST, []byte(ip)})
	}
	if n.mac != "" {
		hw, _ := net.ParseMAC(n.mac)
		attrs = append(attrs, attr{unix.NDA_LLADDR, []byte(hw)})
	}
	return encodeMsg(n.typ, n.flags, n.seq, append(p, encodeAttrs(attrs)...))
}

func doneMsg(seq uint32) []byte {
	return encodeMsg(unix.NLMSG_DONE, unix.NLM_F_MULTI, seq, u32(0))
}

func errorMsg(seq uint32, errno unix.Errno) []byte {
	return encodeMsg(unix.NLMSG_ERROR, 0, seq, u32(uint32(-int32(errno))))
}

func datagram(msgs ...[]byte) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, m...)
	}
	return out
}

// ============================================================================
// Scripted connection
// ============================================================================

// reply is one scripted Receive result.
type reply struct {
	data []byte
	err  error
}

// fakeConn replays scripted datagrams. When a request is sent, onSend may
// queue the kernel's answer.
type fakeConn struct {
	mu      sync.Mutex
	replies []reply
	sent    [][]byte
	onSend  func(c *fakeConn, req []byte)
	sendErr error
	closed  bool
}

func (c *fakeConn) queue(data ...[]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range data {
		c.replies = append(c.replies, reply{data: d})
	}
}

func (c *fakeConn) queueErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, reply{err: err})
}

func (c *fakeConn) Receive(b []byte) (int, error) {
	c.mu.Lock()
	if len(c.replies) == 0 {
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, ErrTimeout
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	c.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	return copy(b, r.data), nil
}

func (c *fakeConn) Send(b []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	c.sent = append(c.sent, append([]byte(nil), b...))
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(c, b)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sentRequests() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// requestInfo extracts type, flags and seq from an encoded request.
func requestInfo(b []byte) (typ, flags uint16, seq uint32) {
	return native.Uint16(b[4:6]), native.Uint16(b[6:8]), native.Uint32(b[8:12])
}

type staticResolver map[int]string

func (r staticResolver) LinkName(index int) (string, error) {
	if name, ok := r[index]; ok {
		return name, nil
	}
	return "", unix.ENODEV
}
