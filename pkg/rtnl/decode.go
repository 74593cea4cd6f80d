package rtnl

import (
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/newtron-network/netsyncd/pkg/model"
)

// IFLA_OPERSTATE values (RFC 2863).
const (
	ifOperUnknown = 0
	ifOperUp      = 6
)

// decodeLink decodes an RTM_NEWLINK/RTM_DELLINK message. The returned
// index is the kernel ifindex, used to resolve neighbor messages.
func decodeLink(m message) (Event, int32, error) {
	p := m.Payload
	if len(p) < unix.SizeofIfInfomsg {
		return Event{}, 0, malformed(m.Type, "ifinfomsg needs %d bytes, have %d", unix.SizeofIfInfomsg, len(p))
	}
	index := int32(native.Uint32(p[4:8]))
	flags := native.Uint32(p[8:12])
	change := native.Uint32(p[12:16])

	var (
		name      string
		mtu       uint32
		operState = -1
	)
	err := walkAttrs(m.Type, p[nlmsgAlign(unix.SizeofIfInfomsg):], func(attr uint16, val []byte) {
		switch attr {
		case unix.IFLA_IFNAME:
			name = cString(val)
		case unix.IFLA_MTU:
			if len(val) >= 4 {
				mtu = native.Uint32(val)
			}
		case unix.IFLA_OPERSTATE:
			if len(val) >= 1 {
				operState = int(val[0])
			}
		}
	})
	if err != nil {
		return Event{}, 0, err
	}
	if name == "" {
		return Event{}, 0, malformed(m.Type, "ifindex %d has no IFLA_IFNAME", index)
	}

	ev := Event{
		Action:   ActionNew,
		Change:   change,
		MsgFlags: m.Flags,
		Entity: model.Entity{
			Kind:        model.KindLink,
			Name:        name,
			AdminStatus: adminStatus(flags),
			OperStatus:  operStatus(operState, flags),
			MTU:         mtu,
			Flags:       flags,
		},
	}
	if m.Type == unix.RTM_DELLINK {
		ev.Action = ActionDelete
	}
	return ev, index, nil
}

func adminStatus(flags uint32) string {
	if flags&unix.IFF_UP != 0 {
		return "up"
	}
	return "down"
}

// operStatus follows RFC 2863 operstate when the kernel reports it and
// falls back to IFF_RUNNING for drivers that leave it unknown.
func operStatus(state int, flags uint32) string {
	if state == ifOperUp {
		return "up"
	}
	if state < 0 || state == ifOperUnknown {
		if flags&unix.IFF_RUNNING != 0 {
			return "up"
		}
	}
	return "down"
}

// neighMsg is the fixed part of a decoded neighbor message.
type neighMsg struct {
	family  uint8
	ifindex int32
	state   uint16
}

// decodeNeigh decodes an RTM_NEWNEIGH/RTM_DELNEIGH message. The interface
// name is left empty for the caller to resolve from the returned ifindex.
// Entries that netsyncd does not project (non-IP families, NOARP,
// multicast destinations, unresolved entries without a MAC) return errSkip.
func decodeNeigh(m message) (Event, neighMsg, error) {
	p := m.Payload
	if len(p) < unix.SizeofNdMsg {
		return Event{}, neighMsg{}, malformed(m.Type, "ndmsg needs %d bytes, have %d", unix.SizeofNdMsg, len(p))
	}
	hdr := neighMsg{
		family:  p[0],
		ifindex: int32(native.Uint32(p[4:8])),
		state:   native.Uint16(p[8:10]),
	}

	var family string
	switch hdr.family {
	case unix.AF_INET:
		family = model.FamilyIPv4
	case unix.AF_INET6:
		family = model.FamilyIPv6
	default:
		return Event{}, hdr, errSkip
	}

	var (
		dst netip.Addr
		mac string
	)
	err := walkAttrs(m.Type, p[nlmsgAlign(unix.SizeofNdMsg):], func(attr uint16, val []byte) {
		switch attr {
		case unix.NDA_DST:
			if a, ok := netip.AddrFromSlice(val); ok {
				dst = a.Unmap()
			}
		case unix.NDA_LLADDR:
			if len(val) > 0 {
				mac = net.HardwareAddr(val).String()
			}
		}
	})
	if err != nil {
		return Event{}, hdr, err
	}
	if !dst.IsValid() {
		return Event{}, hdr, malformed(m.Type, "neighbor on ifindex %d has no NDA_DST", hdr.ifindex)
	}
	if dst.IsMulticast() || dst.IsLinkLocalMulticast() || hdr.state&netlink.NUD_NOARP != 0 {
		return Event{}, hdr, errSkip
	}

	ev := Event{
		Action:   ActionNew,
		MsgFlags: m.Flags,
		Managed:  true,
		Entity: model.Entity{
			Kind:   model.KindNeighbor,
			Addr:   dst.String(),
			MAC:    mac,
			State:  neighStateName(hdr.state),
			Family: family,
		},
	}
	// Unresolved or failed entries are removals from APPL_DB's point of view.
	if m.Type == unix.RTM_DELNEIGH || hdr.state&(netlink.NUD_INCOMPLETE|netlink.NUD_FAILED) != 0 {
		ev.Action = ActionDelete
		return ev, hdr, nil
	}
	if mac == "" {
		return Event{}, hdr, errSkip
	}
	return ev, hdr, nil
}

func neighStateName(state uint16) string {
	switch {
	case state&netlink.NUD_PERMANENT != 0:
		return "permanent"
	case state&netlink.NUD_REACHABLE != 0:
		return "reachable"
	case state&netlink.NUD_STALE != 0:
		return "stale"
	case state&netlink.NUD_DELAY != 0:
		return "delay"
	case state&netlink.NUD_PROBE != 0:
		return "probe"
	case state&netlink.NUD_INCOMPLETE != 0:
		return "incomplete"
	case state&netlink.NUD_FAILED != 0:
		return "failed"
	default:
		return "none"
	}
}
