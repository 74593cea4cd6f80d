package rtnl

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/newtron-network/netsyncd/pkg/model"
)

func firstMessage(t *testing.T, b []byte) message {
	t.Helper()
	var msgs []message
	if err := walkMessages(b, func(m message) { msgs = append(msgs, m) }); err != nil {
		t.Fatalf("walkMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	return msgs[0]
}

func TestWalkMessages(t *testing.T) {
	b := datagram(
		linkMessage(linkSpec{index: 2, name: "Ethernet0", oper: -1}),
		linkMessage(linkSpec{index: 3, name: "Ethernet4", oper: -1}),
		doneMsg(7),
	)

	var types []uint16
	if err := walkMessages(b, func(m message) { types = append(types, m.Type) }); err != nil {
		t.Fatalf("walkMessages: %v", err)
	}
	want := []uint16{unix.RTM_NEWLINK, unix.RTM_NEWLINK, unix.NLMSG_DONE}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("message types mismatch (-want +got):\n%s", diff)
	}
}

func TestWalkMessages_Truncated(t *testing.T) {
	good := linkMessage(linkSpec{index: 2, name: "Ethernet0", oper: -1})
	bad := linkMessage(linkSpec{index: 3, name: "Ethernet4", oper: -1})
	b := datagram(good, bad[:len(bad)-8])

	count := 0
	err := walkMessages(b, func(message) { count++ })
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("walkMessages error = %v, want ErrMalformed", err)
	}
	if count != 1 {
		t.Errorf("delivered %d messages before the truncated one, want 1", count)
	}

	if err := walkMessages([]byte{1, 2, 3}, func(message) {}); !errors.Is(err, ErrMalformed) {
		t.Errorf("short datagram error = %v, want ErrMalformed", err)
	}
}

func TestDecodeLink(t *testing.T) {
	tests := []struct {
		name       string
		in         linkSpec
		wantAction Action
		want       model.Entity
	}{
		{
			name:       "up and running",
			in:         linkSpec{index: 5, ifFlags: unix.IFF_UP | unix.IFF_RUNNING, change: 0xffffffff, name: "Ethernet0", mtu: 9100, oper: ifOperUp},
			wantAction: ActionNew,
			want: model.Entity{Kind: model.KindLink, Name: "Ethernet0", AdminStatus: "up", OperStatus: "up",
				MTU: 9100, Flags: unix.IFF_UP | unix.IFF_RUNNING},
		},
		{
			name:       "admin up oper down",
			in:         linkSpec{index: 6, ifFlags: unix.IFF_UP, name: "Ethernet4", mtu: 1500, oper: 2},
			wantAction: ActionNew,
			want: model.Entity{Kind: model.KindLink, Name: "Ethernet4", AdminStatus: "up", OperStatus: "down",
				MTU: 1500, Flags: unix.IFF_UP},
		},
		{
			name:       "unknown operstate falls back to IFF_RUNNING",
			in:         linkSpec{index: 7, ifFlags: unix.IFF_UP | unix.IFF_RUNNING, name: "Vlan100", oper: ifOperUnknown},
			wantAction: ActionNew,
			want: model.Entity{Kind: model.KindLink, Name: "Vlan100", AdminStatus: "up", OperStatus: "up",
				Flags: unix.IFF_UP | unix.IFF_RUNNING},
		},
		{
			name:       "delete",
			in:         linkSpec{typ: unix.RTM_DELLINK, index: 8, name: "PortChannel1", oper: -1},
			wantAction: ActionDelete,
			want:       model.Entity{Kind: model.KindLink, Name: "PortChannel1", AdminStatus: "down", OperStatus: "down"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, index, err := decodeLink(firstMessage(t, linkMessage(tt.in)))
			if err != nil {
				t.Fatalf("decodeLink: %v", err)
			}
			if index != tt.in.index {
				t.Errorf("index = %d, want %d", index, tt.in.index)
			}
			if ev.Action != tt.wantAction {
				t.Errorf("Action = %v, want %v", ev.Action, tt.wantAction)
			}
			if ev.Change != tt.in.change {
				t.Errorf("Change = %#x, want %#x", ev.Change, tt.in.change)
			}
			if diff := cmp.Diff(tt.want, ev.Entity); diff != "" {
				t.Errorf("entity mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeLink_Malformed(t *testing.T) {
	short := encodeMsg(unix.RTM_NEWLINK, 0, 0, make([]byte, 8))
	if _, _, err := decodeLink(firstMessage(t, short)); !errors.Is(err, ErrMalformed) {
		t.Errorf("short ifinfomsg error = %v, want ErrMalformed", err)
	}

	noName := linkMessage(linkSpec{index: 9, mtu: 1500, oper: -1})
	if _, _, err := decodeLink(firstMessage(t, noName)); !errors.Is(err, ErrMalformed) {
		t.Errorf("missing name error = %v, want ErrMalformed", err)
	}

	// Attribute claiming more bytes than the message holds.
	b := linkMessage(linkSpec{index: 9, name: "Ethernet0", oper: -1})
	native.PutUint16(b[unix.NLMSG_HDRLEN+unix.SizeofIfInfomsg:], 200)
	if _, _, err := decodeLink(firstMessage(t, b)); !errors.Is(err, ErrMalformed) {
		t.Errorf("oversized attribute error = %v, want ErrMalformed", err)
	}
}

func TestDecodeNeigh(t *testing.T) {
	tests := []struct {
		name       string
		in         neighSpec
		wantErr    error
		wantAction Action
		want       model.Entity
	}{
		{
			name:       "reachable ipv4",
			in:         neighSpec{index: 5, state: netlink.NUD_REACHABLE, ip: "10.0.0.2", mac: "52:54:00:aa:bb:cc"},
			wantAction: ActionNew,
			want: model.Entity{Kind: model.KindNeighbor, Addr: "10.0.0.2", MAC: "52:54:00:aa:bb:cc",
				State: "reachable", Family: model.FamilyIPv4},
		},
		{
			name:       "stale ipv6",
			in:         neighSpec{family: unix.AF_INET6, index: 5, state: netlink.NUD_STALE, ip: "fc00::2", mac: "52:54:00:aa:bb:cd"},
			wantAction: ActionNew,
			want: model.Entity{Kind: model.KindNeighbor, Addr: "fc00::2", MAC: "52:54:00:aa:bb:cd",
				State: "stale", Family: model.FamilyIPv6},
		},
		{
			name:       "failed becomes delete",
			in:         neighSpec{index: 5, state: netlink.NUD_FAILED, ip: "10.0.0.3"},
			wantAction: ActionDelete,
			want: model.Entity{Kind: model.KindNeighbor, Addr: "10.0.0.3", State: "failed",
				Family: model.FamilyIPv4},
		},
		{
			name:       "explicit delete",
			in:         neighSpec{typ: unix.RTM_DELNEIGH, index: 5, state: netlink.NUD_STALE, ip: "10.0.0.4", mac: "52:54:00:aa:bb:ce"},
			wantAction: ActionDelete,
			want: model.Entity{Kind: model.KindNeighbor, Addr: "10.0.0.4", MAC: "52:54:00:aa:bb:ce",
				State: "stale", Family: model.FamilyIPv4},
		},
		{
			name:    "noarp skipped",
			in:      neighSpec{index: 5, state: netlink.NUD_NOARP, ip: "10.0.0.5"},
			wantErr: errSkip,
		},
		{
			name:    "multicast skipped",
			in:      neighSpec{family: unix.AF_INET6, index: 5, state: netlink.NUD_REACHABLE, ip: "ff02::1", mac: "33:33:00:00:00:01"},
			wantErr: errSkip,
		},
		{
			name:    "bridge family skipped",
			in:      neighSpec{family: unix.AF_BRIDGE, index: 5, state: netlink.NUD_REACHABLE, mac: "52:54:00:aa:bb:cf"},
			wantErr: errSkip,
		},
		{
			name:    "reachable without mac skipped",
			in:      neighSpec{index: 5, state: netlink.NUD_REACHABLE, ip: "10.0.0.6"},
			wantErr: errSkip,
		},
		{
			name:    "missing destination",
			in:      neighSpec{index: 5, state: netlink.NUD_REACHABLE, mac: "52:54:00:aa:bb:cf"},
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, hdr, err := decodeNeigh(firstMessage(t, neighMessage(tt.in)))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("decodeNeigh error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeNeigh: %v", err)
			}
			if hdr.ifindex != tt.in.index {
				t.Errorf("ifindex = %d, want %d", hdr.ifindex, tt.in.index)
			}
			if ev.Action != tt.wantAction {
				t.Errorf("Action = %v, want %v", ev.Action, tt.wantAction)
			}
			if diff := cmp.Diff(tt.want, ev.Entity); diff != "" {
				t.Errorf("entity mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLinkGetRequest(t *testing.T) {
	req := linkGetRequest(42, "lo")
	typ, flags, seq := requestInfo(req)
	if typ != unix.RTM_GETLINK || flags&unix.NLM_F_DUMP != 0 || seq != 42 {
		t.Fatalf("header = type %d flags %#x seq %d", typ, flags, seq)
	}

	m := firstMessage(t, req)
	var name string
	if err := walkAttrs(m.Type, m.Payload[unix.SizeofIfInfomsg:], func(a uint16, v []byte) {
		if a == unix.IFLA_IFNAME {
			name = cString(v)
		}
	}); err != nil {
		t.Fatalf("walkAttrs: %v", err)
	}
	if name != "lo" {
		t.Errorf("IFLA_IFNAME = %q, want lo", name)
	}
}
