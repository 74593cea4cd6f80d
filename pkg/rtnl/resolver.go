package rtnl

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// Resolver maps a kernel ifindex to an interface name. The source consults
// it when a neighbor message references a link it has not seen yet.
type Resolver interface {
	LinkName(index int) (string, error)
}

// NetlinkResolver resolves names with an RTM_GETLINK round trip on a
// separate socket.
type NetlinkResolver struct{}

// LinkName looks up the interface with the given index.
func (NetlinkResolver) LinkName(index int) (string, error) {
	link, err := netlink.LinkByIndex(index)
	if err != nil {
		return "", fmt.Errorf("rtnl: resolve ifindex %d: %w", index, err)
	}
	return link.Attrs().Name, nil
}
