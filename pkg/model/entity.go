// Package model defines the kernel entities netsyncd observes and the
// normalized records it projects into APPL_DB.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind distinguishes link entities from neighbor entities.
type Kind string

const (
	KindLink     Kind = "link"
	KindNeighbor Kind = "neighbor"
)

// APPL_DB tables written by netsyncd.
const (
	PortTable  = "PORT_TABLE"
	NeighTable = "NEIGH_TABLE"

	// KeySeparator joins table and key segments in APPL_DB.
	KeySeparator = ":"
)

// Address families as written to NEIGH_TABLE.
const (
	FamilyIPv4 = "IPv4"
	FamilyIPv6 = "IPv6"
)

// Entity is a link or neighbor as seen from the kernel.
//
// Entities are plain values: the event source emits copies and every
// component that stores one owns its copy.
type Entity struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`           // interface name
	Addr string `json:"addr,omitempty"` // neighbor IP; empty for links

	// Link attributes
	AdminStatus string `json:"admin_status,omitempty"` // up, down
	OperStatus  string `json:"oper_status,omitempty"`  // up, down, unknown, ...
	MTU         uint32 `json:"mtu,omitempty"`
	Flags       uint32 `json:"flags,omitempty"` // IFF_* bits

	// Neighbor attributes
	MAC    string `json:"mac,omitempty"`
	State  string `json:"state,omitempty"` // reachable, stale, permanent, ...
	Family string `json:"family,omitempty"`

	// Seen is the generation in which the entity was last observed. It only
	// serves diffing bookkeeping and is ignored by Equal.
	Seen uint64 `json:"-"`
}

// NeighborKey builds the NEIGH_TABLE key for an interface/address pair.
func NeighborKey(name, addr string) string {
	return name + KeySeparator + addr
}

// Key returns the entity key: the interface name for links, and
// "<ifname>:<ip>" for neighbors.
func (e Entity) Key() string {
	if e.Kind == KindNeighbor {
		return NeighborKey(e.Name, e.Addr)
	}
	return e.Name
}

// Table returns the APPL_DB table the entity is projected into.
func (e Entity) Table() string {
	if e.Kind == KindNeighbor {
		return NeighTable
	}
	return PortTable
}

// Equal reports whether two entities carry the same key and attributes.
func (e Entity) Equal(o Entity) bool {
	e.Seen, o.Seen = 0, 0
	return e == o
}

// Fields returns the APPL_DB hash fields for the entity.
func (e Entity) Fields() map[string]string {
	if e.Kind == KindNeighbor {
		return map[string]string{
			"neigh":  e.MAC,
			"family": e.Family,
			"state":  e.State,
		}
	}
	return map[string]string{
		"admin_status": e.AdminStatus,
		"oper_status":  e.OperStatus,
		"mtu":          strconv.FormatUint(uint64(e.MTU), 10),
		"flags":        fmt.Sprintf("0x%x", e.Flags),
	}
}

// Validate checks that the entity is well formed enough to be keyed.
func (e Entity) Validate() error {
	switch e.Kind {
	case KindLink:
		if e.Addr != "" {
			return fmt.Errorf("link %q carries a neighbor address", e.Name)
		}
	case KindNeighbor:
		if e.Addr == "" {
			return fmt.Errorf("neighbor on %q has no address", e.Name)
		}
	default:
		return fmt.Errorf("unknown entity kind %q", e.Kind)
	}
	if e.Name == "" {
		return fmt.Errorf("%s entity has no interface name", e.Kind)
	}
	if strings.Contains(e.Name, KeySeparator) {
		return fmt.Errorf("interface name %q contains %q", e.Name, KeySeparator)
	}
	return nil
}

// EntityFromFields rebuilds an entity from an APPL_DB row. It is the inverse
// of Table, Key and Fields.
func EntityFromFields(table, key string, fields map[string]string) (Entity, error) {
	switch table {
	case PortTable:
		e := Entity{
			Kind:        KindLink,
			Name:        key,
			AdminStatus: fields["admin_status"],
			OperStatus:  fields["oper_status"],
		}
		if v := fields["mtu"]; v != "" {
			mtu, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return Entity{}, fmt.Errorf("%s%s%s: mtu %q: %w", table, KeySeparator, key, v, err)
			}
			e.MTU = uint32(mtu)
		}
		if v := fields["flags"]; v != "" {
			flags, err := strconv.ParseUint(v, 0, 32)
			if err != nil {
				return Entity{}, fmt.Errorf("%s%s%s: flags %q: %w", table, KeySeparator, key, v, err)
			}
			e.Flags = uint32(flags)
		}
		return e, e.Validate()
	case NeighTable:
		name, addr, ok := strings.Cut(key, KeySeparator)
		if !ok {
			return Entity{}, fmt.Errorf("%s%s%s: key has no address", table, KeySeparator, key)
		}
		e := Entity{
			Kind:   KindNeighbor,
			Name:   name,
			Addr:   addr,
			MAC:    fields["neigh"],
			Family: fields["family"],
			State:  fields["state"],
		}
		return e, e.Validate()
	default:
		return Entity{}, fmt.Errorf("table %q is not managed by netsyncd", table)
	}
}
