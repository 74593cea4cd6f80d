package rtnl

import (
	"fmt"

	"github.com/newtron-network/netsyncd/pkg/model"
)

// Action is the kernel operation an event reports.
type Action int

const (
	ActionNew Action = iota + 1
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionNew:
		return "new"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Event is one decoded kernel change.
type Event struct {
	Action Action
	Entity model.Entity

	// Change is the ifi_change mask of link messages. Dump replies carry 0.
	Change uint32
	// MsgFlags are the netlink header flags (NLM_F_MULTI for dump parts).
	MsgFlags uint16
	// Managed is false for links outside the configured interface
	// prefixes. Such links are still emitted so the EOIU detector sees
	// the sentinel interface.
	Managed bool
	// Sentinel marks the reply to the source's own sentinel request, the
	// last message of the initial dump sequence.
	Sentinel bool
}

// IsLink reports whether the event describes a link.
func (e Event) IsLink() bool {
	return e.Entity.Kind == model.KindLink
}
