// Package eoiu detects the end of the kernel's initial table dump
// (End-Of-Initial-Update).
//
// The event source finishes its link and neighbor dumps with a targeted
// RTM_GETLINK for a well-known interface. The kernel answers it with a
// single (non-multipart) message whose change mask is zero. Because netlink
// replies on one socket are delivered in order, seeing that reply means
// every dump message before it has been consumed. A multicast RTM_NEWLINK for
// the same interface can look identical, so the source also marks the
// message that answered its own request.
package eoiu

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/newtron-network/netsyncd/pkg/util"
)

// DefaultSentinel is the interface used as the end-of-dump marker.
const DefaultSentinel = "lo"

// State is the detector state.
type State int

const (
	// Waiting: the sentinel has not been seen.
	Waiting State = iota
	// Detected: the sentinel was seen; consumers have not acted yet.
	Detected
	// Completed: consumers acknowledged the detection.
	Completed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "Waiting"
	case Detected:
		return "Detected"
	case Completed:
		return "Completed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Detector flags the end of the initial dump. It is owned by the single
// goroutine draining the event source and is not safe for concurrent use.
type Detector struct {
	sentinel string
	state    State
	checks   uint64
	seen     map[string]struct{}
}

// NewDetector creates a detector for the given sentinel interface. An empty
// name selects DefaultSentinel.
func NewDetector(sentinel string) *Detector {
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	return &Detector{
		sentinel: sentinel,
		seen:     make(map[string]struct{}),
	}
}

// Check evaluates one link observation. reply reports whether the message
// answered the source's sentinel request. It returns true exactly once, on
// the Waiting→Detected transition. After that every call returns false until
// Reset.
func (d *Detector) Check(name string, change uint32, flags uint16, reply bool) bool {
	d.checks++
	if name != "" {
		d.seen[name] = struct{}{}
	}
	if d.state != Waiting {
		return false
	}
	if !reply || !d.isSentinel(name, change, flags) {
		return false
	}
	d.state = Detected
	util.WithComponent("eoiu").Infof("End of initial update detected via %s after %d interfaces", name, len(d.seen))
	return true
}

func (d *Detector) isSentinel(name string, change uint32, flags uint16) bool {
	return name == d.sentinel && change == 0 && flags&unix.NLM_F_MULTI == 0
}

// Acknowledge records that consumers acted on the detection
// (Detected→Completed).
func (d *Detector) Acknowledge() error {
	if d.state != Detected {
		return util.NewInvariantError("eoiu", "Acknowledge", d.state.String(), "")
	}
	d.state = Completed
	return nil
}

// Reset returns the detector to Waiting and clears its counters. Only tests
// and detector reuse call this.
func (d *Detector) Reset() {
	d.state = Waiting
	d.checks = 0
	d.seen = make(map[string]struct{})
}

// State returns the current detection state.
func (d *Detector) State() State { return d.state }

// Sentinel returns the sentinel interface name.
func (d *Detector) Sentinel() string { return d.sentinel }

// Observed returns the number of distinct interfaces checked since the last
// reset.
func (d *Detector) Observed() int { return len(d.seen) }

// Checks returns the number of Check calls since the last reset.
func (d *Detector) Checks() uint64 { return d.checks }
