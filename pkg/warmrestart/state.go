// Package warmrestart classifies a start as warm or cold, tracks the
// initial-sync window during which APPL_DB writes are held back, and
// persists the entity cache that the next start reconciles against.
package warmrestart

import "fmt"

// State is the warm-restart state.
type State int

const (
	// ColdStart: no usable cache was loaded.
	ColdStart State = iota
	// WarmStart: a valid cache was loaded and awaits reconciliation.
	WarmStart
	// InitialSyncInProgress: the kernel dump is being collected; downstream
	// writes are suppressed.
	InitialSyncInProgress
	// InitialSyncComplete: reconciliation happened (or was not needed) and
	// writes flow normally.
	InitialSyncComplete
)

func (s State) String() string {
	switch s {
	case ColdStart:
		return "ColdStart"
	case WarmStart:
		return "WarmStart"
	case InitialSyncInProgress:
		return "InitialSyncInProgress"
	case InitialSyncComplete:
		return "InitialSyncComplete"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the legal next states. InitialSyncComplete is terminal.
var transitions = map[State][]State{
	ColdStart:             {InitialSyncInProgress, InitialSyncComplete},
	WarmStart:             {InitialSyncInProgress},
	InitialSyncInProgress: {InitialSyncComplete},
}

func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Reason records what ended the initial sync.
type Reason string

const (
	ReasonEOIU    Reason = "eoiu"
	ReasonTimeout Reason = "timeout"
)
