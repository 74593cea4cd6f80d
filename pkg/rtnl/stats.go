package rtnl

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var metrics = struct {
	received  prometheus.Counter
	events    *prometheus.CounterVec
	malformed prometheus.Counter
	overflows prometheus.Counter
	filtered  prometheus.Counter
}{
	received: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "rtnl",
		Name:      "messages_received_total",
		Help:      "Number of rtnetlink messages read from the kernel",
	}),
	events: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "rtnl",
		Name:      "events_total",
		Help:      "Number of decoded link and neighbor events",
	}, []string{"kind", "action"}),
	malformed: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "rtnl",
		Name:      "malformed_messages_total",
		Help:      "Number of truncated or invalid rtnetlink messages dropped",
	}),
	overflows: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "rtnl",
		Name:      "overflows_total",
		Help:      "Number of receive buffer overflows reported by the kernel",
	}),
	filtered: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "rtnl",
		Name:      "filtered_messages_total",
		Help:      "Number of well-formed messages that produced no event",
	}),
}

func init() {
	prometheus.MustRegister(metrics.received)
	prometheus.MustRegister(metrics.events)
	prometheus.MustRegister(metrics.malformed)
	prometheus.MustRegister(metrics.overflows)
	prometheus.MustRegister(metrics.filtered)
}

// Stats holds the source counters. Fields are updated by the reader
// goroutine and may be read from any goroutine.
type Stats struct {
	received  atomic.Uint64
	events    atomic.Uint64
	malformed atomic.Uint64
	overflows atomic.Uint64
	filtered  atomic.Uint64
	lastEvent atomic.Int64 // unix nanoseconds
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Received  uint64    `json:"received"`
	Events    uint64    `json:"events"`
	Malformed uint64    `json:"malformed"`
	Overflows uint64    `json:"overflows"`
	Filtered  uint64    `json:"filtered"`
	LastEvent time.Time `json:"last_event,omitempty"`
}

// Errors returns malformed messages plus overflows.
func (s StatsSnapshot) Errors() uint64 {
	return s.Malformed + s.Overflows
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Received:  s.received.Load(),
		Events:    s.events.Load(),
		Malformed: s.malformed.Load(),
		Overflows: s.overflows.Load(),
		Filtered:  s.filtered.Load(),
	}
	if ns := s.lastEvent.Load(); ns != 0 {
		snap.LastEvent = time.Unix(0, ns)
	}
	return snap
}

func (s *Stats) gotMessage() {
	s.received.Add(1)
	metrics.received.Inc()
}

func (s *Stats) gotEvent(ev Event) {
	s.events.Add(1)
	s.lastEvent.Store(time.Now().UnixNano())
	metrics.events.WithLabelValues(string(ev.Entity.Kind), ev.Action.String()).Inc()
}

func (s *Stats) gotMalformed() {
	s.malformed.Add(1)
	metrics.malformed.Inc()
}

func (s *Stats) gotOverflow() {
	s.overflows.Add(1)
	metrics.overflows.Inc()
}

func (s *Stats) gotFiltered() {
	s.filtered.Add(1)
	metrics.filtered.Inc()
}
