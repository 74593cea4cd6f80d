package rtnl

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/newtron-network/netsyncd/pkg/eoiu"
	"github.com/newtron-network/netsyncd/pkg/util"
)

// DefaultReceiveBufferSize is the user-space buffer one datagram is read
// into. Kernel dump batches fit in 32 KiB on common page sizes.
const DefaultReceiveBufferSize = 64 * 1024

// Conn is the datagram transport the source reads from. SocketConn is the
// kernel implementation; tests provide scripted ones.
type Conn interface {
	Receive(b []byte) (int, error)
	Send(b []byte) error
	Close() error
}

// Options configure a Source.
type Options struct {
	// Sentinel is the interface requested after the dumps to mark the end
	// of the initial update.
	Sentinel string
	// Prefixes select the interfaces projected into APPL_DB. Empty means
	// every interface.
	Prefixes []string
	// Resolver resolves neighbor ifindexes not yet seen in link messages.
	// Nil disables the fallback.
	Resolver Resolver
	// ReceiveBufferSize sizes the reused user-space datagram buffer.
	ReceiveBufferSize int
}

// nlmsgOverrun is NLMSG_OVERRUN: the kernel lost data for this socket.
const nlmsgOverrun = 0x4

type dumpPhase int

const (
	phaseIdle dumpPhase = iota
	phaseLinks
	phaseNeighbors
	phaseSentinel
	phaseLive
)

var phaseNames = [...]string{"idle", "link-dump", "neighbor-dump", "sentinel", "live"}

func (p dumpPhase) String() string { return phaseNames[p] }

// Source produces kernel change events for the life of the process. It is
// driven by a single reader goroutine; only Stats and Alive may be called
// from elsewhere.
type Source struct {
	conn Conn
	opts Options
	log  *logrus.Entry

	buf   []byte
	queue []Event
	head  int
	names map[int32]string

	seq        uint32
	pendingSeq uint32
	phase      dumpPhase
	overflow   bool

	stats  Stats
	closed atomic.Bool
	failed atomic.Bool
}

// NewSource wraps conn. Call Start to request the initial dumps.
func NewSource(conn Conn, opts Options) *Source {
	if opts.Sentinel == "" {
		opts.Sentinel = eoiu.DefaultSentinel
	}
	if opts.ReceiveBufferSize <= 0 {
		opts.ReceiveBufferSize = DefaultReceiveBufferSize
	}
	return &Source{
		conn:  conn,
		opts:  opts,
		log:   util.WithComponent("rtnl"),
		buf:   make([]byte, opts.ReceiveBufferSize),
		names: make(map[int32]string),
	}
}

// Start requests the link dump. The neighbor dump and the sentinel request
// follow automatically as each previous reply completes.
func (s *Source) Start() error {
	return s.request(phaseLinks, linkDumpRequest)
}

func (s *Source) request(phase dumpPhase, build func(seq uint32) []byte) error {
	s.seq++
	if err := s.conn.Send(build(s.seq)); err != nil {
		return err
	}
	s.phase = phase
	s.pendingSeq = s.seq
	s.log.Debugf("Requested %s (seq %d)", phase, s.seq)
	return nil
}

// Next returns the next event. It blocks until one is available or ctx is
// done. ErrOverflow is returned (and counted) when the kernel dropped
// messages; the caller should note it and call Next again. Any other error
// means the socket is unusable.
func (s *Source) Next(ctx context.Context) (Event, error) {
	for {
		if s.head < len(s.queue) {
			ev := s.queue[s.head]
			s.queue[s.head] = Event{}
			s.head++
			return ev, nil
		}
		s.queue, s.head = s.queue[:0], 0

		if s.overflow {
			s.overflow = false
			return Event{}, ErrOverflow
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		n, err := s.conn.Receive(s.buf)
		switch {
		case err == nil:
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, ErrOverflow):
			s.stats.gotOverflow()
			return Event{}, ErrOverflow
		default:
			s.failed.Store(true)
			return Event{}, err
		}

		if err := walkMessages(s.buf[:n], s.handle); err != nil {
			s.stats.gotMalformed()
			s.log.Debugf("Dropping rest of datagram: %v", err)
		}
	}
}

func (s *Source) handle(m message) {
	s.stats.gotMessage()

	switch m.Type {
	case unix.NLMSG_DONE:
		s.dumpDone(m.Seq)
	case unix.NLMSG_ERROR:
		s.requestFailed(m)
	case nlmsgOverrun:
		s.stats.gotOverflow()
		s.overflow = true
	case unix.RTM_NEWLINK, unix.RTM_DELLINK:
		s.handleLink(m)
	case unix.RTM_NEWNEIGH, unix.RTM_DELNEIGH:
		s.handleNeigh(m)
	default:
		s.stats.gotFiltered()
	}
}

func (s *Source) handleLink(m message) {
	ev, index, err := decodeLink(m)
	if err != nil {
		s.stats.gotMalformed()
		s.log.Debugf("Dropping link message: %v", err)
		return
	}
	// Names outlive RTM_DELLINK so that trailing neighbor deletions for the
	// removed interface still resolve.
	s.names[index] = ev.Entity.Name
	ev.Managed = s.accept(ev.Entity.Name)

	if s.phase == phaseSentinel && m.Seq == s.pendingSeq && m.Flags&unix.NLM_F_MULTI == 0 {
		ev.Sentinel = true
		s.phase = phaseLive
		s.log.Debugf("Sentinel %s answered; initial dump complete", ev.Entity.Name)
	}
	s.push(ev)
}

func (s *Source) handleNeigh(m message) {
	ev, hdr, err := decodeNeigh(m)
	if errors.Is(err, errSkip) {
		s.stats.gotFiltered()
		return
	}
	if err != nil {
		s.stats.gotMalformed()
		s.log.Debugf("Dropping neighbor message: %v", err)
		return
	}
	name := s.linkName(hdr.ifindex)
	if name == "" || !s.accept(name) {
		s.stats.gotFiltered()
		return
	}
	ev.Entity.Name = name
	s.push(ev)
}

func (s *Source) push(ev Event) {
	s.stats.gotEvent(ev)
	s.queue = append(s.queue, ev)
}

func (s *Source) dumpDone(seq uint32) {
	if seq != s.pendingSeq {
		return
	}
	var err error
	switch s.phase {
	case phaseLinks:
		err = s.request(phaseNeighbors, neighDumpRequest)
	case phaseNeighbors:
		err = s.request(phaseSentinel, func(seq uint32) []byte {
			return linkGetRequest(seq, s.opts.Sentinel)
		})
	default:
		return
	}
	if err != nil {
		s.phase = phaseLive
		s.log.Warnf("Initial dump sequence aborted; end of initial update relies on the reconciliation timeout: %v", err)
	}
}

func (s *Source) requestFailed(m message) {
	errno, err := nlmsgError(m.Payload)
	if err != nil {
		s.stats.gotMalformed()
		return
	}
	if errno == 0 || m.Seq != s.pendingSeq {
		return
	}
	s.log.Warnf("Kernel rejected %s request (seq %d): %v; end of initial update relies on the reconciliation timeout",
		s.phase, m.Seq, errno)
	s.phase = phaseLive
}

func (s *Source) linkName(index int32) string {
	if name, ok := s.names[index]; ok {
		return name
	}
	if s.opts.Resolver == nil {
		return ""
	}
	name, err := s.opts.Resolver.LinkName(int(index))
	if err != nil {
		s.log.Debugf("Dropping neighbor on unknown ifindex %d: %v", index, err)
		return ""
	}
	s.names[index] = name
	return name
}

func (s *Source) accept(name string) bool {
	if len(s.opts.Prefixes) == 0 {
		return true
	}
	for _, p := range s.opts.Prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Stats returns the source counters.
func (s *Source) Stats() *Stats { return &s.stats }

// Alive reports whether the socket is open and has not failed.
func (s *Source) Alive() bool {
	return !s.closed.Load() && !s.failed.Load()
}

// Close closes the underlying connection.
func (s *Source) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}
