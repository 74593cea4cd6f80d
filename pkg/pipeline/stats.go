package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var metrics = struct {
	enqueued      prometheus.Counter
	flushes       prometheus.Counter
	written       prometheus.Counter
	failures      prometheus.Counter
	retries       prometheus.Counter
	compacted     prometheus.Counter
	dropped       prometheus.Counter
	pending       prometheus.Gauge
	throttled     prometheus.Gauge
	flushDuration prometheus.Histogram
}{
	enqueued: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "pipeline",
		Name:      "records_enqueued_total",
		Help:      "Number of records handed to the pipeline",
	}),
	flushes: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "pipeline",
		Name:      "flushes_total",
		Help:      "Number of batch writes attempted",
	}),
	written: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "pipeline",
		Name:      "records_written_total",
		Help:      "Number of records acknowledged by APPL_DB",
	}),
	failures: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "pipeline",
		Name:      "write_failures_total",
		Help:      "Number of failed batch writes",
	}),
	retries: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "pipeline",
		Name:      "write_retries_total",
		Help:      "Number of batch writes retried after a failure",
	}),
	compacted: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "pipeline",
		Name:      "records_compacted_total",
		Help:      "Number of pending records superseded by a later record for the same row",
	}),
	dropped: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "pipeline",
		Name:      "records_dropped_total",
		Help:      "Number of records left unwritten at shutdown",
	}),
	pending: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "netsyncd",
		Subsystem: "pipeline",
		Name:      "pending_records",
		Help:      "Number of records waiting to be flushed",
	}),
	throttled: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "netsyncd",
		Subsystem: "pipeline",
		Name:      "throttled",
		Help:      "1 while the pending queue is at its cap and input is not read",
	}),
	flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "netsyncd",
		Subsystem: "pipeline",
		Name:      "flush_duration_seconds",
		Help:      "Duration of batch writes",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}),
}

func init() {
	prometheus.MustRegister(metrics.enqueued)
	prometheus.MustRegister(metrics.flushes)
	prometheus.MustRegister(metrics.written)
	prometheus.MustRegister(metrics.failures)
	prometheus.MustRegister(metrics.retries)
	prometheus.MustRegister(metrics.compacted)
	prometheus.MustRegister(metrics.dropped)
	prometheus.MustRegister(metrics.pending)
	prometheus.MustRegister(metrics.throttled)
	prometheus.MustRegister(metrics.flushDuration)
}

// Stats holds the pipeline counters.
type Stats struct {
	enqueued  atomic.Uint64
	flushes   atomic.Uint64
	written   atomic.Uint64
	failures  atomic.Uint64
	retries   atomic.Uint64
	compacts  atomic.Uint64
	drops     atomic.Uint64
	pending   atomic.Int64
	throttled atomic.Bool
	lastWrite atomic.Int64 // unix nanoseconds
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Enqueued  uint64    `json:"enqueued"`
	Flushes   uint64    `json:"flushes"`
	Written   uint64    `json:"written"`
	Failures  uint64    `json:"failures"`
	Retries   uint64    `json:"retries"`
	Compacted uint64    `json:"compacted"`
	Dropped   uint64    `json:"dropped"`
	Pending   int       `json:"pending"`
	Throttled bool      `json:"throttled"`
	LastWrite time.Time `json:"last_write,omitempty"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Enqueued:  s.enqueued.Load(),
		Flushes:   s.flushes.Load(),
		Written:   s.written.Load(),
		Failures:  s.failures.Load(),
		Retries:   s.retries.Load(),
		Compacted: s.compacts.Load(),
		Dropped:   s.drops.Load(),
		Pending:   int(s.pending.Load()),
		Throttled: s.throttled.Load(),
	}
	if ns := s.lastWrite.Load(); ns != 0 {
		snap.LastWrite = time.Unix(0, ns)
	}
	return snap
}

func (s *Stats) recordEnqueued() {
	s.enqueued.Add(1)
	metrics.enqueued.Inc()
}

func (s *Stats) recordWrite(n int, took time.Duration, err error) {
	s.flushes.Add(1)
	metrics.flushes.Inc()
	metrics.flushDuration.Observe(took.Seconds())
	if err != nil {
		s.failures.Add(1)
		metrics.failures.Inc()
		return
	}
	s.written.Add(uint64(n))
	s.lastWrite.Store(time.Now().UnixNano())
	metrics.written.Add(float64(n))
}

func (s *Stats) recordRetry() {
	s.retries.Add(1)
	metrics.retries.Inc()
}

func (s *Stats) recordCompacted(n int) {
	s.compacts.Add(uint64(n))
	metrics.compacted.Add(float64(n))
}

func (s *Stats) recordDropped(n int) {
	s.drops.Add(uint64(n))
	metrics.dropped.Add(float64(n))
}

func (s *Stats) setPending(n int) {
	s.pending.Store(int64(n))
	metrics.pending.Set(float64(n))
}

func (s *Stats) setThrottled(on bool) {
	if s.throttled.Swap(on) == on {
		return
	}
	if on {
		metrics.throttled.Set(1)
	} else {
		metrics.throttled.Set(0)
	}
}
