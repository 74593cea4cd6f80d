package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/netsyncd/pkg/util"
)

const (
	DefaultStallThreshold     = 30 * time.Second
	DefaultErrorRateThreshold = 0.05
	DefaultInterval           = 5 * time.Second
)

// Config tunes a Monitor. Zero values select the defaults.
type Config struct {
	StallThreshold     time.Duration
	ErrorRateThreshold float64
	Interval           time.Duration
}

// Monitor samples the daemon's signals and keeps the latest report. It only
// reads; it never acts on what it sees.
type Monitor struct {
	cfg    Config
	sample func() Sample
	checks []Check
	log    *logrus.Entry

	mu      sync.Mutex
	started time.Time
	prev    Sample
	last    Report
}

// NewMonitor creates a monitor that reads signals from sample.
func NewMonitor(cfg Config, sample func() Sample) *Monitor {
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = DefaultStallThreshold
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = DefaultErrorRateThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Monitor{
		cfg:    cfg,
		sample: sample,
		checks: []Check{
			&SocketCheck{},
			&DatabaseCheck{},
			&StallCheck{Threshold: cfg.StallThreshold},
			&ErrorRateCheck{Threshold: cfg.ErrorRateThreshold},
		},
		log: util.WithComponent("health"),
	}
}

// Evaluate takes a sample, stores the resulting report, and returns it.
func (m *Monitor) Evaluate() Report {
	s := m.sample()
	if s.Now.IsZero() {
		s.Now = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started.IsZero() {
		m.started = s.Now
	}
	w := Window{
		Sample:         s,
		Started:        m.started,
		ProcessedDelta: delta(s.Processed, m.prev.Processed),
		ErrorsDelta:    delta(s.Errors, m.prev.Errors),
	}
	report := evaluate(m.checks, w)
	m.prev = s

	if report.Overall != m.last.Overall && !m.last.Timestamp.IsZero() {
		entry := m.log.WithFields(logrus.Fields{
			"from":    m.last.Overall,
			"to":      report.Overall,
			"reasons": report.Reasons,
		})
		if report.Overall == StatusHealthy {
			entry.Info("Health recovered")
		} else {
			entry.Warn("Health changed")
		}
	}
	m.last = report
	recordReport(report)
	return report
}

// Status returns the last report. Before the first evaluation it reports
// healthy with no results.
func (m *Monitor) Status() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last.Overall == "" {
		return Report{Overall: StatusHealthy}
	}
	return m.last
}

// Run evaluates every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Evaluate()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Evaluate()
		}
	}
}

// delta tolerates counters that went backwards.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}
