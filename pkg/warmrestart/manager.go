package warmrestart

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/netsyncd/pkg/model"
	"github.com/newtron-network/netsyncd/pkg/util"
)

// DefaultReconciliationTimeout bounds the initial sync when no EOIU arrives.
const DefaultReconciliationTimeout = 5 * time.Second

// Config configures a Manager.
type Config struct {
	StatePath             string
	ReconciliationTimeout time.Duration
}

// Status is a point-in-time view of the manager for health and CLI output.
type Status struct {
	State        State     `json:"-"`
	StateName    string    `json:"state"`
	Reason       Reason    `json:"reason,omitempty"`
	CachedCount  int       `json:"cached_entities"`
	Dropped      int       `json:"dropped_entries"`
	BeganAt      time.Time `json:"began_at,omitempty"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	LastSave     time.Time `json:"last_save,omitempty"`
	SaveFailures uint64    `json:"save_failures"`
}

// Manager drives the warm-restart state machine. Transitions are made by
// the syncer goroutine; ShouldSkipDownstreamWrites and Status may be called
// from any goroutine.
type Manager struct {
	cfg Config
	log *logrus.Entry
	now func() time.Time

	mu          sync.Mutex
	state       State
	initialized bool
	cached      map[string]model.Entity
	cachedTaken bool
	cachedCount int
	dropped     int
	timer       *time.Timer
	reason      Reason
	beganAt     time.Time
	completedAt time.Time
	lastSave    time.Time
	saveErrors  uint64
}

// NewManager creates a manager in ColdStart. Call Initialize to load the
// state file.
func NewManager(cfg Config) *Manager {
	if cfg.ReconciliationTimeout <= 0 {
		cfg.ReconciliationTimeout = DefaultReconciliationTimeout
	}
	return &Manager{
		cfg: cfg,
		log: util.WithComponent("warmrestart"),
		now: time.Now,
	}
}

// Initialize loads the state file and classifies the start. Every load
// failure is logged and yields ColdStart; it never returns an error.
func (m *Manager) Initialize() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		m.log.WithField("state", m.state).Warn("Initialize called twice; keeping current state")
		return m.state
	}
	m.initialized = true

	state, err := LoadState(m.cfg.StatePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.log.Infof("No state file at %s; cold start", m.cfg.StatePath)
		} else {
			m.log.Warnf("Ignoring unusable state file; cold start: %v", err)
		}
		m.setState(ColdStart)
		return ColdStart
	}

	for key, reason := range state.Sanitize() {
		util.WithEntity("warmrestart", key).Warnf("Dropping corrupt cache entry: %v", reason)
		m.dropped++
		metrics.dropped.Inc()
	}
	m.cached = state.Entities
	m.cachedCount = len(state.Entities)
	metrics.cached.Set(float64(m.cachedCount))

	m.log.Infof("Loaded %d cached entities saved at %s; warm start",
		m.cachedCount, state.SavedAt.Format(time.RFC3339))
	m.setState(WarmStart)
	return WarmStart
}

// BeginInitialSync enters InitialSyncInProgress and arms the reconciliation
// timer. It returns false, and logs, when called from any other state than
// ColdStart or WarmStart.
func (m *Manager) BeginInitialSync() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.canTransition(InitialSyncInProgress) {
		m.log.WithField("state", m.state).Info("BeginInitialSync ignored; initial sync already started")
		return false
	}
	m.beganAt = m.now()
	m.timer = time.NewTimer(m.cfg.ReconciliationTimeout)
	m.setState(InitialSyncInProgress)
	m.log.Infof("Initial sync started; writes held for up to %s", m.cfg.ReconciliationTimeout)
	return true
}

// TimeoutC fires when the reconciliation timeout elapses. It is nil before
// BeginInitialSync and after completion, so selecting on it is safe at any
// time.
func (m *Manager) TimeoutC() <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer == nil || m.state != InitialSyncInProgress {
		return nil
	}
	return m.timer.C
}

// CompleteInitialSync moves to InitialSyncComplete. It returns true exactly
// once; later calls are logged no-ops.
func (m *Manager) CompleteInitialSync(reason Reason) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.canTransition(InitialSyncComplete) {
		m.log.WithFields(logrus.Fields{
			"state":  m.state,
			"reason": reason,
		}).Debug("CompleteInitialSync ignored")
		return false
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	from := m.state
	m.reason = reason
	m.completedAt = m.now()
	m.setState(InitialSyncComplete)
	metrics.completions.WithLabelValues(string(reason)).Inc()

	entry := m.log.WithFields(logrus.Fields{"from": from, "reason": reason})
	if from == InitialSyncInProgress {
		entry = entry.WithField("elapsed", m.completedAt.Sub(m.beganAt).Round(time.Millisecond))
	}
	if reason == ReasonTimeout {
		entry.Warn("Initial sync completed by timeout; no EOIU marker seen")
	} else {
		entry.Info("Initial sync complete")
	}
	return true
}

// ShouldSkipDownstreamWrites reports whether APPL_DB writes are held back.
func (m *Manager) ShouldSkipDownstreamWrites() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == InitialSyncInProgress
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TakeCached hands the loaded cache to reconciliation. It returns the map
// once; later calls return nil and false.
func (m *Manager) TakeCached() (map[string]model.Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cachedTaken {
		m.log.Error("Cached entities requested twice")
		return nil, false
	}
	m.cachedTaken = true
	cached := m.cached
	m.cached = nil
	if cached == nil {
		cached = make(map[string]model.Entity)
	}
	return cached, true
}

// SaveState persists entities. Failures are logged and returned for the
// caller to count; they are never fatal.
func (m *Manager) SaveState(entities map[string]model.Entity) error {
	now := m.now()
	if err := SaveState(m.cfg.StatePath, entities, now); err != nil {
		m.mu.Lock()
		m.saveErrors++
		m.mu.Unlock()
		metrics.saveErrors.Inc()
		m.log.Warnf("State save failed: %v", err)
		return err
	}
	m.mu.Lock()
	m.lastSave = now
	m.mu.Unlock()
	metrics.saves.Inc()
	m.log.Debugf("Saved %d entities to %s", len(entities), m.cfg.StatePath)
	return nil
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:        m.state,
		StateName:    m.state.String(),
		Reason:       m.reason,
		CachedCount:  m.cachedCount,
		Dropped:      m.dropped,
		BeganAt:      m.beganAt,
		CompletedAt:  m.completedAt,
		LastSave:     m.lastSave,
		SaveFailures: m.saveErrors,
	}
}

func (m *Manager) setState(s State) {
	m.state = s
	metrics.state.Set(float64(s))
}

// DiscardState removes the state file so the next start is cold.
func (m *Manager) DiscardState() error {
	err := os.Remove(m.cfg.StatePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warnf("Discarding state file failed: %v", err)
		return err
	}
	m.log.Warn("State file discarded; next start will be cold")
	return nil
}
