package reconcile

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/netsyncd/pkg/model"
	"github.com/newtron-network/netsyncd/pkg/util"
)

// ErrAlreadyApplied is returned when a reconciliation cycle is applied a
// second time.
var ErrAlreadyApplied = errors.New("reconciliation already applied for this cycle")

// Sink receives the records of an applied diff, in order.
type Sink func(model.Record) error

// Engine applies one reconciliation cycle. The diff may be recomputed any
// number of times but is applied at most once.
type Engine struct {
	log *logrus.Entry

	mu      sync.Mutex
	applied bool
	last    Diff
}

// NewEngine creates an engine for one warm-restart cycle.
func NewEngine() *Engine {
	return &Engine{log: util.WithComponent("reconcile")}
}

// Apply computes the diff between cached and observed and hands the
// resulting records to sink. A second call returns ErrAlreadyApplied wrapped
// in an invariant error and emits nothing.
func (e *Engine) Apply(cached, observed map[string]model.Entity, sink Sink) (Diff, error) {
	e.mu.Lock()
	if e.applied {
		e.mu.Unlock()
		err := util.NewInvariantError("reconcile", "Apply", "applied", "")
		e.log.WithError(err).Error("Reconciliation applied twice")
		return Diff{}, errors.Join(ErrAlreadyApplied, err)
	}
	e.applied = true
	e.mu.Unlock()

	d := Compute(cached, observed)
	e.log.WithFields(logrus.Fields{
		"cached":   len(cached),
		"observed": len(observed),
		"add":      len(d.ToAdd),
		"update":   len(d.ToUpdate),
		"delete":   len(d.ToDelete),
	}).Info("Reconciliation diff computed")

	for _, rec := range Records(d, cached, observed) {
		if err := sink(rec); err != nil {
			return d, err
		}
	}

	e.mu.Lock()
	e.last = d
	e.mu.Unlock()
	return d, nil
}

// Applied reports whether Apply has run.
func (e *Engine) Applied() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applied
}

// Last returns the diff produced by Apply.
func (e *Engine) Last() Diff {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
