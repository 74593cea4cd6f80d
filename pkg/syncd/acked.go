package syncd

import (
	"maps"
	"sync"

	"github.com/newtron-network/netsyncd/pkg/model"
	"github.com/newtron-network/netsyncd/pkg/util"
)

// ackedState tracks the entities APPL_DB has acknowledged. The flusher
// updates it after each successful write and the syncer persists snapshots
// of it, so the state file never claims a row that was not written.
type ackedState struct {
	mu       sync.Mutex
	entities map[string]model.Entity
	rev      uint64 // bumped on every change
}

func newAckedState() *ackedState {
	return &ackedState{entities: make(map[string]model.Entity)}
}

// seed starts from the cache of a warm start: those rows were acknowledged
// by the previous run.
func (a *ackedState) seed(cached map[string]model.Entity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	maps.Copy(a.entities, cached)
}

// record applies a written batch. It is the pipeline's OnWritten hook.
func (a *ackedState) record(batch []model.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range batch {
		a.rev++
		if rec.Op == model.OpDelete {
			delete(a.entities, rec.Key)
			continue
		}
		e, err := model.EntityFromFields(rec.Table, rec.Key, rec.Fields)
		if err != nil {
			// Forget the row so the next warm start rewrites it.
			delete(a.entities, rec.Key)
			util.WithEntity("syncd", rec.ID()).Warnf("Written record does not decode: %v", err)
			continue
		}
		a.entities[rec.Key] = e
	}
}

// snapshot returns a copy of the acknowledged entities and the revision it
// reflects.
func (a *ackedState) snapshot() (map[string]model.Entity, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.entities), a.rev
}
