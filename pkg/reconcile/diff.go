// Package reconcile computes the difference between the entity cache loaded
// at a warm start and the entities observed live during the initial sync,
// and turns it into ordered APPL_DB records.
package reconcile

import (
	"sort"

	"github.com/newtron-network/netsyncd/pkg/model"
)

// Diff is the change set between two snapshots. The key slices are sorted
// and disjoint.
type Diff struct {
	ToAdd    []string `json:"to_add"`
	ToUpdate []string `json:"to_update"`
	ToDelete []string `json:"to_delete"`
}

// Empty reports whether the diff carries no changes.
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToUpdate) == 0 && len(d.ToDelete) == 0
}

// Len returns the number of keys in the diff.
func (d Diff) Len() int {
	return len(d.ToAdd) + len(d.ToUpdate) + len(d.ToDelete)
}

// Compute diffs cached against observed. Neither map is modified.
func Compute(cached, observed map[string]model.Entity) Diff {
	var d Diff
	for key, obs := range observed {
		old, ok := cached[key]
		switch {
		case !ok:
			d.ToAdd = append(d.ToAdd, key)
		case !old.Equal(obs):
			d.ToUpdate = append(d.ToUpdate, key)
		}
	}
	for key := range cached {
		if _, ok := observed[key]; !ok {
			d.ToDelete = append(d.ToDelete, key)
		}
	}
	sort.Strings(d.ToAdd)
	sort.Strings(d.ToUpdate)
	sort.Strings(d.ToDelete)
	return d
}

// Records translates a diff into APPL_DB records: additions and updates
// first, deletions last, so that no entity that should merely change is
// briefly absent downstream.
func Records(d Diff, cached, observed map[string]model.Entity) []model.Record {
	records := make([]model.Record, 0, d.Len())
	for _, key := range d.ToAdd {
		records = append(records, model.SetRecord(model.OpAdd, observed[key]))
	}
	for _, key := range d.ToUpdate {
		records = append(records, model.SetRecord(model.OpUpdate, observed[key]))
	}
	for _, key := range d.ToDelete {
		records = append(records, model.DeleteRecord(cached[key]))
	}
	return records
}

// Apply returns the snapshot that results from applying d to cached.
func Apply(d Diff, cached, observed map[string]model.Entity) map[string]model.Entity {
	out := make(map[string]model.Entity, len(cached)+len(d.ToAdd))
	for k, e := range cached {
		out[k] = e
	}
	for _, key := range d.ToAdd {
		out[key] = observed[key]
	}
	for _, key := range d.ToUpdate {
		out[key] = observed[key]
	}
	for _, key := range d.ToDelete {
		delete(out, key)
	}
	return out
}
