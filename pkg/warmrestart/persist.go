package warmrestart

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/newtron-network/netsyncd/pkg/model"
)

// StateVersion is the persisted format version this build reads and writes.
const StateVersion = 1

// PersistedState is the on-disk entity cache. It is a hint for the next
// start, never a source of truth.
type PersistedState struct {
	Version  int                     `json:"version"`
	SavedAt  time.Time               `json:"saved_at"`
	Entities map[string]model.Entity `json:"entities"`

	undecodable map[string]error
}

// stateFile is the on-disk layout with entries left undecoded, so one bad
// entry does not reject the file.
type stateFile struct {
	Version  int                        `json:"version"`
	SavedAt  time.Time                  `json:"saved_at"`
	Entities map[string]json.RawMessage `json:"entities"`
}

// LoadState reads and structurally validates the state file. Entries are
// decoded one by one; those that do not decode are reported by Sanitize.
func LoadState(path string) (*PersistedState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("warmrestart: read state: %w", err)
	}

	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("warmrestart: parse %s: %w", path, err)
	}
	if file.Version != StateVersion {
		return nil, fmt.Errorf("warmrestart: %s has version %d, want %d", path, file.Version, StateVersion)
	}

	state := &PersistedState{
		Version:     file.Version,
		SavedAt:     file.SavedAt,
		Entities:    make(map[string]model.Entity, len(file.Entities)),
		undecodable: make(map[string]error),
	}
	for key, raw := range file.Entities {
		var e model.Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			state.undecodable[key] = err
			continue
		}
		state.Entities[key] = e
	}
	return state, nil
}

// Sanitize drops entries that cannot be reconciled: entries that did not
// decode, invalid entities and entries stored under a key that does not match
// the entity. It returns the dropped keys with the reason for each.
func (p *PersistedState) Sanitize() map[string]error {
	dropped := make(map[string]error, len(p.undecodable))
	for key, err := range p.undecodable {
		dropped[key] = err
	}
	p.undecodable = nil
	for key, e := range p.Entities {
		if err := e.Validate(); err != nil {
			dropped[key] = err
			delete(p.Entities, key)
			continue
		}
		if e.Key() != key {
			dropped[key] = fmt.Errorf("stored under %q but keys as %q", key, e.Key())
			delete(p.Entities, key)
		}
	}
	return dropped
}

// SaveState writes entities to path atomically: the snapshot goes to a
// temporary file in the same directory, is synced, then renamed over the
// previous one.
func SaveState(path string, entities map[string]model.Entity, now time.Time) error {
	state := PersistedState{
		Version:  StateVersion,
		SavedAt:  now.UTC(),
		Entities: entities,
	}
	if state.Entities == nil {
		state.Entities = map[string]model.Entity{}
	}

	data, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return fmt.Errorf("warmrestart: marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("warmrestart: create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("warmrestart: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("warmrestart: write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("warmrestart: sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("warmrestart: close state: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("warmrestart: chmod state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("warmrestart: rename state: %w", err)
	}
	return nil
}
