package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/lastvalue/internal/merge"
	"github.com/rickgao/lastvalue/internal/model"
)

// Store is the shared last-value map. Reads are lock-free; Commit calls are
// serialized among themselves.
type Store struct {
	writeMu sync.Mutex
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// CommitResult describes the effect of one Commit.
type CommitResult struct {
	merge.Result
	Version uint64 // Store version after the commit
}

// New creates an empty store at version 0.
func New() *Store {
	s := &Store{now: time.Now}
	s.current.Store(&Snapshot{prices: map[string]model.Observation{}, takenAt: s.now()})
	return s
}

// LastPrice returns the stored observation for instrumentID. ok is false if no
// completed batch ever carried that instrument.
func (s *Store) LastPrice(instrumentID string) (obs model.Observation, ok bool) {
	return s.current.Load().Get(instrumentID)
}

// Snapshot returns the current point-in-time view. It reflects every Commit that
// returned before the call and none that starts after it.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Version returns the number of commits that changed the map.
func (s *Store) Version() uint64 {
	return s.current.Load().version
}

// Len returns the number of instruments with a stored value.
func (s *Store) Len() int {
	return s.current.Load().Len()
}

// Commit merges records with the newest-wins rule and publishes the result as one
// unit. Commits that change nothing leave the version unchanged.
func (s *Store) Commit(records []model.Observation) CommitResult {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.current.Load()
	next, res := merge.Apply(prev.prices, records)
	if !res.Changed() {
		return CommitResult{Result: res, Version: prev.version}
	}

	snap := &Snapshot{
		prices:  next,
		version: prev.version + 1,
		takenAt: s.now(),
	}
	s.current.Store(snap)

	return CommitResult{Result: res, Version: snap.version}
}
