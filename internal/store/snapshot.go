package store

import (
	"sort"
	"time"

	"github.com/rickgao/lastvalue/internal/model"
)

// Snapshot is an immutable view of the last-value map at one store version.
type Snapshot struct {
	prices  map[string]model.Observation // never mutated after publish
	version uint64
	takenAt time.Time
}

// Version is the store version this snapshot was published at.
func (s *Snapshot) Version() uint64 { return s.version }

// PublishedAt is when the commit that produced this snapshot finished.
func (s *Snapshot) PublishedAt() time.Time { return s.takenAt }

// Len returns the number of instruments.
func (s *Snapshot) Len() int { return len(s.prices) }

// Get returns the observation for instrumentID.
func (s *Snapshot) Get(instrumentID string) (model.Observation, bool) {
	o, ok := s.prices[instrumentID]
	return o, ok
}

// Prices returns a caller-owned copy of the mapping.
func (s *Snapshot) Prices() map[string]model.Observation {
	out := make(map[string]model.Observation, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

// Instruments returns the instrument ids in lexical order.
func (s *Snapshot) Instruments() []string {
	ids := make([]string, 0, len(s.prices))
	for k := range s.prices {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

// Observations returns all observations ordered by instrument id.
func (s *Snapshot) Observations() []model.Observation {
	ids := s.Instruments()
	out := make([]model.Observation, len(ids))
	for i, id := range ids {
		out[i] = s.prices[id]
	}
	return out
}
