package batch

import (
	"sort"
	"sync"
	"time"

	"github.com/rickgao/lastvalue/internal/model"
)

// Registry owns all batch state. It is safe for concurrent use; callers that need
// several operations to appear atomic (e.g., read records, merge, mark completed)
// must serialize them externally.
type Registry struct {
	mu sync.RWMutex

	// Every batch ever started, indexed by id. Never shrinks.
	batches map[string]*entry

	now func() time.Time
}

type entry struct {
	info    Info
	records []model.Observation // nil once terminal
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source used for StartedAt/EndedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		batches: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start creates a Started batch with no records.
func (r *Registry) Start(id string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.batches[id]; ok {
		return Info{}, &Error{Kind: KindAlreadyExists, BatchID: id, Status: e.info.Status}
	}

	e := &entry{
		info: Info{
			ID:        id,
			Status:    StatusStarted,
			StartedAt: r.now(),
		},
		records: make([]model.Observation, 0),
	}
	r.batches[id] = e
	return e.info, nil
}

// Append adds records to a Started batch and returns the updated metadata.
// A failing call appends nothing.
func (r *Registry) Append(id string, records []model.Observation) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.startedLocked(id)
	if err != nil {
		return Info{}, err
	}

	e.records = append(e.records, records...)
	e.info.Records = len(e.records)
	return e.info, nil
}

// Pending returns the records accumulated by a Started batch, in upload order.
// The returned slice is read-only and stays valid after later appends.
func (r *Registry) Pending(id string) ([]model.Observation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, err := r.startedLocked(id)
	if err != nil {
		return nil, err
	}

	n := len(e.records)
	return e.records[:n:n], nil
}

// Complete moves a Started batch to Completed and releases its records.
func (r *Registry) Complete(id string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.startedLocked(id)
	if err != nil {
		return Info{}, err
	}

	r.finishLocked(e, StatusCompleted)
	return e.info, nil
}

// Cancel moves a batch to Cancelled and discards its records, whatever its
// current status. Cancelling a terminal batch succeeds; previous reports the
// status before the call.
func (r *Registry) Cancel(id string) (info Info, previous Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.batches[id]
	if !ok {
		return Info{}, 0, &Error{Kind: KindNotFound, BatchID: id}
	}

	previous = e.info.Status
	if previous == StatusCancelled {
		return e.info, previous, nil
	}

	r.finishLocked(e, StatusCancelled)
	return e.info, previous, nil
}

// Get returns a batch's metadata.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.batches[id]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// List returns metadata for every known batch ordered by start time.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Info, 0, len(r.batches))
	for _, e := range r.batches {
		result = append(result, e.info)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result
}

// Counts returns the number of batches in each status.
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Status]int, 3)
	for _, e := range r.batches {
		counts[e.info.Status]++
	}
	return counts
}

// startedLocked returns the entry for id if it is Started (caller must hold a lock).
func (r *Registry) startedLocked(id string) (*entry, error) {
	e, ok := r.batches[id]
	if !ok {
		return nil, &Error{Kind: KindNotFound, BatchID: id}
	}
	if e.info.Status != StatusStarted {
		return nil, &Error{Kind: KindInvalidState, BatchID: id, Status: e.info.Status}
	}
	return e, nil
}

// finishLocked marks e terminal (caller must hold write lock).
func (r *Registry) finishLocked(e *entry, status Status) {
	e.info.Status = status
	e.info.EndedAt = r.now()
	e.records = nil
}
