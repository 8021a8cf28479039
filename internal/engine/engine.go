package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/lastvalue/internal/batch"
	"github.com/rickgao/lastvalue/internal/model"
	"github.com/rickgao/lastvalue/internal/store"
)

// Engine coordinates the batch registry and the last-value store.
type Engine struct {
	// Held for the whole of every producer operation, including observer calls.
	mu sync.Mutex

	registry  *batch.Registry
	store     *store.Store
	observers []Observer

	logger *slog.Logger
	now    func() time.Time
}

// CommitSummary is returned by CompleteBatch.
type CommitSummary struct {
	Batch     batch.Info
	Applied   int    // Observations that replaced a stored value
	Discarded int    // Observations that lost to an equal or newer stored value
	Version   uint64 // Store version after the commit
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the time source for batch timestamps and events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithObserver registers observers at construction time.
func WithObserver(obs ...Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, obs...)
	}
}

// New creates an engine with an empty registry and store.
func New(opts ...Option) *Engine {
	e := &Engine{
		store:  store.New(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.registry = batch.NewRegistry(batch.WithClock(e.now))
	return e
}

// Subscribe adds an observer. Events for calls already finished are not replayed.
func (e *Engine) Subscribe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// StartBatch registers a new batch in the Started state.
func (e *Engine) StartBatch(ctx context.Context, batchID string) (batch.Info, error) {
	if err := ctx.Err(); err != nil {
		return batch.Info{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	info, err := e.registry.Start(batchID)
	if err != nil {
		e.reject(OpStart, batchID, err)
		return batch.Info{}, err
	}

	e.logger.Debug("batch started", "batch_id", batchID)
	e.emit(Event{Type: EventStarted, Op: OpStart, BatchID: batchID})
	return info, nil
}

// UploadData appends records to a Started batch. Nothing becomes visible to
// readers until the batch completes.
func (e *Engine) UploadData(ctx context.Context, batchID string, records []model.Observation) (batch.Info, error) {
	if err := ctx.Err(); err != nil {
		return batch.Info{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	info, err := e.registry.Append(batchID, records)
	if err != nil {
		e.reject(OpUpload, batchID, err)
		return batch.Info{}, err
	}

	e.logger.Debug("batch upload",
		"batch_id", batchID,
		"records", len(records),
		"total", info.Records,
	)
	e.emit(Event{Type: EventUploaded, Op: OpUpload, BatchID: batchID, Records: len(records)})
	return info, nil
}

// CompleteBatch merges a Started batch into the store and marks it Completed.
// Readers see either none or all of its effect.
func (e *Engine) CompleteBatch(ctx context.Context, batchID string) (CommitSummary, error) {
	if err := ctx.Err(); err != nil {
		return CommitSummary{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pending, err := e.registry.Pending(batchID)
	if err != nil {
		e.reject(OpComplete, batchID, err)
		return CommitSummary{}, err
	}

	res := e.store.Commit(pending)

	// Cannot fail: the batch was Started above and the lock is still held.
	info, err := e.registry.Complete(batchID)
	if err != nil {
		e.logger.Error("batch changed state during commit", "batch_id", batchID, "error", err)
		return CommitSummary{}, err
	}

	e.logger.Info("batch completed",
		"batch_id", batchID,
		"records", info.Records,
		"applied", len(res.Applied),
		"discarded", res.Discarded,
		"version", res.Version,
	)
	e.emit(Event{
		Type:      EventCompleted,
		Op:        OpComplete,
		BatchID:   batchID,
		Records:   info.Records,
		Applied:   res.Applied,
		Discarded: res.Discarded,
		Version:   res.Version,
	})

	return CommitSummary{
		Batch:     info,
		Applied:   len(res.Applied),
		Discarded: res.Discarded,
		Version:   res.Version,
	}, nil
}

// CancelBatch discards a batch's pending records and marks it Cancelled. Any
// status is accepted; previous reports the status before the call. The store is
// never touched, so cancelling a Completed batch leaves its merged prices visible.
func (e *Engine) CancelBatch(ctx context.Context, batchID string) (info batch.Info, previous batch.Status, err error) {
	if err := ctx.Err(); err != nil {
		return batch.Info{}, 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	info, previous, err = e.registry.Cancel(batchID)
	if err != nil {
		e.reject(OpCancel, batchID, err)
		return batch.Info{}, 0, err
	}

	switch previous {
	case batch.StatusCompleted:
		e.logger.Warn("cancelled a completed batch, merged prices are kept", "batch_id", batchID)
	case batch.StatusCancelled:
		e.logger.Debug("batch already cancelled", "batch_id", batchID)
	default:
		e.logger.Info("batch cancelled", "batch_id", batchID, "discarded", info.Records)
	}

	e.emit(Event{
		Type:     EventCancelled,
		Op:       OpCancel,
		BatchID:  batchID,
		Records:  info.Records,
		Previous: previous,
	})
	return info, previous, nil
}

// LastPrice returns the current value for instrumentID, or ok=false if no
// completed batch has carried it.
func (e *Engine) LastPrice(instrumentID string) (model.Observation, bool) {
	return e.store.LastPrice(instrumentID)
}

// Snapshot returns a consistent view of every stored price.
func (e *Engine) Snapshot() *store.Snapshot {
	return e.store.Snapshot()
}

// Len returns the number of instruments with a stored price.
func (e *Engine) Len() int {
	return e.store.Len()
}

// Version returns the store version.
func (e *Engine) Version() uint64 {
	return e.store.Version()
}

// Batch returns metadata for one batch.
func (e *Engine) Batch(batchID string) (batch.Info, bool) {
	return e.registry.Get(batchID)
}

// Batches returns metadata for every batch ever started.
func (e *Engine) Batches() []batch.Info {
	return e.registry.List()
}

// BatchCounts returns the number of batches per status.
func (e *Engine) BatchCounts() map[batch.Status]int {
	return e.registry.Counts()
}

// reject logs and publishes a refused call (caller must hold mu).
func (e *Engine) reject(op Op, batchID string, err error) {
	kind, _ := batch.KindOf(err)
	e.logger.Debug("batch operation rejected",
		"op", string(op),
		"batch_id", batchID,
		"kind", kind.String(),
	)
	e.emit(Event{Type: EventRejected, Op: op, BatchID: batchID, Kind: kind, Err: err})
}

// emit stamps ev and hands it to every observer (caller must hold mu).
func (e *Engine) emit(ev Event) {
	ev.At = e.now()
	for _, o := range e.observers {
		o.OnEvent(ev)
	}
}
