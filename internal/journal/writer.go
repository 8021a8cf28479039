package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/lastvalue/internal/engine"
)

// DB is the subset of *pgxpool.Pool the writer needs.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config contains writer settings.
type Config struct {
	InstanceID string

	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the initial queue capacity. The queue grows up to
	// 16x this size before dropping events.
	BufferSize int
}

// Stats holds writer counters.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

const insertSQL = `
	INSERT INTO batch_events (id, instance_id, batch_id, event, op, records, applied, discarded, version, previous, kind, detail, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), $13)
	ON CONFLICT (id) DO NOTHING
`

// Writer is an engine observer that persists events to batch_events.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	db     DB
	buf    *Buffer[Row]

	// Serializes flushes between the loop and Stop.
	flushMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a Writer. Call Start before events are expected to flush.
func NewWriter(cfg Config, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Writer{
		cfg:    cfg,
		logger: logger,
		db:     db,
		buf:    NewBuffer[Row](cfg.BufferSize, cfg.BufferSize*16),
	}
}

// OnEvent queues ev. It never blocks; events are dropped when the queue is full.
func (w *Writer) OnEvent(ev engine.Event) {
	if !w.buf.Send(rowFromEvent(w.cfg.InstanceID, ev)) {
		w.statsMu.Lock()
		w.stats.Dropped++
		w.statsMu.Unlock()
	}
}

// Start begins the background flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.loop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop ends the loop and flushes whatever is still queued using ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	w.buf.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	// Final flush
	w.flushAll(ctx)
	w.logger.Info("journal writer stopped", "pending", w.buf.Len())
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

func (w *Writer) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.buf.Ready():
			if w.buf.Len() >= w.cfg.BatchSize {
				w.flushAll(w.ctx)
			}
		case <-ticker.C:
			w.flushAll(w.ctx)
		}
	}
}

// flushAll writes queued rows in BatchSize chunks until the queue is empty or
// a write fails.
func (w *Writer) flushAll(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	for {
		rows := w.buf.DrainTo(w.cfg.BatchSize)
		if len(rows) == 0 {
			return
		}
		if !w.flush(ctx, rows) {
			return
		}
	}
}

// flush inserts rows and reports success. Failed rows are dropped.
func (w *Writer) flush(ctx context.Context, rows []Row) bool {
	start := time.Now()

	conflicts, err := w.batchInsert(ctx, rows)
	if err != nil {
		w.logger.Error("journal insert failed", "error", err, "count", len(rows))
		w.statsMu.Lock()
		w.stats.Errors++
		w.statsMu.Unlock()
		return false
	}

	w.statsMu.Lock()
	w.stats.Inserts += int64(len(rows) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.statsMu.Unlock()

	w.logger.Debug("flushed batch events",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return true
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []Row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL,
			r.ID, r.InstanceID, r.BatchID, r.Event, r.Op,
			r.Records, r.Applied, r.Discarded, r.Version,
			r.Previous, r.Kind, r.Detail, r.OccurredAt,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
