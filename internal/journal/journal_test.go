package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/lastvalue/internal/batch"
	"github.com/rickgao/lastvalue/internal/engine"
	"github.com/rickgao/lastvalue/internal/model"
)

// fakeDB records queued statements and answers every Exec with one inserted row.
type fakeDB struct {
	mu      sync.Mutex
	batches int
	args    [][]any
	sql     []string
	fail    error
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	for _, q := range b.QueuedQueries {
		f.args = append(f.args, q.Arguments)
	}
	return &fakeResults{n: b.Len(), fail: f.fail}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sql = append(f.sql, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), f.fail
}

func (f *fakeDB) rows() [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]any, len(f.args))
	copy(out, f.args)
	return out
}

type fakeResults struct {
	n    int
	fail error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.fail != nil {
		return pgconn.CommandTag{}, r.fail
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func TestBuffer_FIFO(t *testing.T) {
	buf := NewBuffer[int](4, 100)

	for i := 0; i < 10; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	got := buf.DrainTo(3)
	if len(got) != 3 {
		t.Fatalf("len(DrainTo(3)) = %d, want 3", len(got))
	}
	rest := buf.DrainTo(0)
	all := append(got, rest...)
	for i, v := range all {
		if v != i {
			t.Errorf("item[%d] = %d, want %d", i, v, i)
		}
	}

	if buf.DrainTo(0) != nil {
		t.Error("DrainTo on empty buffer should return nil")
	}
}

func TestBuffer_GrowsAndDropsAtLimit(t *testing.T) {
	buf := NewBuffer[int](2, 8)

	sent := 0
	for i := 0; i < 12; i++ {
		if buf.Send(i) {
			sent++
		}
	}

	stats := buf.Stats()
	if sent != 8 {
		t.Errorf("accepted = %d, want 8", sent)
	}
	if stats.Capacity != 8 {
		t.Errorf("Capacity = %d, want 8", stats.Capacity)
	}
	if stats.Dropped != 4 {
		t.Errorf("Dropped = %d, want 4", stats.Dropped)
	}
	if stats.Resizes == 0 {
		t.Error("Resizes = 0, expected growth")
	}

	got := buf.DrainTo(0)
	for i, v := range got {
		if v != i {
			t.Errorf("item[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestBuffer_GrowPreservesOrderAfterWrap(t *testing.T) {
	buf := NewBuffer[int](10, 1000)

	for i := 0; i < 5; i++ {
		buf.Send(i)
	}
	buf.DrainTo(4)
	for i := 5; i < 20; i++ {
		buf.Send(i)
	}

	got := buf.DrainTo(0)
	for i, v := range got {
		if v != i+4 {
			t.Errorf("item[%d] = %d, want %d", i, v, i+4)
		}
	}
}

func TestBuffer_Closed(t *testing.T) {
	buf := NewBuffer[int](4, 4)
	buf.Send(1)
	buf.Close()

	if buf.Send(2) {
		t.Error("Send after Close returned true")
	}
	if got := buf.DrainTo(0); len(got) != 1 {
		t.Errorf("len(DrainTo) = %d, want 1", len(got))
	}
}

func TestRowFromEvent(t *testing.T) {
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ev   engine.Event
		want Row
	}{
		{
			name: "completed",
			ev: engine.Event{
				Type: engine.EventCompleted, Op: engine.OpComplete, BatchID: "B1", At: at,
				Records: 3, Applied: []model.Observation{{InstrumentID: "A"}, {InstrumentID: "B"}}, Discarded: 1, Version: 7,
			},
			want: Row{BatchID: "B1", Event: "completed", Op: "complete", Records: 3, Applied: 2, Discarded: 1, Version: 7, OccurredAt: at},
		},
		{
			name: "cancelled",
			ev:   engine.Event{Type: engine.EventCancelled, Op: engine.OpCancel, BatchID: "B4", At: at, Records: 1, Previous: batch.StatusStarted},
			want: Row{BatchID: "B4", Event: "cancelled", Op: "cancel", Records: 1, Previous: "started", OccurredAt: at},
		},
		{
			name: "rejected",
			ev: engine.Event{
				Type: engine.EventRejected, Op: engine.OpUpload, BatchID: "B2", At: at,
				Kind: batch.KindNotFound, Err: &batch.Error{Kind: batch.KindNotFound, BatchID: "B2"},
			},
			want: Row{BatchID: "B2", Event: "rejected", Op: "upload", Kind: "not_found", Detail: `batch "B2" not found`, OccurredAt: at},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rowFromEvent("lv-1", tt.ev)
			if got.InstanceID != "lv-1" {
				t.Errorf("InstanceID = %q, want %q", got.InstanceID, "lv-1")
			}
			if got.ID.String() == "00000000-0000-0000-0000-000000000000" {
				t.Error("ID should be generated")
			}
			got.ID = tt.want.ID
			got.InstanceID = ""
			if got != tt.want {
				t.Errorf("row = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestWriter_FlushOnStop(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(Config{InstanceID: "lv-1", BatchSize: 100, FlushInterval: time.Hour, BufferSize: 16}, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, id := range []string{"B1", "B2", "B3"} {
		w.OnEvent(engine.Event{Type: engine.EventStarted, Op: engine.OpStart, BatchID: id, At: time.Now()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	rows := db.rows()
	if len(rows) != 3 {
		t.Fatalf("inserted rows = %d, want 3", len(rows))
	}
	if rows[0][2] != "B1" {
		t.Errorf("first batch_id = %v, want B1", rows[0][2])
	}
	if s := w.Stats(); s.Inserts != 3 {
		t.Errorf("Inserts = %d, want 3", s.Inserts)
	}
}

func TestWriter_FlushAtBatchSize(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(Config{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 16}, db, nil)
	w.Start(context.Background())
	defer w.Stop(context.Background())

	w.OnEvent(engine.Event{Type: engine.EventStarted, BatchID: "A"})
	w.OnEvent(engine.Event{Type: engine.EventStarted, BatchID: "B"})

	deadline := time.Now().Add(2 * time.Second)
	for len(db.rows()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("rows = %d after 2s, want 2", len(db.rows()))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWriter_InsertErrorCounted(t *testing.T) {
	db := &fakeDB{fail: errors.New("connection refused")}
	w := NewWriter(Config{BatchSize: 10, FlushInterval: time.Hour, BufferSize: 4}, db, nil)
	w.Start(context.Background())

	w.OnEvent(engine.Event{Type: engine.EventStarted, BatchID: "A"})
	w.Stop(context.Background())

	s := w.Stats()
	if s.Errors != 1 {
		t.Errorf("Errors = %d, want 1", s.Errors)
	}
	if s.Inserts != 0 {
		t.Errorf("Inserts = %d, want 0", s.Inserts)
	}
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if len(db.sql) != 1 {
		t.Fatalf("statements = %d, want 1", len(db.sql))
	}

	db = &fakeDB{fail: errors.New("permission denied")}
	if err := EnsureSchema(context.Background(), db); err == nil {
		t.Error("EnsureSchema() expected error, got nil")
	}
}
