package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rickgao/lastvalue/internal/api"
	"github.com/rickgao/lastvalue/internal/batch"
	"github.com/rickgao/lastvalue/internal/engine"
)

const t0 int64 = 1_700_000_000_000

// mockReader hands out queued messages and records commits.
type mockReader struct {
	mu        sync.Mutex
	msgs      chan kafka.Message
	committed []int64
	closed    bool
	fetchErr  error
}

func newMockReader(values ...string) *mockReader {
	r := &mockReader{msgs: make(chan kafka.Message, len(values)+1)}
	for i, v := range values {
		r.msgs <- kafka.Message{Offset: int64(i), Value: []byte(v)}
	}
	return r
}

func (r *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	err := r.fetchErr
	r.fetchErr = nil
	r.mu.Unlock()
	if err != nil {
		return kafka.Message{}, err
	}

	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *mockReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *mockReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *mockReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Action
		wantErr bool
	}{
		{"start", `{"action":"start","batchId":"B1"}`, ActionStart, false},
		{"upload", `{"action":"upload","batchId":"B1","records":[{"instrumentId":"A","price":1,"asOf":1}]}`, ActionUpload, false},
		{"complete", `{"action":"complete","batchId":"B1"}`, ActionComplete, false},
		{"cancel", `{"action":"cancel","batchId":"B1"}`, ActionCancel, false},
		{"not json", `nope`, "", true},
		{"missing action", `{"batchId":"B1"}`, "", true},
		{"unknown action", `{"action":"merge","batchId":"B1"}`, "", true},
		{"missing batch", `{"action":"start"}`, "", true},
		{"records on start", `{"action":"start","batchId":"B1","records":[{"instrumentId":"A"}]}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if cmd.Action != tt.want {
				t.Errorf("Action = %q, want %q", cmd.Action, tt.want)
			}
		})
	}
}

func TestCommand_EncodeRoundTrip(t *testing.T) {
	in := Command{
		Action:  ActionUpload,
		BatchID: "B1",
		Records: []api.PriceRecord{{InstrumentID: "ABC", Price: 3500.5, AsOf: t0}},
	}
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	out, err := ParseCommand(data)
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if out.BatchID != "B1" || len(out.Records) != 1 || out.Records[0] != in.Records[0] {
		t.Errorf("ParseCommand(Encode()) = %+v", out)
	}
}

func TestConsumer_AppliesBatch(t *testing.T) {
	eng := engine.New()
	reader := newMockReader(
		`{"action":"start","batchId":"B1"}`,
		`{"action":"upload","batchId":"B1","records":[{"instrumentId":"ABC","price":3500.5,"asOf":1700000000000}]}`,
		`garbage`,
		`{"action":"upload","batchId":"B2","records":[{"instrumentId":"ABC","price":1,"asOf":1}]}`,
		`{"action":"complete","batchId":"B1"}`,
	)
	c := NewConsumer(reader, eng, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for reader.commits() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("commits = %d after 2s, want 5", reader.commits())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !reader.closed {
		t.Error("reader not closed by Stop")
	}

	got, ok := eng.LastPrice("ABC")
	if !ok || got.Price != 3500.5 {
		t.Errorf("LastPrice(ABC) = %+v, %v", got, ok)
	}

	s := c.Stats()
	want := Stats{Received: 5, Applied: 3, Rejected: 1, Malformed: 1}
	if s != want {
		t.Errorf("Stats() = %+v, want %+v", s, want)
	}
}

func TestConsumer_FetchErrorRetries(t *testing.T) {
	eng := engine.New()
	reader := newMockReader(`{"action":"start","batchId":"B1"}`)
	reader.fetchErr = errors.New("broker unavailable")
	c := NewConsumer(reader, eng, nil)

	c.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for reader.commits() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("command not applied after fetch error")
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop(context.Background())

	if s := c.Stats(); s.Errors != 1 || s.Applied != 1 {
		t.Errorf("Stats() = %+v, want Errors 1 and Applied 1", s)
	}
	if _, ok := eng.Batch("B1"); !ok {
		t.Error("batch B1 not started")
	}
}

func TestConsumer_HandleRejections(t *testing.T) {
	eng := engine.New()
	c := NewConsumer(newMockReader(), eng, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		value string
	}{
		{"complete unknown batch", `{"action":"complete","batchId":"nope"}`},
		{"invalid record", `{"action":"upload","batchId":"nope","records":[{"price":1,"asOf":1}]}`},
	}

	for _, tt := range tests {
		if err := c.Handle(ctx, kafka.Message{Value: []byte(tt.value)}); err != nil {
			t.Errorf("%s: Handle() error = %v, want nil", tt.name, err)
		}
	}
	if s := c.Stats(); s.Rejected != 2 {
		t.Errorf("Rejected = %d, want 2", s.Rejected)
	}
}

func TestConsumer_HandleCancelledContext(t *testing.T) {
	eng := engine.New()
	c := NewConsumer(newMockReader(), eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Handle(ctx, kafka.Message{Value: []byte(`{"action":"start","batchId":"B1"}`)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Handle() error = %v, want context.Canceled", err)
	}
	if _, ok := eng.Batch("B1"); ok {
		t.Error("batch started despite cancelled context")
	}
	if _, ok := batch.KindOf(err); ok {
		t.Error("cancellation should not carry a batch error kind")
	}
}
