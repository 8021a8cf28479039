package batch

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/lastvalue/internal/model"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func obs(id string, price float64, asOf int64) model.Observation {
	return model.Observation{InstrumentID: id, Price: price, AsOf: asOf}
}

func TestRegistry_Start(t *testing.T) {
	r := NewRegistry(WithClock(fixedClock()))

	info, err := r.Start("B1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if info.Status != StatusStarted {
		t.Errorf("Status = %v, want %v", info.Status, StatusStarted)
	}
	if info.Records != 0 {
		t.Errorf("Records = %d, want 0", info.Records)
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}
	if !info.EndedAt.IsZero() {
		t.Error("EndedAt should be zero while started")
	}
}

func TestRegistry_Start_Duplicate(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(r *Registry)
		status  Status
	}{
		{
			name:    "still started",
			prepare: func(r *Registry) {},
			status:  StatusStarted,
		},
		{
			name:    "after complete",
			prepare: func(r *Registry) { r.Complete("B9") },
			status:  StatusCompleted,
		},
		{
			name:    "after cancel",
			prepare: func(r *Registry) { r.Cancel("B9") },
			status:  StatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if _, err := r.Start("B9"); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			tt.prepare(r)

			_, err := r.Start("B9")
			if !errors.Is(err, ErrAlreadyExists) {
				t.Fatalf("Start() error = %v, want ErrAlreadyExists", err)
			}
			var be *Error
			if !errors.As(err, &be) {
				t.Fatalf("error is %T, want *Error", err)
			}
			if be.Status != tt.status {
				t.Errorf("Status = %v, want %v", be.Status, tt.status)
			}

			info, _ := r.Get("B9")
			if info.Status != tt.status {
				t.Errorf("stored Status = %v, want %v (must be unchanged)", info.Status, tt.status)
			}
		})
	}
}

func TestRegistry_Append(t *testing.T) {
	r := NewRegistry()
	r.Start("B1")

	info, err := r.Append("B1", []model.Observation{obs("ABC", 1, 10), obs("DEF", 2, 10)})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if info.Records != 2 {
		t.Errorf("Records = %d, want 2", info.Records)
	}

	info, err = r.Append("B1", nil)
	if err != nil {
		t.Fatalf("Append(nil) error = %v", err)
	}
	if info.Records != 2 {
		t.Errorf("Records = %d, want 2 after empty upload", info.Records)
	}

	r.Append("B1", []model.Observation{obs("ABC", 3, 11)})

	pending, err := r.Pending("B1")
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	want := []string{"ABC", "DEF", "ABC"}
	if len(pending) != len(want) {
		t.Fatalf("len(pending) = %d, want %d", len(pending), len(want))
	}
	for i, id := range want {
		if pending[i].InstrumentID != id {
			t.Errorf("pending[%d] = %q, want %q", i, pending[i].InstrumentID, id)
		}
	}
}

func TestRegistry_Append_Errors(t *testing.T) {
	r := NewRegistry()

	_, err := r.Append("B2", []model.Observation{obs("ABC", 1, 1)})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Append(unknown) error = %v, want ErrNotFound", err)
	}

	r.Start("B8")
	r.Append("B8", []model.Observation{obs("XYZ", 1200, 1)})
	r.Complete("B8")

	_, err = r.Append("B8", []model.Observation{obs("XYZ", 1300, 2)})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Append(completed) error = %v, want ErrInvalidState", err)
	}

	r.Start("B4")
	r.Cancel("B4")
	_, err = r.Append("B4", []model.Observation{obs("XYZ", 1300, 2)})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Append(cancelled) error = %v, want ErrInvalidState", err)
	}

	info, _ := r.Get("B8")
	if info.Records != 1 {
		t.Errorf("Records = %d, want 1 (rejected upload must append nothing)", info.Records)
	}
}

func TestRegistry_Pending_IsolatedFromLaterAppends(t *testing.T) {
	r := NewRegistry()
	r.Start("B1")
	r.Append("B1", []model.Observation{obs("A", 1, 1)})

	pending, _ := r.Pending("B1")
	r.Append("B1", []model.Observation{obs("B", 2, 2)})

	if len(pending) != 1 {
		t.Errorf("len(pending) = %d, want 1", len(pending))
	}
	if pending[0].InstrumentID != "A" {
		t.Errorf("pending[0] = %q, want %q", pending[0].InstrumentID, "A")
	}
}

func TestRegistry_Complete(t *testing.T) {
	r := NewRegistry(WithClock(fixedClock()))
	r.Start("B1")
	r.Append("B1", []model.Observation{obs("A", 1, 1)})

	info, err := r.Complete("B1")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if info.Status != StatusCompleted {
		t.Errorf("Status = %v, want %v", info.Status, StatusCompleted)
	}
	if info.Records != 1 {
		t.Errorf("Records = %d, want 1", info.Records)
	}
	if !info.EndedAt.After(info.StartedAt) {
		t.Errorf("EndedAt = %v, want after %v", info.EndedAt, info.StartedAt)
	}

	if _, err := r.Complete("B1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Complete() error = %v, want ErrInvalidState", err)
	}
	if _, err := r.Pending("B1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Pending(completed) error = %v, want ErrInvalidState", err)
	}
	if _, err := r.Complete("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Complete(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_Cancel(t *testing.T) {
	tests := []struct {
		name     string
		prepare  func(r *Registry)
		previous Status
	}{
		{"started", func(r *Registry) {}, StatusStarted},
		{"completed", func(r *Registry) { r.Complete("B4") }, StatusCompleted},
		{"cancelled", func(r *Registry) { r.Cancel("B4") }, StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.Start("B4")
			r.Append("B4", []model.Observation{obs("ABC", 1000, 1)})
			tt.prepare(r)

			info, previous, err := r.Cancel("B4")
			if err != nil {
				t.Fatalf("Cancel() error = %v", err)
			}
			if previous != tt.previous {
				t.Errorf("previous = %v, want %v", previous, tt.previous)
			}
			if info.Status != StatusCancelled {
				t.Errorf("Status = %v, want %v", info.Status, StatusCancelled)
			}
			if _, err := r.Pending("B4"); !errors.Is(err, ErrInvalidState) {
				t.Errorf("Pending(cancelled) error = %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestRegistry_Cancel_NotFound(t *testing.T) {
	r := NewRegistry()

	_, _, err := r.Cancel("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel() error = %v, want ErrNotFound", err)
	}
	if kind, ok := KindOf(err); !ok || kind != KindNotFound {
		t.Errorf("KindOf() = %v, %v, want %v, true", kind, ok, KindNotFound)
	}
}

func TestRegistry_ListAndCounts(t *testing.T) {
	r := NewRegistry(WithClock(fixedClock()))
	r.Start("C")
	r.Start("A")
	r.Start("B")
	r.Complete("A")
	r.Cancel("B")

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(list))
	}
	order := []string{"C", "A", "B"}
	for i, id := range order {
		if list[i].ID != id {
			t.Errorf("List()[%d].ID = %q, want %q", i, list[i].ID, id)
		}
	}

	counts := r.Counts()
	for _, s := range []Status{StatusStarted, StatusCompleted, StatusCancelled} {
		if counts[s] != 1 {
			t.Errorf("Counts()[%v] = %d, want 1", s, counts[s])
		}
	}
}

func TestRegistry_ConcurrentAppend(t *testing.T) {
	r := NewRegistry()
	r.Start("B10")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Append("B10", []model.Observation{obs(fmt.Sprintf("I%d", i), float64(i), int64(i))})
		}(i)
	}
	wg.Wait()

	info, _ := r.Get("B10")
	if info.Records != 50 {
		t.Errorf("Records = %d, want 50", info.Records)
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusStarted, "started"},
		{StatusCompleted, "completed"},
		{StatusCancelled, "cancelled"},
		{Status(0), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if tt.want == "unknown" {
				return
			}
			parsed, ok := ParseStatus(tt.want)
			if !ok || parsed != tt.status {
				t.Errorf("ParseStatus(%q) = %v, %v, want %v, true", tt.want, parsed, ok, tt.status)
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	tests := []struct {
		kind   Kind
		target error
		other  error
	}{
		{KindAlreadyExists, ErrAlreadyExists, ErrNotFound},
		{KindNotFound, ErrNotFound, ErrInvalidState},
		{KindInvalidState, ErrInvalidState, ErrAlreadyExists},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &Error{Kind: tt.kind, BatchID: "B"})
			if !errors.Is(err, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false, want true", err, tt.target)
			}
			if errors.Is(err, tt.other) {
				t.Errorf("errors.Is(%v, %v) = true, want false", err, tt.other)
			}
			if kind, ok := KindOf(err); !ok || kind != tt.kind {
				t.Errorf("KindOf() = %v, %v, want %v, true", kind, ok, tt.kind)
			}
		})
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("KindOf(plain error) ok = true, want false")
	}
}
