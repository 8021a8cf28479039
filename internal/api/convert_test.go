package api

import (
	"math"
	"testing"
	"time"

	"github.com/rickgao/lastvalue/internal/batch"
	"github.com/rickgao/lastvalue/internal/model"
)

func TestToObservations(t *testing.T) {
	tests := []struct {
		name    string
		in      []PriceRecord
		wantErr string
	}{
		{name: "empty", in: []PriceRecord{}},
		{name: "valid", in: []PriceRecord{{InstrumentID: "ABC", Price: 3500.5, AsOf: 1}}},
		{
			name:    "missing instrument",
			in:      []PriceRecord{{InstrumentID: "ABC"}, {Price: 1}},
			wantErr: "records[1].instrumentId is required",
		},
		{
			name:    "nan price",
			in:      []PriceRecord{{InstrumentID: "ABC", Price: math.NaN()}},
			wantErr: "records[0].price must be finite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToObservations(tt.in)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Errorf("ToObservations() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToObservations() error = %v", err)
			}
			if len(got) != len(tt.in) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.in))
			}
			for i := range got {
				if FromObservation(got[i]) != tt.in[i] {
					t.Errorf("[%d] = %+v, want %+v", i, got[i], tt.in[i])
				}
			}
		})
	}
}

func TestBatchResponse(t *testing.T) {
	started := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	resp := batchResponse(batch.Info{ID: "B1", Status: batch.StatusStarted, Records: 2, StartedAt: started})
	if resp.Status != "started" {
		t.Errorf("Status = %q, want %q", resp.Status, "started")
	}
	if resp.EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil", resp.EndedAt)
	}

	ended := started.Add(time.Minute)
	resp = batchResponse(batch.Info{ID: "B1", Status: batch.StatusCompleted, StartedAt: started, EndedAt: ended})
	if resp.EndedAt == nil || !resp.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", resp.EndedAt, ended)
	}
}

func TestFromObservations(t *testing.T) {
	got := FromObservations([]model.Observation{{InstrumentID: "X", Price: 1, AsOf: 2}})
	if len(got) != 1 || got[0] != (PriceRecord{InstrumentID: "X", Price: 1, AsOf: 2}) {
		t.Errorf("FromObservations() = %+v", got)
	}
}
