package model

import (
	"testing"
	"time"
)

func TestNewObservation(t *testing.T) {
	ts := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	o := NewObservation("ABC", 3500.5, ts)

	if o.InstrumentID != "ABC" {
		t.Errorf("InstrumentID = %q, want %q", o.InstrumentID, "ABC")
	}
	if o.Price != 3500.5 {
		t.Errorf("Price = %v, want %v", o.Price, 3500.5)
	}
	if o.AsOf != ts.UnixMilli() {
		t.Errorf("AsOf = %d, want %d", o.AsOf, ts.UnixMilli())
	}
	if !o.Time().Equal(ts) {
		t.Errorf("Time() = %v, want %v", o.Time(), ts)
	}
}

func TestObservation_NewerThan(t *testing.T) {
	base := Observation{InstrumentID: "X", Price: 1, AsOf: 1000}

	tests := []struct {
		name string
		asOf int64
		want bool
	}{
		{"strictly newer", 1001, true},
		{"equal", 1000, false},
		{"older", 999, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incoming := Observation{InstrumentID: "X", Price: 2, AsOf: tt.asOf}
			if got := incoming.NewerThan(base); got != tt.want {
				t.Errorf("NewerThan() = %v, want %v", got, tt.want)
			}
		})
	}
}
