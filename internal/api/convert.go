package api

import (
	"fmt"
	"math"

	"github.com/rickgao/lastvalue/internal/batch"
	"github.com/rickgao/lastvalue/internal/model"
)

// ToObservation converts a wire record to the domain type.
func ToObservation(r PriceRecord) model.Observation {
	return model.Observation{
		InstrumentID: r.InstrumentID,
		Price:        r.Price,
		AsOf:         r.AsOf,
	}
}

// FromObservation converts a domain observation to its wire form.
func FromObservation(o model.Observation) PriceRecord {
	return PriceRecord{
		InstrumentID: o.InstrumentID,
		Price:        o.Price,
		AsOf:         o.AsOf,
	}
}

// ToObservations converts and validates an upload body. Every record needs an
// instrument id and a finite price.
func ToObservations(records []PriceRecord) ([]model.Observation, error) {
	out := make([]model.Observation, len(records))
	for i, r := range records {
		if r.InstrumentID == "" {
			return nil, fmt.Errorf("records[%d].instrumentId is required", i)
		}
		if math.IsNaN(r.Price) || math.IsInf(r.Price, 0) {
			return nil, fmt.Errorf("records[%d].price must be finite", i)
		}
		out[i] = ToObservation(r)
	}
	return out, nil
}

// FromObservations converts observations to wire records.
func FromObservations(obs []model.Observation) []PriceRecord {
	out := make([]PriceRecord, len(obs))
	for i, o := range obs {
		out[i] = FromObservation(o)
	}
	return out
}

func batchResponse(info batch.Info) BatchResponse {
	resp := BatchResponse{
		BatchID:   info.ID,
		Status:    info.Status.String(),
		Records:   info.Records,
		StartedAt: info.StartedAt,
	}
	if !info.EndedAt.IsZero() {
		ended := info.EndedAt
		resp.EndedAt = &ended
	}
	return resp
}
