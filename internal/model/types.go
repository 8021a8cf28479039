package model

import "time"

// Observation is a single price reading for an instrument.
//
// AsOf is the logical ordering key used when merging committed batches; it is the time
// the price was valid, not the time it arrived or was committed.
type Observation struct {
	InstrumentID string  // Instrument identifier (e.g., "ABC")
	Price        float64 // Price value
	AsOf         int64   // Validity time (ms since epoch)
}

// NewObservation returns an Observation stamped with t.
func NewObservation(instrumentID string, price float64, t time.Time) Observation {
	return Observation{
		InstrumentID: instrumentID,
		Price:        price,
		AsOf:         t.UnixMilli(),
	}
}

// Time returns AsOf as a time.Time in UTC.
func (o Observation) Time() time.Time {
	return time.UnixMilli(o.AsOf).UTC()
}

// NewerThan reports whether o should replace current under the newest-wins rule.
// Equal timestamps are not newer.
func (o Observation) NewerThan(current Observation) bool {
	return o.AsOf > current.AsOf
}
