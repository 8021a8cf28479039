// Package model defines shared data types used across the last-value price service.
//
// Conventions:
//   - Instrument and batch identifiers are opaque strings
//   - Prices: float64 in the producer's quoting unit
//   - AsOf timestamps: int64 milliseconds since Unix epoch
package model
