// Package store holds the last-value map: for each instrument, the observation with
// the greatest AsOf among all committed batches.
//
// The map is copy-on-write. Each commit that changes something publishes a new
// immutable Snapshot through an atomic pointer, so readers never take a lock and
// never observe a batch half-merged.
package store
