// Package journal records batch lifecycle events in PostgreSQL.
//
// The journal is an audit trail: one row per accepted or rejected producer call,
// holding batch metadata and counts only. Observations are never written and
// nothing is read back at startup.
//
// Events arrive through the engine observer hook, are queued in a growable
// in-memory buffer and written in batches by a background writer:
//
//	Engine --OnEvent--> Buffer[Row] --> Writer --pgx.Batch--> batch_events
package journal
