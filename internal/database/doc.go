// Package database provides PostgreSQL connection pool setup.
//
// The service's only database is the batch event journal. Price data never
// touches it; the last-value store lives in memory.
package database
