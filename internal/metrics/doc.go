// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Batch lifecycle events and rejections by operation and kind
//   - Records uploaded and merge outcomes (applied or discarded)
//   - Store size and version
//
// The Collector is an engine observer; Server exposes the registry together
// with a /health endpoint on the metrics port.
package metrics
