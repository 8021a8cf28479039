// Package api implements the REST surface of the last-value price service and a
// Go client for it.
//
// Producer endpoints:
//   - POST /api/prices/batch                       start a batch with a generated id
//   - POST /api/prices/batch/{batchId}/start
//   - POST /api/prices/batch/{batchId}/upload      JSON array of price records
//   - POST /api/prices/batch/{batchId}/complete
//   - POST /api/prices/batch/{batchId}/cancel
//
// Consumer endpoints:
//   - GET /api/prices/{instrumentId}
//   - GET /api/prices                              full snapshot, version in X-Store-Version
//   - GET /api/prices/batch/{batchId}              batch status
//   - GET /api/prices/stream                       WebSocket commit feed, when configured
//
// Errors are JSON bodies {"error": "...", "kind": "..."}; kind is one of the
// registry kinds (already_exists, not_found, invalid_state), absent for an
// unknown instrument, bad_request or internal.
package api
