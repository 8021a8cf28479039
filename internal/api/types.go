package api

import "time"

// PriceRecord is the wire form of an observation.
type PriceRecord struct {
	InstrumentID string  `json:"instrumentId"`
	Price        float64 `json:"price"`
	AsOf         int64   `json:"asOf"` // ms since epoch
}

// BatchResponse describes a batch after a producer call or status lookup.
type BatchResponse struct {
	BatchID   string     `json:"batchId"`
	Status    string     `json:"status"`
	Records   int        `json:"records"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// CompleteResponse from POST /api/prices/batch/{batchId}/complete
type CompleteResponse struct {
	BatchResponse
	Applied   int    `json:"applied"`
	Discarded int    `json:"discarded"`
	Version   uint64 `json:"version"`
}

// CancelResponse from POST /api/prices/batch/{batchId}/cancel
type CancelResponse struct {
	BatchResponse
	Previous string `json:"previous"`
}

// BatchListResponse from GET /api/prices/batch
type BatchListResponse struct {
	Batches []BatchResponse `json:"batches"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Error kinds that are not registry kinds.
const (
	KindAbsent     = "absent"
	KindBadRequest = "bad_request"
	KindInternal   = "internal"
)

// VersionHeader carries the store version of a snapshot response.
const VersionHeader = "X-Store-Version"
