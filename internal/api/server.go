package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/rickgao/lastvalue/internal/batch"
	"github.com/rickgao/lastvalue/internal/engine"
	"github.com/rickgao/lastvalue/internal/model"
	"github.com/rickgao/lastvalue/internal/store"
)

// Service is the engine surface the handler needs.
type Service interface {
	StartBatch(ctx context.Context, batchID string) (batch.Info, error)
	UploadData(ctx context.Context, batchID string, records []model.Observation) (batch.Info, error)
	CompleteBatch(ctx context.Context, batchID string) (engine.CommitSummary, error)
	CancelBatch(ctx context.Context, batchID string) (batch.Info, batch.Status, error)
	LastPrice(instrumentID string) (model.Observation, bool)
	Snapshot() *store.Snapshot
	Batch(batchID string) (batch.Info, bool)
	Batches() []batch.Info
}

// Handler serves the REST API.
type Handler struct {
	svc     Service
	logger  *slog.Logger
	maxBody int64
	stream  http.Handler
	newID   func() string

	mux *http.ServeMux
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMaxBodyBytes bounds upload request bodies.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) {
		h.maxBody = n
	}
}

// WithStream mounts a handler at GET /api/prices/stream.
func WithStream(stream http.Handler) HandlerOption {
	return func(h *Handler) {
		h.stream = stream
	}
}

// WithIDGenerator replaces the batch id generator used by POST /api/prices/batch.
func WithIDGenerator(newID func() string) HandlerOption {
	return func(h *Handler) {
		h.newID = newID
	}
}

// NewHandler creates the REST handler for svc.
func NewHandler(svc Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc:     svc,
		logger:  slog.Default(),
		maxBody: 32 << 20,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/prices/batch", h.startGenerated)
	mux.HandleFunc("GET /api/prices/batch", h.listBatches)
	mux.HandleFunc("POST /api/prices/batch/{batchId}/start", h.start)
	mux.HandleFunc("POST /api/prices/batch/{batchId}/upload", h.upload)
	mux.HandleFunc("POST /api/prices/batch/{batchId}/complete", h.complete)
	mux.HandleFunc("POST /api/prices/batch/{batchId}/cancel", h.cancel)
	mux.HandleFunc("GET /api/prices/batch/{batchId}", h.getBatch)
	mux.HandleFunc("GET /api/prices/{instrumentId}", h.getPrice)
	mux.HandleFunc("GET /api/prices", h.getSnapshot)
	if h.stream != nil {
		mux.Handle("GET /api/prices/stream", h.stream)
	}
	h.mux = mux

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) startGenerated(w http.ResponseWriter, r *http.Request) {
	h.startBatch(w, r, h.newID())
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	h.startBatch(w, r, r.PathValue("batchId"))
}

func (h *Handler) startBatch(w http.ResponseWriter, r *http.Request, id string) {
	info, err := h.svc.StartBatch(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := batchResponse(info)
	resp.Message = fmt.Sprintf("Batch %s started.", id)
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("batchId")

	var records []PriceRecord
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(body).Decode(&records); err != nil {
		writeProblem(w, http.StatusBadRequest, KindBadRequest, fmt.Sprintf("decode records: %v", err))
		return
	}

	obs, err := ToObservations(records)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, KindBadRequest, err.Error())
		return
	}

	info, err := h.svc.UploadData(r.Context(), id, obs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := batchResponse(info)
	resp.Message = fmt.Sprintf("Uploaded %d records for batch %s", len(obs), id)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("batchId")

	sum, err := h.svc.CompleteBatch(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := CompleteResponse{
		BatchResponse: batchResponse(sum.Batch),
		Applied:       sum.Applied,
		Discarded:     sum.Discarded,
		Version:       sum.Version,
	}
	resp.Message = fmt.Sprintf("Batch %s completed successfully.", id)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("batchId")

	info, previous, err := h.svc.CancelBatch(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := CancelResponse{
		BatchResponse: batchResponse(info),
		Previous:      previous.String(),
	}
	resp.Message = fmt.Sprintf("Batch %s cancelled.", id)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("batchId")

	info, ok := h.svc.Batch(id)
	if !ok {
		h.writeError(w, r, &batch.Error{Kind: batch.KindNotFound, BatchID: id})
		return
	}
	writeJSON(w, http.StatusOK, batchResponse(info))
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	infos := h.svc.Batches()

	resp := BatchListResponse{Batches: make([]BatchResponse, len(infos))}
	for i, info := range infos {
		resp.Batches[i] = batchResponse(info)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getPrice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("instrumentId")

	obs, ok := h.svc.LastPrice(id)
	if !ok {
		writeProblem(w, http.StatusNotFound, KindAbsent, fmt.Sprintf("no price for instrument %q", id))
		return
	}
	writeJSON(w, http.StatusOK, FromObservation(obs))
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.svc.Snapshot()

	prices := make(map[string]PriceRecord, snap.Len())
	for _, o := range snap.Observations() {
		prices[o.InstrumentID] = FromObservation(o)
	}

	w.Header().Set(VersionHeader, strconv.FormatUint(snap.Version(), 10))
	writeJSON(w, http.StatusOK, prices)
}

// writeError maps err to a status code and JSON body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if kind, ok := batch.KindOf(err); ok {
		writeProblem(w, StatusForKind(kind), kind.String(), err.Error())
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeProblem(w, http.StatusServiceUnavailable, KindInternal, err.Error())
		return
	}

	h.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	writeProblem(w, http.StatusInternalServerError, KindInternal, "unexpected error")
}

// StatusForKind returns the HTTP status for a registry error kind.
func StatusForKind(kind batch.Kind) int {
	switch kind {
	case batch.KindNotFound:
		return http.StatusNotFound
	case batch.KindAlreadyExists, batch.KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeProblem(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
