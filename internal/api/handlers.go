package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chainindexor/blockindexer/internal/logger"
	"github.com/chainindexor/blockindexer/internal/validation"
	"github.com/chainindexor/blockindexer/pkg/store"
)

// Handler serves the health/status read surface described in spec §4
// "Observability hooks": health, per-chain sync status, checkpoint history,
// coverage/gap stats, and the validation JSON Schema.
type Handler struct {
	store   store.BlockStore
	chainID uint64
	log     *logger.Logger
}

// NewHandler builds a Handler over the given store for a single chain ID.
func NewHandler(st store.BlockStore, chainID uint64, log *logger.Logger) *Handler {
	return &Handler{store: st, chainID: chainID, log: log}
}

// Health reports process liveness without touching the database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now()})
}

// Status reports the current sync cursor for the configured chain.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.store.GetSyncStatus(r.Context(), h.chainID)
	if err != nil {
		h.log.Errorw("failed to load sync status", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load sync status")
		return
	}
	if status == nil {
		respondError(w, http.StatusNotFound, "no sync status recorded for this chain")
		return
	}

	resp := StatusResponse{ChainID: status.ChainID, NextBlock: status.NextBlock.String()}
	if status.ConfirmedBlock != nil {
		resp.ConfirmedBlock = status.ConfirmedBlock.String()
	}
	if status.HeadBlock != nil {
		resp.HeadBlock = status.HeadBlock.String()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Checkpoints lists the recorded checkpoint history for the ?name= query
// parameter, defaulting to "default".
func (h *Handler) Checkpoints(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "default"
	}

	checkpoints, err := h.store.ListCheckpoints(r.Context(), name)
	if err != nil {
		h.log.Errorw("failed to list checkpoints", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list checkpoints")
		return
	}

	resp := make([]CheckpointResponse, len(checkpoints))
	for i, c := range checkpoints {
		resp[i] = CheckpointResponse{
			Name:        c.Name,
			BlockNumber: c.BlockNumber.String(),
			BlockHash:   c.BlockHash,
			SyncedAt:    c.SyncedAt,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// Coverage reports gap/coverage statistics for the configured chain.
func (h *Handler) Coverage(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.CoverageStats(r.Context(), h.chainID)
	if err != nil {
		h.log.Errorw("failed to compute coverage stats", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to compute coverage stats")
		return
	}

	resp := CoverageResponse{ChainID: h.chainID, Total: stats.Total, CoveragePercent: stats.CoveragePercent}
	if stats.Expected != nil {
		resp.Expected = stats.Expected.String()
	}
	if stats.Missing != nil {
		resp.Missing = stats.Missing.String()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Schema serves the JSON Schema reflected from the validation boundary's
// RawBlock type.
func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	schemaJSON, err := validation.SchemaJSON()
	if err != nil {
		h.log.Errorw("failed to render block schema", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to render schema")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(schemaJSON))
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
