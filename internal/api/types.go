package api

import "time"

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse is returned by GET /api/v1/status for a single chain.
type StatusResponse struct {
	ChainID        uint64 `json:"chain_id"`
	NextBlock      string `json:"next_block"`
	ConfirmedBlock string `json:"confirmed_block,omitempty"`
	HeadBlock      string `json:"head_block,omitempty"`
}

// CheckpointResponse is a single entry in GET /api/v1/checkpoints.
type CheckpointResponse struct {
	Name        string    `json:"name"`
	BlockNumber string    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	SyncedAt    time.Time `json:"synced_at"`
}

// CoverageResponse is returned by GET /api/v1/coverage.
type CoverageResponse struct {
	ChainID         uint64  `json:"chain_id"`
	Total           int64   `json:"total"`
	Expected        string  `json:"expected"`
	Missing         string  `json:"missing"`
	CoveragePercent float64 `json:"coverage_percent"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
