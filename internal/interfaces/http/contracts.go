package http

import (
	"time"

	"github.com/quantrun/oppscan/internal/diag"
	"github.com/quantrun/oppscan/internal/domain/scan"
)

// StartScanResponse is returned by POST /scan.
type StartScanResponse struct {
	ScanID                     string      `json:"scan_id"`
	Status                     scan.Status `json:"status"`
	EstimatedCompletionSeconds int         `json:"estimated_completion_seconds"`
}

// StatusResponse is returned by GET /scan/{scan_id}/status.
type StatusResponse struct {
	ScanID    string        `json:"scan_id"`
	Status    scan.Status   `json:"status"`
	Progress  scan.Progress `json:"progress"`
	UpdatedAt time.Time     `json:"updated_at"`
	Error     string        `json:"error,omitempty"`
}

// ResultsResponse is returned by GET /scan/{scan_id}/results. Before
// completion only the status block is populated; polling early is not an
// error.
type ResultsResponse struct {
	ScanID                string             `json:"scan_id"`
	Status                scan.Status        `json:"status"`
	Progress              *scan.Progress     `json:"progress,omitempty"`
	TotalOpportunities    int                `json:"total_opportunities"`
	Opportunities         []scan.Opportunity `json:"opportunities"`
	ThresholdTransparency string             `json:"threshold_transparency,omitempty"`
}

// DiagnosticsResponse is returned by GET /diagnostics/metrics.
type DiagnosticsResponse struct {
	Today         scan.MetricsSnapshot `json:"today"`
	BreakerStates map[string]string    `json:"breaker_states"`
	Generated     time.Time            `json:"generated"`
}

// HistoryResponse is returned by GET /diagnostics/history/{user_id}.
type HistoryResponse struct {
	UserID string         `json:"user_id"`
	Scans  []scan.Summary `json:"scans"`
}

// LifecycleResponse is returned by GET /diagnostics/lifecycle/{scan_id}.
type LifecycleResponse struct {
	ScanID string            `json:"scan_id"`
	Events []diag.PhaseEvent `json:"events"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Store     string    `json:"store"`
}

// ErrorResponse is the uniform API error shape.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
