package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/quantrun/oppscan/internal/application/coordinator"
	"github.com/quantrun/oppscan/internal/diag"
	"github.com/quantrun/oppscan/internal/domain/scan"
	"github.com/quantrun/oppscan/internal/infrastructure/store"
	"github.com/quantrun/oppscan/internal/strategy"
)

// Handlers bundles the HTTP endpoints over the orchestrator core.
type Handlers struct {
	coord    *coordinator.Coordinator
	store    *store.Store
	recorder *diag.Recorder
	adapter  *strategy.Adapter
	validate *validator.Validate
	storeTag string
}

// NewHandlers creates the handler set. storeTag names the backing store for
// the health endpoint ("redis" or "memory").
func NewHandlers(coord *coordinator.Coordinator, st *store.Store, recorder *diag.Recorder,
	adapter *strategy.Adapter, storeTag string) *Handlers {
	return &Handlers{
		coord:    coord,
		store:    st,
		recorder: recorder,
		adapter:  adapter,
		validate: validator.New(),
		storeTag: storeTag,
	}
}

// StartScan handles POST /scan.
func (h *Handlers) StartScan(w http.ResponseWriter, r *http.Request) {
	var req scan.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "bad_request", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	rec, err := h.coord.StartScan(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to start scan")
		h.writeError(w, r, http.StatusServiceUnavailable, "scan_create_failed",
			"scan could not be created, try again shortly")
		return
	}

	h.writeJSON(w, http.StatusAccepted, StartScanResponse{
		ScanID:                     rec.ScanID,
		Status:                     rec.Status,
		EstimatedCompletionSeconds: h.coord.EstimateSeconds(rec.Progress.TotalStrategies),
	})
}

// ScanStatus handles GET /scan/{scan_id}/status. The store's fallback chain
// runs underneath, so a scan younger than its TTL never reads as not found.
func (h *Handlers) ScanStatus(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scan_id"]

	rec, found, err := h.store.Get(r.Context(), scanID)
	if err != nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "scan state store unavailable")
		return
	}
	if !found {
		h.writeError(w, r, http.StatusNotFound, "not_found", "scan not found or expired")
		return
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{
		ScanID:    rec.ScanID,
		Status:    rec.Status,
		Progress:  rec.Progress,
		UpdatedAt: rec.UpdatedAt,
		Error:     rec.Error,
	})
}

// ScanResults handles GET /scan/{scan_id}/results. Polling before completion
// returns the current status rather than an error.
func (h *Handlers) ScanResults(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scan_id"]

	rec, found, err := h.store.Get(r.Context(), scanID)
	if err != nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "scan state store unavailable")
		return
	}
	if !found {
		h.writeError(w, r, http.StatusNotFound, "not_found", "scan not found or expired")
		return
	}

	resp := ResultsResponse{ScanID: rec.ScanID, Status: rec.Status, Opportunities: []scan.Opportunity{}}
	if rec.Status == scan.StatusComplete && rec.Results != nil {
		resp.TotalOpportunities = rec.Results.TotalOpportunities
		resp.Opportunities = rec.Results.Opportunities
		resp.ThresholdTransparency = rec.Results.ThresholdTransparency
	} else {
		progress := rec.Progress
		resp.Progress = &progress
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// DiagnosticsMetrics handles GET /diagnostics/metrics.
func (h *Handlers) DiagnosticsMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, DiagnosticsResponse{
		Today:         h.recorder.Snapshot(),
		BreakerStates: h.adapter.BreakerStates(),
		Generated:     time.Now().UTC(),
	})
}

// DiagnosticsHistory handles GET /diagnostics/history/{user_id}.
func (h *Handlers) DiagnosticsHistory(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	scans := h.recorder.History(userID)
	if scans == nil {
		scans = []scan.Summary{}
	}
	h.writeJSON(w, http.StatusOK, HistoryResponse{UserID: userID, Scans: scans})
}

// DiagnosticsLifecycle handles GET /diagnostics/lifecycle/{scan_id}.
func (h *Handlers) DiagnosticsLifecycle(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scan_id"]
	events, ok := h.recorder.Lifecycle(scanID)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, "not_found", "no lifecycle trace for scan")
		return
	}
	h.writeJSON(w, http.StatusOK, LifecycleResponse{ScanID: scanID, Events: events})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Store:     h.storeTag,
	})
}

// NotFound is the fallback route handler.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "no_such_route", "unknown endpoint")
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(requestIDKey).(string)
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}
