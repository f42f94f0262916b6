package scan

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a scan record.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusScanning Status = "scanning"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether a status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal transition.
// Transitions are monotonic: queued -> scanning -> {complete, failed}.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusScanning || next == StatusComplete || next == StatusFailed
	case StatusScanning:
		return next == StatusComplete || next == StatusFailed
	default:
		return false
	}
}

// RiskLevel buckets an opportunity by downside exposure.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Request is an immutable client request to run one scan for a user.
type Request struct {
	UserID       string       `json:"user_id" validate:"required,min=1,max=128"`
	ForceRefresh bool         `json:"force_refresh"`
	Constraints  *Constraints `json:"constraints,omitempty"`
}

// Constraints are optional investment bounds attached to a scan request.
type Constraints struct {
	AmountUSD     float64  `json:"amount_usd,omitempty" validate:"omitempty,gte=0"`
	RiskTolerance string   `json:"risk_tolerance,omitempty" validate:"omitempty,oneof=low medium high"`
	Objectives    []string `json:"objectives,omitempty"`
}

// Progress tracks fan-out completion for pollers. StrategiesCompleted is
// non-decreasing across successive writes of the same record.
// OpportunitiesFound counts raw candidates before confidence filtering, so it
// never drops below an earlier poll; the filtered set lives in Results.
type Progress struct {
	StrategiesCompleted int     `json:"strategies_completed"`
	TotalStrategies     int     `json:"total_strategies"`
	OpportunitiesFound  int     `json:"opportunities_found_so_far"`
	Percentage          float64 `json:"percentage"`
}

// Record is the central scan entity persisted in the state store. The
// coordinator owns all writes; everything else reads.
type Record struct {
	ScanID    string         `json:"scan_id"`
	UserID    string         `json:"user_id"`
	Status    Status         `json:"status"`
	Progress  Progress       `json:"progress"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Results   *RankedResults `json:"results,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Task is one unit of fan-out work: a single strategy invocation bound to a
// scan. Destroyed once its result is folded into the record's progress.
type Task struct {
	ScanID     string                 `json:"scan_id"`
	Strategy   string                 `json:"strategy"`
	Family     string                 `json:"family"`
	Symbols    []string               `json:"symbols"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Timeout    time.Duration          `json:"timeout"`
}

// TaskStatus classifies how a strategy task settled.
type TaskStatus string

const (
	TaskStatusSuccess            TaskStatus = "success"
	TaskStatusTimeout            TaskStatus = "timeout"
	TaskStatusError              TaskStatus = "error"
	TaskStatusMalformed          TaskStatus = "malformed_output"
	TaskStatusSkippedCircuitOpen TaskStatus = "skipped_circuit_open"
)

// TaskResult is the settled outcome of one strategy task. Any status other
// than success is a soft failure: it never fails the scan.
type TaskResult struct {
	Strategy   string        `json:"strategy"`
	Family     string        `json:"family"`
	Status     TaskStatus    `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Duration   time.Duration `json:"duration"`
	Candidates []Candidate   `json:"-"`
}

// Candidate is one raw opportunity proposed by a single strategy, before
// aggregation. Ephemeral; discarded after ranking.
type Candidate struct {
	Symbol          string    `json:"symbol"`
	Exchange        string    `json:"exchange"`
	Strategy        string    `json:"strategy"`
	OpportunityType string    `json:"opportunity_type"`
	ProfitPotential float64   `json:"profit_potential_usd"`
	Confidence      float64   `json:"confidence_score"`
	EntryPrice      float64   `json:"entry_price"`
	TargetPrice     float64   `json:"target_price"`
	StopPrice       float64   `json:"stop_price"`
	Risk            RiskLevel `json:"risk_level"`
	Timeframe       string    `json:"timeframe"`
}

// Opportunity is a ranked, deduplicated suggestion in the final result set.
type Opportunity struct {
	Symbol          string    `json:"symbol"`
	Exchange        string    `json:"exchange"`
	Strategy        string    `json:"strategy"`
	OpportunityType string    `json:"opportunity_type"`
	ProfitPotential float64   `json:"profit_potential_usd"`
	Confidence      float64   `json:"confidence_score"`
	EntryPrice      float64   `json:"entry_price"`
	TargetPrice     float64   `json:"target_price"`
	StopPrice       float64   `json:"stop_price"`
	Risk            RiskLevel `json:"risk_level"`
	Timeframe       string    `json:"timeframe"`
	Corroboration   int       `json:"corroboration_count"`
	CorroboratedBy  []string  `json:"corroborated_by,omitempty"`
}

// RankedResults is the final aggregated output of a scan. Written exactly
// once; immutable afterwards.
type RankedResults struct {
	TotalOpportunities    int           `json:"total_opportunities"`
	Opportunities         []Opportunity `json:"opportunities"`
	StrategiesScanned     int           `json:"strategies_scanned"`
	ThresholdTransparency string        `json:"threshold_transparency"`
	GeneratedAt           time.Time     `json:"generated_at"`
}

// MetricsSnapshot is the rolling daily aggregate kept by the diagnostics
// recorder. Append-only per day; rolled over at the day boundary.
type MetricsSnapshot struct {
	Date               string        `json:"date"`
	TotalScans         int           `json:"total_scans"`
	SuccessfulScans    int           `json:"successful_scans"`
	TotalOpportunities int           `json:"total_opportunities"`
	AvgExecutionTime   time.Duration `json:"avg_execution_time"`
	LastScan           *Summary      `json:"last_scan,omitempty"`
}

// Summary is a compact view of one finished scan used in history and
// snapshot views.
type Summary struct {
	ScanID        string        `json:"scan_id"`
	UserID        string        `json:"user_id"`
	Status        Status        `json:"status"`
	Opportunities int           `json:"opportunities"`
	Strategies    int           `json:"strategies"`
	SoftFailures  int           `json:"soft_failures"`
	Duration      time.Duration `json:"duration"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// NewScanID derives a scan identifier from the user id and creation time.
// The derivation is deterministic so any instance can reconstruct the owning
// user from the id alone (the store's fallback lookup depends on this).
func NewScanID(userID string, createdAt time.Time) string {
	return fmt.Sprintf("scan_%s_%d", userID, createdAt.UnixMilli())
}

// UserFromScanID recovers the user id embedded in a scan id.
func UserFromScanID(scanID string) (string, error) {
	if !strings.HasPrefix(scanID, "scan_") {
		return "", fmt.Errorf("malformed scan id %q", scanID)
	}
	rest := strings.TrimPrefix(scanID, "scan_")
	idx := strings.LastIndex(rest, "_")
	if idx <= 0 {
		return "", fmt.Errorf("malformed scan id %q", scanID)
	}
	if _, err := strconv.ParseInt(rest[idx+1:], 10, 64); err != nil {
		return "", fmt.Errorf("malformed scan id %q: %w", scanID, err)
	}
	return rest[:idx], nil
}

// Update recomputes the completion percentage after folding a task.
func (p *Progress) Update(completed, total, opportunities int) {
	p.StrategiesCompleted = completed
	p.TotalStrategies = total
	p.OpportunitiesFound = opportunities
	if total > 0 {
		p.Percentage = float64(completed) / float64(total) * 100.0
	} else {
		p.Percentage = 100.0
	}
}
