package strategy

import (
	"fmt"

	"github.com/quantrun/oppscan/internal/domain/scan"
)

// Family groups strategies that share a raw output shape and a timeout class.
type Family string

const (
	FamilySignal    Family = "signal"
	FamilyRebalance Family = "rebalance"
	FamilyRisk      Family = "risk"
)

// RawResult is the opaque, family-tagged output of one evaluator call.
// Exactly one of the payload slices is populated, matching Family.
type RawResult struct {
	Family    Family            `json:"family"`
	Signals   []Signal          `json:"signals,omitempty"`
	Rebalance []RebalanceAction `json:"rebalance,omitempty"`
	Alerts    []RiskAlert       `json:"alerts,omitempty"`
}

// Signal is the raw shape emitted by signal-based strategies.
type Signal struct {
	Symbol     string  `json:"symbol"`
	Exchange   string  `json:"exchange"`
	Direction  string  `json:"direction"`
	Entry      float64 `json:"entry"`
	Target     float64 `json:"target"`
	Stop       float64 `json:"stop"`
	Confidence float64 `json:"confidence"`
	MoveUSD    float64 `json:"expected_move_usd"`
	Timeframe  string  `json:"timeframe"`
}

// RebalanceAction is the raw shape emitted by rebalancing strategies.
type RebalanceAction struct {
	Symbol        string  `json:"symbol"`
	Exchange      string  `json:"exchange"`
	CurrentWeight float64 `json:"current_weight"`
	TargetWeight  float64 `json:"target_weight"`
	BenefitUSD    float64 `json:"expected_benefit_usd"`
	Confidence    float64 `json:"confidence"`
	RefPrice      float64 `json:"reference_price"`
}

// RiskAlert is the raw shape emitted by risk-mitigation strategies.
type RiskAlert struct {
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	Severity     string  `json:"severity"`
	HedgeAction  string  `json:"hedge_action"`
	ProtectedUSD float64 `json:"protected_value_usd"`
	Confidence   float64 `json:"confidence"`
	RefPrice     float64 `json:"reference_price"`
}

// ErrMalformed marks evaluator output that cannot be normalized. Treated as a
// soft failure by the coordinator, never as a scan-level error.
type ErrMalformed struct {
	Strategy string
	Detail   string
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("strategy %s returned malformed output: %s", e.Strategy, e.Detail)
}

// Normalize maps a family-tagged raw result into the uniform candidate shape.
// One mapping function per family; an unknown family or a payload that does
// not match its tag is malformed output.
func Normalize(strategyName string, raw *RawResult) ([]scan.Candidate, error) {
	if raw == nil {
		return nil, &ErrMalformed{Strategy: strategyName, Detail: "nil result"}
	}

	switch raw.Family {
	case FamilySignal:
		return normalizeSignals(strategyName, raw.Signals)
	case FamilyRebalance:
		return normalizeRebalance(strategyName, raw.Rebalance)
	case FamilyRisk:
		return normalizeAlerts(strategyName, raw.Alerts)
	default:
		return nil, &ErrMalformed{Strategy: strategyName, Detail: fmt.Sprintf("unknown family %q", raw.Family)}
	}
}

func normalizeSignals(strategyName string, signals []Signal) ([]scan.Candidate, error) {
	out := make([]scan.Candidate, 0, len(signals))
	for _, s := range signals {
		if s.Symbol == "" || s.Exchange == "" {
			return nil, &ErrMalformed{Strategy: strategyName, Detail: "signal missing symbol or exchange"}
		}
		if s.Confidence < 0 || s.Confidence > 100 {
			return nil, &ErrMalformed{Strategy: strategyName, Detail: fmt.Sprintf("confidence %.1f out of range", s.Confidence)}
		}
		out = append(out, scan.Candidate{
			Symbol:          s.Symbol,
			Exchange:        s.Exchange,
			Strategy:        strategyName,
			OpportunityType: "signal_" + s.Direction,
			ProfitPotential: s.MoveUSD,
			Confidence:      s.Confidence,
			EntryPrice:      s.Entry,
			TargetPrice:     s.Target,
			StopPrice:       s.Stop,
			Risk:            riskFromStop(s.Entry, s.Stop),
			Timeframe:       s.Timeframe,
		})
	}
	return out, nil
}

func normalizeRebalance(strategyName string, actions []RebalanceAction) ([]scan.Candidate, error) {
	out := make([]scan.Candidate, 0, len(actions))
	for _, a := range actions {
		if a.Symbol == "" || a.Exchange == "" {
			return nil, &ErrMalformed{Strategy: strategyName, Detail: "rebalance action missing symbol or exchange"}
		}
		if a.Confidence < 0 || a.Confidence > 100 {
			return nil, &ErrMalformed{Strategy: strategyName, Detail: fmt.Sprintf("confidence %.1f out of range", a.Confidence)}
		}
		direction := "increase"
		if a.TargetWeight < a.CurrentWeight {
			direction = "reduce"
		}
		out = append(out, scan.Candidate{
			Symbol:          a.Symbol,
			Exchange:        a.Exchange,
			Strategy:        strategyName,
			OpportunityType: "rebalance_" + direction,
			ProfitPotential: a.BenefitUSD,
			Confidence:      a.Confidence,
			EntryPrice:      a.RefPrice,
			TargetPrice:     a.RefPrice,
			StopPrice:       0,
			Risk:            scan.RiskLow,
			Timeframe:       "1w",
		})
	}
	return out, nil
}

func normalizeAlerts(strategyName string, alerts []RiskAlert) ([]scan.Candidate, error) {
	out := make([]scan.Candidate, 0, len(alerts))
	for _, a := range alerts {
		if a.Symbol == "" || a.Exchange == "" {
			return nil, &ErrMalformed{Strategy: strategyName, Detail: "risk alert missing symbol or exchange"}
		}
		if a.Confidence < 0 || a.Confidence > 100 {
			return nil, &ErrMalformed{Strategy: strategyName, Detail: fmt.Sprintf("confidence %.1f out of range", a.Confidence)}
		}
		risk := scan.RiskMedium
		if a.Severity == "critical" || a.Severity == "high" {
			risk = scan.RiskHigh
		}
		out = append(out, scan.Candidate{
			Symbol:          a.Symbol,
			Exchange:        a.Exchange,
			Strategy:        strategyName,
			OpportunityType: "risk_" + a.HedgeAction,
			ProfitPotential: a.ProtectedUSD,
			Confidence:      a.Confidence,
			EntryPrice:      a.RefPrice,
			TargetPrice:     a.RefPrice,
			StopPrice:       0,
			Risk:            risk,
			Timeframe:       "1d",
		})
	}
	return out, nil
}

// riskFromStop buckets a signal by the distance between entry and stop.
func riskFromStop(entry, stop float64) scan.RiskLevel {
	if entry <= 0 || stop <= 0 {
		return scan.RiskHigh
	}
	dist := entry - stop
	if dist < 0 {
		dist = -dist
	}
	switch pct := dist / entry * 100.0; {
	case pct <= 2.0:
		return scan.RiskLow
	case pct <= 5.0:
		return scan.RiskMedium
	default:
		return scan.RiskHigh
	}
}
