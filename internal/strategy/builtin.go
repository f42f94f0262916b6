package strategy

import (
	"context"
	"hash/fnv"

	"github.com/quantrun/oppscan/internal/domain/tier"
)

// RegisterBuiltins installs the bundled evaluator set. These stand in for the
// externally deployed strategy functions: each one is deterministic for a
// given symbol so scans are reproducible in development and tests.
func RegisterBuiltins(r *Registry) {
	builtins := []Definition{
		{Name: "momentum_breakout", Family: FamilySignal, Class: ClassFast, MinAssetTier: tier.AssetTierRetail, Evaluate: evalSignal("momentum_breakout", "long", "4h", 62, 18)},
		{Name: "mean_reversion", Family: FamilySignal, Class: ClassFast, MinAssetTier: tier.AssetTierRetail, Evaluate: evalSignal("mean_reversion", "short", "1h", 55, 25)},
		{Name: "volatility_squeeze", Family: FamilySignal, Class: ClassFast, MinAssetTier: tier.AssetTierRetail, Evaluate: evalSignal("volatility_squeeze", "long", "1d", 58, 22)},
		{Name: "funding_rate_arb", Family: FamilySignal, Class: ClassSlow, MinAssetTier: tier.AssetTierProfessional, Evaluate: evalSignal("funding_rate_arb", "long", "8h", 70, 15)},
		{Name: "stat_arb_pairs", Family: FamilySignal, Class: ClassSlow, MinAssetTier: tier.AssetTierInstitutional, Evaluate: evalSignal("stat_arb_pairs", "long", "1d", 74, 12)},
		{Name: "portfolio_rebalance", Family: FamilyRebalance, Class: ClassFast, MinAssetTier: tier.AssetTierRetail, Evaluate: evalRebalance("portfolio_rebalance")},
		{Name: "concentration_trim", Family: FamilyRebalance, Class: ClassFast, MinAssetTier: tier.AssetTierProfessional, Evaluate: evalRebalance("concentration_trim")},
		{Name: "drawdown_hedge", Family: FamilyRisk, Class: ClassFast, MinAssetTier: tier.AssetTierRetail, Evaluate: evalRisk("drawdown_hedge", "hedge")},
		{Name: "stablecoin_rotation", Family: FamilyRisk, Class: ClassFast, MinAssetTier: tier.AssetTierProfessional, Evaluate: evalRisk("stablecoin_rotation", "rotate")},
	}

	for _, def := range builtins {
		// Registration of a static, well-formed set cannot fail.
		_ = r.Register(def)
	}
}

// seed derives a stable pseudo-random value in [0,1) from strategy and symbol.
func seed(strategyName, symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(strategyName))
	h.Write([]byte(symbol))
	return float64(h.Sum32()%10000) / 10000.0
}

func evalSignal(name, direction, timeframe string, baseConfidence, confidenceSpread float64) EvaluateFunc {
	return func(ctx context.Context, symbols []string, _ map[string]interface{}) (*RawResult, error) {
		raw := &RawResult{Family: FamilySignal}
		for _, symbol := range symbols {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s := seed(name, symbol)
			// Roughly one in three symbols clears the internal trigger.
			if s > 0.34 {
				continue
			}
			entry := 100.0 + s*50000.0
			raw.Signals = append(raw.Signals, Signal{
				Symbol:     symbol,
				Exchange:   exchangeFor(symbol),
				Direction:  direction,
				Entry:      entry,
				Target:     entry * (1.0 + 0.02 + s*0.08),
				Stop:       entry * (1.0 - 0.015 - s*0.02),
				Confidence: baseConfidence + s*confidenceSpread,
				MoveUSD:    250.0 + s*5000.0,
				Timeframe:  timeframe,
			})
		}
		return raw, nil
	}
}

func evalRebalance(name string) EvaluateFunc {
	return func(ctx context.Context, symbols []string, _ map[string]interface{}) (*RawResult, error) {
		raw := &RawResult{Family: FamilyRebalance}
		for _, symbol := range symbols {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s := seed(name, symbol)
			if s > 0.2 {
				continue
			}
			current := 0.05 + s
			raw.Rebalance = append(raw.Rebalance, RebalanceAction{
				Symbol:        symbol,
				Exchange:      exchangeFor(symbol),
				CurrentWeight: current,
				TargetWeight:  current * 0.6,
				BenefitUSD:    120.0 + s*2400.0,
				Confidence:    50 + s*30,
				RefPrice:      100.0 + s*50000.0,
			})
		}
		return raw, nil
	}
}

func evalRisk(name, action string) EvaluateFunc {
	return func(ctx context.Context, symbols []string, _ map[string]interface{}) (*RawResult, error) {
		raw := &RawResult{Family: FamilyRisk}
		for _, symbol := range symbols {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s := seed(name, symbol)
			if s > 0.15 {
				continue
			}
			severity := "medium"
			if s < 0.05 {
				severity = "high"
			}
			raw.Alerts = append(raw.Alerts, RiskAlert{
				Symbol:       symbol,
				Exchange:     exchangeFor(symbol),
				Severity:     severity,
				HedgeAction:  action,
				ProtectedUSD: 500.0 + s*20000.0,
				Confidence:   55 + s*35,
				RefPrice:     100.0 + s*50000.0,
			})
		}
		return raw, nil
	}
}

// exchangeFor picks a stable venue per symbol so deduplication across
// strategies has realistic collisions.
func exchangeFor(symbol string) string {
	venues := []string{"binance", "kraken", "coinbase"}
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return venues[h.Sum32()%uint32(len(venues))]
}
