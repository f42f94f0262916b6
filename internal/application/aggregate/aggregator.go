// Package aggregate merges heterogeneous per-strategy candidates into the
// ranked opportunity set a scan reports.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/quantrun/oppscan/internal/domain/scan"
)

// Config tunes ranking. The corroboration bonus is deliberately a tunable
// rather than a hard-coded constant.
type Config struct {
	MinConfidence      float64 `yaml:"min_confidence"`
	CorroborationBonus float64 `yaml:"corroboration_bonus"`
}

// DefaultConfig returns the stock ranking parameters.
func DefaultConfig() Config {
	return Config{MinConfidence: 60.0, CorroborationBonus: 5.0}
}

// Aggregator folds candidates into ranked opportunities. Stateless.
type Aggregator struct {
	cfg Config
}

// New creates an aggregator.
func New(cfg Config) *Aggregator {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultConfig().MinConfidence
	}
	if cfg.CorroborationBonus < 0 {
		cfg.CorroborationBonus = 0
	}
	return &Aggregator{cfg: cfg}
}

// Aggregate groups candidates by (symbol, exchange), keeps the highest
// confidence proposal per group with the rest recorded as corroboration,
// boosts confidence per corroborating strategy (capped at 100), filters by
// the minimum confidence threshold, and sorts descending by
// (confidence, profit potential). Empty outcomes are still well formed and
// carry a transparency message instead of a bare empty array.
func (a *Aggregator) Aggregate(candidates []scan.Candidate, strategiesScanned int) *scan.RankedResults {
	type group struct {
		best       scan.Candidate
		strategies map[string]struct{}
	}

	groups := make(map[string]*group)
	order := make([]string, 0)
	for _, c := range candidates {
		key := c.Symbol + "|" + c.Exchange
		g, ok := groups[key]
		if !ok {
			g = &group{best: c, strategies: map[string]struct{}{c.Strategy: {}}}
			groups[key] = g
			order = append(order, key)
			continue
		}
		g.strategies[c.Strategy] = struct{}{}
		if c.Confidence > g.best.Confidence {
			g.best = c
		}
	}

	opportunities := make([]scan.Opportunity, 0, len(groups))
	for _, key := range order {
		g := groups[key]

		corroboration := len(g.strategies)
		confidence := g.best.Confidence + a.cfg.CorroborationBonus*float64(corroboration-1)
		if confidence > 100 {
			confidence = 100
		}
		if confidence < a.cfg.MinConfidence {
			continue
		}

		corroboratedBy := make([]string, 0, corroboration)
		for name := range g.strategies {
			corroboratedBy = append(corroboratedBy, name)
		}
		sort.Strings(corroboratedBy)

		opportunities = append(opportunities, scan.Opportunity{
			Symbol:          g.best.Symbol,
			Exchange:        g.best.Exchange,
			Strategy:        g.best.Strategy,
			OpportunityType: g.best.OpportunityType,
			ProfitPotential: g.best.ProfitPotential,
			Confidence:      confidence,
			EntryPrice:      g.best.EntryPrice,
			TargetPrice:     g.best.TargetPrice,
			StopPrice:       g.best.StopPrice,
			Risk:            g.best.Risk,
			Timeframe:       g.best.Timeframe,
			Corroboration:   corroboration,
			CorroboratedBy:  corroboratedBy,
		})
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		if opportunities[i].Confidence != opportunities[j].Confidence {
			return opportunities[i].Confidence > opportunities[j].Confidence
		}
		return opportunities[i].ProfitPotential > opportunities[j].ProfitPotential
	})

	return &scan.RankedResults{
		TotalOpportunities:    len(opportunities),
		Opportunities:         opportunities,
		StrategiesScanned:     strategiesScanned,
		ThresholdTransparency: a.transparency(strategiesScanned, len(opportunities)),
		GeneratedAt:           time.Now().UTC(),
	}
}

func (a *Aggregator) transparency(strategiesScanned, kept int) string {
	if kept == 0 {
		return fmt.Sprintf("%d strategies scanned, 0 opportunities met the minimum confidence threshold of %.0f%%",
			strategiesScanned, a.cfg.MinConfidence)
	}
	return fmt.Sprintf("%d strategies scanned, %d opportunities at or above the %.0f%% confidence threshold",
		strategiesScanned, kept, a.cfg.MinConfidence)
}
