package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/quantrun/oppscan/internal/domain/tier"
)

// TimeoutClass selects the per-call deadline for a strategy. Statistical
// arbitrage and multi-exchange funding scans are inherently slower than
// single-feed signal checks.
type TimeoutClass string

const (
	ClassFast TimeoutClass = "fast"
	ClassSlow TimeoutClass = "slow"
)

// EvaluateFunc is the opaque evaluator contract. Implementations inspect
// market or portfolio data and emit zero or more raw findings; a zero-length
// result is success, not an error.
type EvaluateFunc func(ctx context.Context, symbols []string, params map[string]interface{}) (*RawResult, error)

// Definition describes one pluggable strategy known to the registry.
type Definition struct {
	Name         string
	Family       Family
	Class        TimeoutClass
	MinAssetTier tier.AssetTier
	Evaluate     EvaluateFunc
}

// Registry holds the strategy set the coordinator selects from.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds or replaces a strategy definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("strategy definition requires a name")
	}
	if def.Evaluate == nil {
		return fmt.Errorf("strategy %s requires an evaluate function", def.Name)
	}
	if def.Class == "" {
		def.Class = ClassFast
	}
	if def.MinAssetTier == "" {
		def.MinAssetTier = tier.AssetTierRetail
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	return nil
}

// Get returns the definition for a strategy name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Select returns up to limit strategies available at the given asset tier,
// in stable name order so repeated scans for the same user are comparable.
func (r *Registry) Select(maxTier tier.AssetTier, limit int) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		if def.MinAssetTier.Rank() > maxTier.Rank() {
			continue
		}
		selected = append(selected, def)
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i].Name < selected[j].Name })

	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
