package collab

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/quantrun/oppscan/internal/domain/tier"
)

// UniverseResolver bounds which symbols a scan at a given asset tier may
// consider. Implemented remotely in production; a static tiered list ships
// with the binary.
type UniverseResolver interface {
	Symbols(ctx context.Context, maxTier tier.AssetTier) ([]string, error)
}

// StaticUniverse is the bundled tiered symbol universe. Higher tiers include
// everything below them.
type StaticUniverse struct {
	retail        []string
	professional  []string
	institutional []string
	limiter       *rate.Limiter
}

// NewStaticUniverse creates the default universe.
func NewStaticUniverse() *StaticUniverse {
	return &StaticUniverse{
		retail: []string{
			"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT", "ADA/USDT",
			"DOGE/USDT", "LINK/USDT", "AVAX/USDT",
		},
		professional: []string{
			"DOT/USDT", "ATOM/USDT", "NEAR/USDT", "ARB/USDT", "OP/USDT",
			"INJ/USDT", "TIA/USDT", "SUI/USDT",
		},
		institutional: []string{
			"PEPE/USDT", "WIF/USDT", "JTO/USDT", "PYTH/USDT", "SEI/USDT",
			"STRK/USDT", "DYM/USDT", "ALT/USDT",
		},
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
}

// Symbols returns the universe available at the given tier.
func (u *StaticUniverse) Symbols(ctx context.Context, maxTier tier.AssetTier) ([]string, error) {
	if err := u.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("universe lookup: %w", err)
	}

	out := append([]string(nil), u.retail...)
	if maxTier.Rank() >= tier.AssetTierProfessional.Rank() {
		out = append(out, u.professional...)
	}
	if maxTier.Rank() >= tier.AssetTierInstitutional.Rank() {
		out = append(out, u.institutional...)
	}
	return out, nil
}
