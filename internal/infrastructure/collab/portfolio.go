// Package collab holds the narrow interfaces to external collaborators the
// orchestrator consumes: user strategy portfolios and the asset universe.
// Bundled static implementations keep the binary runnable without the rest of
// the platform; both are rate limited like their remote counterparts.
package collab

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Portfolio is the slice of user data the tier resolver needs.
type Portfolio struct {
	ActiveStrategyCount int     `json:"active_strategy_count"`
	MonthlyCostUSD      float64 `json:"monthly_cost"`
}

// PortfolioService resolves a user's strategy portfolio. Implemented by the
// platform's billing/strategy service; absent data is not an error (the tier
// resolver defaults to the most restrictive tier).
type PortfolioService interface {
	ActivePortfolio(ctx context.Context, userID string) (Portfolio, error)
}

// StaticPortfolios is an in-process portfolio source seeded per user.
type StaticPortfolios struct {
	mu       sync.RWMutex
	users    map[string]Portfolio
	limiter  *rate.Limiter
	fallback Portfolio
}

// NewStaticPortfolios creates a portfolio source with an empty default for
// unknown users.
func NewStaticPortfolios() *StaticPortfolios {
	return &StaticPortfolios{
		users:   make(map[string]Portfolio),
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
}

// Seed sets the portfolio returned for a user.
func (s *StaticPortfolios) Seed(userID string, p Portfolio) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = p
}

// ActivePortfolio returns the seeded portfolio, or the zero portfolio for
// unknown users so new accounts resolve to the basic tier.
func (s *StaticPortfolios) ActivePortfolio(ctx context.Context, userID string) (Portfolio, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Portfolio{}, fmt.Errorf("portfolio lookup for %s: %w", userID, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.users[userID]; ok {
		return p, nil
	}
	return s.fallback, nil
}
