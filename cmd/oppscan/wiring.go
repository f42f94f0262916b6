package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantrun/oppscan/internal/application/aggregate"
	"github.com/quantrun/oppscan/internal/application/coordinator"
	"github.com/quantrun/oppscan/internal/config"
	"github.com/quantrun/oppscan/internal/diag"
	"github.com/quantrun/oppscan/internal/infrastructure/collab"
	"github.com/quantrun/oppscan/internal/infrastructure/store"
	"github.com/quantrun/oppscan/internal/strategy"
)

// core bundles the wired orchestrator components shared by the serve and
// scan commands.
type core struct {
	cfg      config.Config
	store    *store.Store
	storeTag string
	registry *strategy.Registry
	adapter  *strategy.Adapter
	recorder *diag.Recorder
	promReg  *prometheus.Registry
	coord    *coordinator.Coordinator
}

// buildCore wires the full component graph from configuration.
func buildCore(cfg config.Config) *core {
	backend := store.NewAuto(cfg.Store.RedisAddr)
	st := store.New(backend)

	storeTag := "memory"
	if _, ok := backend.(*store.Redis); ok {
		storeTag = "redis"
	}

	promReg := prometheus.NewRegistry()
	recorder := diag.NewRecorder(promReg, st)
	st.OnNearMiss = recorder.NearMiss

	registry := strategy.NewRegistry()
	strategy.RegisterBuiltins(registry)

	adapter := strategy.NewAdapter(registry,
		strategy.NewBreakerSet(cfg.Strategy.Breaker), cfg.Strategy.Timeouts)

	coord := coordinator.New(cfg.Coordinator, st, adapter, registry,
		seedPortfolios(), collab.NewStaticUniverse(),
		aggregate.New(cfg.Aggregate), recorder)

	return &core{
		cfg:      cfg,
		store:    st,
		storeTag: storeTag,
		registry: registry,
		adapter:  adapter,
		recorder: recorder,
		promReg:  promReg,
		coord:    coord,
	}
}

// seedPortfolios returns the bundled portfolio source with demo accounts
// covering each subscription tier.
func seedPortfolios() *collab.StaticPortfolios {
	p := collab.NewStaticPortfolios()
	p.Seed("demo-basic", collab.Portfolio{ActiveStrategyCount: 2, MonthlyCostUSD: 10})
	p.Seed("demo-pro", collab.Portfolio{ActiveStrategyCount: 6, MonthlyCostUSD: 120})
	p.Seed("demo-enterprise", collab.Portfolio{ActiveStrategyCount: 12, MonthlyCostUSD: 350})
	return p
}
