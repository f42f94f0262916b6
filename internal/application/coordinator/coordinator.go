// Package coordinator runs the scan state machine: it creates the scan
// record, fans strategy execution out across a bounded worker pool, keeps
// progress flowing to the shared state store, and finalizes the record with
// the aggregated result set.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantrun/oppscan/internal/application/aggregate"
	"github.com/quantrun/oppscan/internal/domain/scan"
	"github.com/quantrun/oppscan/internal/domain/tier"
	"github.com/quantrun/oppscan/internal/infrastructure/collab"
	"github.com/quantrun/oppscan/internal/infrastructure/store"
	"github.com/quantrun/oppscan/internal/strategy"
)

// Observer receives lifecycle events. Implemented by the diagnostics
// recorder; observation never blocks or fails a scan.
type Observer interface {
	ScanQueued(rec *scan.Record)
	ScanStarted(rec *scan.Record)
	TaskSettled(scanID string, result scan.TaskResult)
	ScanFinished(rec *scan.Record, summary scan.Summary)
	ProgressWritten()
}

type nopObserver struct{}

func (nopObserver) ScanQueued(*scan.Record)                 {}
func (nopObserver) ScanStarted(*scan.Record)                {}
func (nopObserver) TaskSettled(string, scan.TaskResult)     {}
func (nopObserver) ScanFinished(*scan.Record, scan.Summary) {}
func (nopObserver) ProgressWritten()                        {}

// Config bounds coordinator behavior.
type Config struct {
	ConcurrencyCap        int           `yaml:"concurrency_cap"`
	RecordTTL             time.Duration `yaml:"record_ttl"`
	ProgressFlushEvery    int           `yaml:"progress_flush_every"`
	ProgressFlushInterval time.Duration `yaml:"progress_flush_interval"`
	FinalizeRetries       int           `yaml:"finalize_retries"`
	FinalizeBackoff       time.Duration `yaml:"finalize_backoff"`
	PerStrategyEstimate   time.Duration `yaml:"per_strategy_estimate"`
	DeadlineSlack         time.Duration `yaml:"deadline_slack"`
	ReuseWindow           time.Duration `yaml:"reuse_window"`
}

// DefaultConfig returns the stock coordinator bounds.
func DefaultConfig() Config {
	return Config{
		ConcurrencyCap:        8,
		RecordTTL:             time.Hour,
		ProgressFlushEvery:    3,
		ProgressFlushInterval: 2 * time.Second,
		FinalizeRetries:       3,
		FinalizeBackoff:       250 * time.Millisecond,
		PerStrategyEstimate:   5 * time.Second,
		DeadlineSlack:         30 * time.Second,
		ReuseWindow:           5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConcurrencyCap <= 0 {
		c.ConcurrencyCap = def.ConcurrencyCap
	}
	if c.RecordTTL <= 0 {
		c.RecordTTL = def.RecordTTL
	}
	if c.ProgressFlushEvery <= 0 {
		c.ProgressFlushEvery = def.ProgressFlushEvery
	}
	if c.ProgressFlushInterval <= 0 {
		c.ProgressFlushInterval = def.ProgressFlushInterval
	}
	if c.FinalizeRetries <= 0 {
		c.FinalizeRetries = def.FinalizeRetries
	}
	if c.FinalizeBackoff <= 0 {
		c.FinalizeBackoff = def.FinalizeBackoff
	}
	if c.PerStrategyEstimate <= 0 {
		c.PerStrategyEstimate = def.PerStrategyEstimate
	}
	if c.DeadlineSlack <= 0 {
		c.DeadlineSlack = def.DeadlineSlack
	}
	return c
}

// Coordinator owns all writes to scan records. One invocation of run per
// scan; strategy execution fans out under a bounded pool inside it.
type Coordinator struct {
	cfg        Config
	store      *store.Store
	adapter    *strategy.Adapter
	registry   *strategy.Registry
	portfolios collab.PortfolioService
	universe   collab.UniverseResolver
	aggregator *aggregate.Aggregator
	observer   Observer

	wg sync.WaitGroup
}

// New creates a coordinator. A nil observer is replaced with a no-op.
func New(cfg Config, st *store.Store, adapter *strategy.Adapter, registry *strategy.Registry,
	portfolios collab.PortfolioService, universe collab.UniverseResolver,
	aggregator *aggregate.Aggregator, observer Observer) *Coordinator {

	if observer == nil {
		observer = nopObserver{}
	}
	return &Coordinator{
		cfg:        cfg.withDefaults(),
		store:      st,
		adapter:    adapter,
		registry:   registry,
		portfolios: portfolios,
		universe:   universe,
		aggregator: aggregator,
		observer:   observer,
	}
}

// EstimateSeconds predicts scan duration for the poll response.
func (c *Coordinator) EstimateSeconds(totalStrategies int) int {
	if totalStrategies == 0 {
		return 0
	}
	workers := c.cfg.ConcurrencyCap
	if totalStrategies < workers {
		workers = totalStrategies
	}
	waves := (totalStrategies + workers - 1) / workers
	return int((time.Duration(waves) * c.cfg.PerStrategyEstimate).Seconds())
}

// StartScan creates the scan record and launches the asynchronous run. Only
// the initial record write can fail the call; everything downstream settles
// through the record's own status.
func (c *Coordinator) StartScan(ctx context.Context, req scan.Request) (*scan.Record, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("scan request requires a user id")
	}

	// An in-flight or just-completed scan is reused unless the caller forces
	// a refresh; rerunning the same strategy set seconds apart only burns
	// downstream API budget.
	if !req.ForceRefresh {
		if rec := c.reusable(ctx, req.UserID); rec != nil {
			log.Debug().Str("scan_id", rec.ScanID).Str("user_id", req.UserID).
				Msg("Reusing recent scan instead of starting a new one")
			return rec, nil
		}
	}

	profile := c.resolveProfile(ctx, req.UserID)
	symbols := c.resolveSymbols(ctx, profile.MaxAssetTier)
	defs := c.registry.Select(profile.MaxAssetTier, profile.ScanLimit)

	now := time.Now().UTC()
	rec := &scan.Record{
		ScanID:    scan.NewScanID(req.UserID, now),
		UserID:    req.UserID,
		Status:    scan.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec.Progress.Update(0, len(defs), 0)
	if len(defs) == 0 {
		// Percentage starts at 0 even for the degenerate empty scan; the run
		// below completes it immediately.
		rec.Progress.Percentage = 0
	}

	if err := c.putWithRetries(ctx, rec); err != nil {
		return nil, fmt.Errorf("create scan record: %w", err)
	}
	c.observer.ScanQueued(rec)

	log.Info().Str("scan_id", rec.ScanID).Str("user_id", req.UserID).
		Str("tier", string(profile.Tier)).Int("strategies", len(defs)).
		Int("symbols", len(symbols)).Msg("Scan queued")

	// The run goroutine keeps mutating rec until the scan settles; callers
	// get a detached snapshot and follow further progress through the store.
	out := *rec

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(rec, defs, symbols, profile)
	}()

	return &out, nil
}

// Wait blocks until all in-flight scans settle. Used on shutdown and in
// tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// reusable returns the user's most recent scan if it is still in flight or
// completed inside the reuse window.
func (c *Coordinator) reusable(ctx context.Context, userID string) *scan.Record {
	scanID, found, err := c.store.ResolveByUserAndRecency(ctx, userID)
	if err != nil || !found {
		return nil
	}
	rec, found, err := c.store.Get(ctx, scanID)
	if err != nil || !found {
		return nil
	}
	if !rec.Status.Terminal() {
		return rec
	}
	if rec.Status == scan.StatusComplete && time.Since(rec.UpdatedAt) < c.cfg.ReuseWindow {
		return rec
	}
	return nil
}

// resolveProfile feeds the tier resolver; a missing portfolio is not an
// error, it resolves to the most restrictive tier.
func (c *Coordinator) resolveProfile(ctx context.Context, userID string) tier.Profile {
	portfolio, err := c.portfolios.ActivePortfolio(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).
			Msg("Portfolio lookup failed, defaulting to basic tier")
		return tier.Resolve(0, 0)
	}
	return tier.Resolve(portfolio.ActiveStrategyCount, portfolio.MonthlyCostUSD)
}

// resolveSymbols loads the asset universe; an unavailable resolver yields an
// empty universe and the scan completes with a transparency message rather
// than failing.
func (c *Coordinator) resolveSymbols(ctx context.Context, maxTier tier.AssetTier) []string {
	symbols, err := c.universe.Symbols(ctx, maxTier)
	if err != nil {
		log.Warn().Err(err).Str("asset_tier", string(maxTier)).
			Msg("Universe lookup failed, scanning empty symbol set")
		return nil
	}
	return symbols
}

// run drives one scan to a terminal status. It owns the record: no other
// goroutine mutates it after launch.
func (c *Coordinator) run(rec *scan.Record, defs []strategy.Definition, symbols []string, profile tier.Profile) {
	started := time.Now()

	// Outer deadline bounds worst-case latency: force-finalize with whatever
	// has arrived rather than hang on a stuck strategy.
	deadline := c.outerDeadline(len(defs), profile.MaxConcurrent)
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	c.transition(ctx, rec, scan.StatusScanning)
	c.observer.ScanStarted(rec)

	candidates, softFailures := c.fanOut(ctx, rec, defs, symbols, profile)

	results := c.aggregator.Aggregate(candidates, len(defs))

	rec.Progress.Update(len(defs), len(defs), len(candidates))
	rec.Results = results
	rec.Status = scan.StatusComplete
	rec.UpdatedAt = time.Now().UTC()

	if err := c.putWithRetries(ctx, rec); err != nil {
		// Only the coordinator's own bookkeeping can fail a scan.
		log.Error().Err(err).Str("scan_id", rec.ScanID).Msg("Finalize write failed, marking scan failed")
		rec.Status = scan.StatusFailed
		rec.Results = nil
		rec.Error = "scan results could not be persisted"
		rec.UpdatedAt = time.Now().UTC()
		if err := c.putWithRetries(context.Background(), rec); err != nil {
			log.Error().Err(err).Str("scan_id", rec.ScanID).Msg("Failed-status write also failed")
		}
	}

	summary := scan.Summary{
		ScanID:        rec.ScanID,
		UserID:        rec.UserID,
		Status:        rec.Status,
		Strategies:    len(defs),
		SoftFailures:  softFailures,
		Duration:      time.Since(started),
		FinishedAt:    time.Now().UTC(),
	}
	if rec.Results != nil {
		summary.Opportunities = rec.Results.TotalOpportunities
	}
	c.observer.ScanFinished(rec, summary)

	log.Info().Str("scan_id", rec.ScanID).Str("status", string(rec.Status)).
		Int("opportunities", summary.Opportunities).Int("soft_failures", softFailures).
		Dur("duration", summary.Duration).Msg("Scan finished")
}

// fanOut executes every strategy task under the bounded pool and folds
// results as they settle. Progress writes are coalesced: at least one write
// per flush-every completions or flush-interval seconds, whichever first.
func (c *Coordinator) fanOut(ctx context.Context, rec *scan.Record, defs []strategy.Definition, symbols []string, profile tier.Profile) ([]scan.Candidate, int) {
	total := len(defs)
	if total == 0 {
		return nil, 0
	}

	workers := total
	if profile.MaxConcurrent < workers {
		workers = profile.MaxConcurrent
	}
	if c.cfg.ConcurrencyCap < workers {
		workers = c.cfg.ConcurrencyCap
	}

	taskCh := make(chan scan.Task)
	resultCh := make(chan scan.TaskResult)

	var workerWG sync.WaitGroup
	for i := 0; i < workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for task := range taskCh {
				resultCh <- c.adapter.Invoke(ctx, task)
			}
		}()
	}

	go func() {
		for _, def := range defs {
			taskCh <- scan.Task{
				ScanID:   rec.ScanID,
				Strategy: def.Name,
				Family:   string(def.Family),
				Symbols:  symbols,
				Timeout:  c.adapter.TimeoutFor(def.Class),
			}
		}
		close(taskCh)
		workerWG.Wait()
		close(resultCh)
	}()

	// Single folding loop keeps progress strictly monotonic.
	var (
		candidates   []scan.Candidate
		completed    int
		softFailures int
		sinceFlush   int
		lastFlush    = time.Now()
	)
	for result := range resultCh {
		completed++
		sinceFlush++
		if result.Status == scan.TaskStatusSuccess {
			candidates = append(candidates, result.Candidates...)
		} else {
			softFailures++
		}
		c.observer.TaskSettled(rec.ScanID, result)

		if completed < total &&
			(sinceFlush >= c.cfg.ProgressFlushEvery || time.Since(lastFlush) >= c.cfg.ProgressFlushInterval) {
			rec.Progress.Update(completed, total, len(candidates))
			rec.UpdatedAt = time.Now().UTC()
			c.writeProgress(ctx, rec)
			sinceFlush = 0
			lastFlush = time.Now()
		}
	}

	return candidates, softFailures
}

// transition applies a status change, enforcing monotonicity, and writes it
// best-effort: a missed intermediate write only delays what pollers see.
func (c *Coordinator) transition(ctx context.Context, rec *scan.Record, next scan.Status) {
	if !rec.Status.CanTransition(next) {
		log.Error().Str("scan_id", rec.ScanID).Str("from", string(rec.Status)).
			Str("to", string(next)).Msg("Illegal status transition blocked")
		return
	}
	rec.Status = next
	rec.UpdatedAt = time.Now().UTC()
	c.writeProgress(ctx, rec)
}

func (c *Coordinator) writeProgress(ctx context.Context, rec *scan.Record) {
	if err := c.store.Put(ctx, rec, c.cfg.RecordTTL); err != nil {
		log.Warn().Err(err).Str("scan_id", rec.ScanID).Msg("Progress write failed")
		return
	}
	c.observer.ProgressWritten()
}

// putWithRetries writes the record with bounded backoff. Used for the two
// critical writes (creation, finalization).
func (c *Coordinator) putWithRetries(ctx context.Context, rec *scan.Record) error {
	var err error
	backoff := c.cfg.FinalizeBackoff
	for attempt := 0; attempt < c.cfg.FinalizeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				// The outer deadline has no authority over durable writes;
				// fall through and try anyway before giving up.
			}
			backoff *= 2
		}
		if err = c.store.Put(context.WithoutCancel(ctx), rec, c.cfg.RecordTTL); err == nil {
			return nil
		}
		log.Warn().Err(err).Str("scan_id", rec.ScanID).Int("attempt", attempt+1).
			Msg("Scan record write failed")
	}
	return err
}

func (c *Coordinator) outerDeadline(total, maxConcurrent int) time.Duration {
	if total == 0 {
		return c.cfg.DeadlineSlack
	}
	workers := total
	if maxConcurrent < workers {
		workers = maxConcurrent
	}
	if c.cfg.ConcurrencyCap < workers {
		workers = c.cfg.ConcurrencyCap
	}
	waves := (total + workers - 1) / workers
	return time.Duration(waves)*c.adapter.TimeoutFor(strategy.ClassSlow) + c.cfg.DeadlineSlack
}
