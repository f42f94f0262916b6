package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/oppscan/internal/application/aggregate"
	"github.com/quantrun/oppscan/internal/domain/scan"
	"github.com/quantrun/oppscan/internal/domain/tier"
	"github.com/quantrun/oppscan/internal/infrastructure/collab"
	"github.com/quantrun/oppscan/internal/infrastructure/store"
	"github.com/quantrun/oppscan/internal/strategy"
)

// recordingObserver captures lifecycle events for assertions.
type recordingObserver struct {
	mu        sync.Mutex
	queued    int
	started   int
	settled   []scan.TaskResult
	finished  []scan.Summary
	progress  int
}

func (o *recordingObserver) ScanQueued(*scan.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queued++
}

func (o *recordingObserver) ScanStarted(*scan.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) TaskSettled(_ string, result scan.TaskResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settled = append(o.settled, result)
}

func (o *recordingObserver) ScanFinished(_ *scan.Record, summary scan.Summary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, summary)
}

func (o *recordingObserver) ProgressWritten() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress++
}

func (o *recordingObserver) lastFinished(t *testing.T) scan.Summary {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.finished)
	return o.finished[len(o.finished)-1]
}

func signalEvaluator(confidence float64) strategy.EvaluateFunc {
	return func(ctx context.Context, symbols []string, _ map[string]interface{}) (*strategy.RawResult, error) {
		raw := &strategy.RawResult{Family: strategy.FamilySignal}
		for _, symbol := range symbols {
			raw.Signals = append(raw.Signals, strategy.Signal{
				Symbol:     symbol,
				Exchange:   "binance",
				Direction:  "long",
				Entry:      100,
				Target:     110,
				Stop:       99,
				Confidence: confidence,
				MoveUSD:    500,
				Timeframe:  "4h",
			})
		}
		return raw, nil
	}
}

func hangingEvaluator() strategy.EvaluateFunc {
	return func(ctx context.Context, _ []string, _ map[string]interface{}) (*strategy.RawResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

type harness struct {
	coord      *Coordinator
	store      *store.Store
	backend    *store.Memory
	observer   *recordingObserver
	portfolios *collab.StaticPortfolios
}

func newHarness(t *testing.T, cfg Config, defs ...strategy.Definition) *harness {
	t.Helper()

	registry := strategy.NewRegistry()
	for _, def := range defs {
		require.NoError(t, registry.Register(def))
	}

	backend := store.NewMemory()
	st := store.New(backend)
	observer := &recordingObserver{}
	portfolios := collab.NewStaticPortfolios()
	portfolios.Seed("pro-user", collab.Portfolio{ActiveStrategyCount: 6, MonthlyCostUSD: 120})

	adapter := strategy.NewAdapter(registry, strategy.NewBreakerSet(strategy.DefaultBreakerSettings()),
		strategy.Timeouts{Fast: 100 * time.Millisecond, Slow: 200 * time.Millisecond})

	coord := New(cfg, st, adapter, registry, portfolios, collab.NewStaticUniverse(),
		aggregate.New(aggregate.Config{MinConfidence: 50, CorroborationBonus: 5}), observer)

	return &harness{coord: coord, store: st, backend: backend, observer: observer, portfolios: portfolios}
}

func TestCoordinator_FullScanCompletes(t *testing.T) {
	h := newHarness(t, DefaultConfig(),
		strategy.Definition{Name: "s1", Family: strategy.FamilySignal, Evaluate: signalEvaluator(85)},
		strategy.Definition{Name: "s2", Family: strategy.FamilySignal, Evaluate: signalEvaluator(70)},
		strategy.Definition{Name: "s3", Family: strategy.FamilySignal, Evaluate: signalEvaluator(90)},
	)

	rec, err := h.coord.StartScan(context.Background(), scan.Request{UserID: "pro-user"})
	require.NoError(t, err)
	assert.Equal(t, scan.StatusQueued, rec.Status)
	assert.Equal(t, 3, rec.Progress.TotalStrategies)

	h.coord.Wait()

	final, found, err := h.store.Get(context.Background(), rec.ScanID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, scan.StatusComplete, final.Status)
	assert.Equal(t, 3, final.Progress.StrategiesCompleted)
	assert.Equal(t, 100.0, final.Progress.Percentage)
	require.NotNil(t, final.Results)
	assert.Greater(t, final.Results.TotalOpportunities, 0)

	summary := h.observer.lastFinished(t)
	assert.Equal(t, scan.StatusComplete, summary.Status)
	assert.Zero(t, summary.SoftFailures)
}

func TestCoordinator_TimeoutsAreSoftFailures(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, cfg,
		strategy.Definition{Name: "good", Family: strategy.FamilySignal, Evaluate: signalEvaluator(80)},
		strategy.Definition{Name: "hang1", Family: strategy.FamilyRebalance, Evaluate: hangingEvaluator()},
		strategy.Definition{Name: "hang2", Family: strategy.FamilyRisk, Evaluate: hangingEvaluator()},
	)

	rec, err := h.coord.StartScan(context.Background(), scan.Request{UserID: "pro-user"})
	require.NoError(t, err)

	h.coord.Wait()

	final, found, err := h.store.Get(context.Background(), rec.ScanID)
	require.NoError(t, err)
	require.True(t, found)

	// Two of three strategies timed out; the scan still completes and all
	// strategies are accounted for.
	assert.Equal(t, scan.StatusComplete, final.Status)
	assert.Equal(t, 3, final.Progress.StrategiesCompleted)
	assert.Equal(t, 2, h.observer.lastFinished(t).SoftFailures)
	require.NotNil(t, final.Results)
}

func TestCoordinator_ReturnedRecordIsDetached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProgressFlushEvery = 1

	defs := make([]strategy.Definition, 0, 4)
	for i := 0; i < 4; i++ {
		defs = append(defs, strategy.Definition{
			Name:   fmt.Sprintf("slow%d", i),
			Family: strategy.FamilySignal,
			Evaluate: func(ctx context.Context, symbols []string, _ map[string]interface{}) (*strategy.RawResult, error) {
				time.Sleep(20 * time.Millisecond)
				return signalEvaluator(80)(ctx, symbols, nil)
			},
		})
	}
	h := newHarness(t, cfg, defs...)

	rec, err := h.coord.StartScan(context.Background(), scan.Request{UserID: "pro-user"})
	require.NoError(t, err)

	// Read the returned record while the scan runs; the run goroutine owns
	// its own copy, so these reads must never observe its writes.
	readsDone := make(chan struct{})
	go func() {
		defer close(readsDone)
		for i := 0; i < 50; i++ {
			status := rec.Status
			completed := rec.Progress.StrategiesCompleted
			assert.Equal(t, scan.StatusQueued, status)
			assert.Zero(t, completed)
			time.Sleep(time.Millisecond)
		}
	}()

	h.coord.Wait()
	<-readsDone

	assert.Equal(t, scan.StatusQueued, rec.Status,
		"caller's snapshot stays at creation state; progress is followed through the store")

	final, found, err := h.store.Get(context.Background(), rec.ScanID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, scan.StatusComplete, final.Status)
}

func TestCoordinator_ProgressKeepsRawCandidateCount(t *testing.T) {
	h := newHarness(t, DefaultConfig(),
		strategy.Definition{Name: "dim", Family: strategy.FamilySignal, Evaluate: signalEvaluator(40)},
		strategy.Definition{Name: "bright", Family: strategy.FamilySignal, Evaluate: signalEvaluator(80)},
	)

	rec, err := h.coord.StartScan(context.Background(), scan.Request{UserID: "pro-user"})
	require.NoError(t, err)
	h.coord.Wait()

	final, found, err := h.store.Get(context.Background(), rec.ScanID)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, final.Results)

	// opportunities_found_so_far counts raw candidates and must not shrink
	// to the post-threshold total on the final write.
	assert.Greater(t, final.Progress.OpportunitiesFound, final.Results.TotalOpportunities)
	assert.Equal(t, 2*final.Results.TotalOpportunities, final.Progress.OpportunitiesFound,
		"both strategies produced a candidate per symbol; only the confident ones rank")
}

func TestCoordinator_ZeroStrategiesCompletesImmediately(t *testing.T) {
	h := newHarness(t, DefaultConfig()) // empty registry

	rec, err := h.coord.StartScan(context.Background(), scan.Request{UserID: "brand-new"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		h.coord.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("zero-strategy scan did not complete promptly")
	}

	final, found, err := h.store.Get(context.Background(), rec.ScanID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, scan.StatusComplete, final.Status)
	require.NotNil(t, final.Results)
	assert.Equal(t, 0, final.Results.TotalOpportunities)
	assert.NotEmpty(t, final.Results.ThresholdTransparency)
}

func TestCoordinator_ProgressIsMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProgressFlushEvery = 1

	defs := make([]strategy.Definition, 0, 6)
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("slow%d", i)
		defs = append(defs, strategy.Definition{
			Name:   name,
			Family: strategy.FamilySignal,
			Evaluate: func(ctx context.Context, symbols []string, _ map[string]interface{}) (*strategy.RawResult, error) {
				time.Sleep(20 * time.Millisecond)
				return &strategy.RawResult{Family: strategy.FamilySignal}, nil
			},
		})
	}
	h := newHarness(t, cfg, defs...)

	rec, err := h.coord.StartScan(context.Background(), scan.Request{UserID: "pro-user"})
	require.NoError(t, err)

	last := -1
	deadline := time.After(5 * time.Second)
	for {
		got, found, err := h.store.Get(context.Background(), rec.ScanID)
		require.NoError(t, err)
		require.True(t, found, "record must never disappear mid-scan")
		assert.GreaterOrEqual(t, got.Progress.StrategiesCompleted, last,
			"strategies_completed must never decrease")
		last = got.Progress.StrategiesCompleted
		if got.Status.Terminal() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scan did not finish")
		case <-time.After(5 * time.Millisecond):
		}
	}
	h.coord.Wait()
}

func TestCoordinator_CompletedResultsAreStable(t *testing.T) {
	h := newHarness(t, DefaultConfig(),
		strategy.Definition{Name: "s1", Family: strategy.FamilySignal, Evaluate: signalEvaluator(88)},
	)

	rec, err := h.coord.StartScan(context.Background(), scan.Request{UserID: "pro-user"})
	require.NoError(t, err)
	h.coord.Wait()

	first, found, err := h.store.Get(context.Background(), rec.ScanID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, scan.StatusComplete, first.Status)

	second, found, err := h.store.Get(context.Background(), rec.ScanID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.Results, second.Results, "reads after completion are idempotent")
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestCoordinator_ReusesRecentScan(t *testing.T) {
	h := newHarness(t, DefaultConfig(),
		strategy.Definition{Name: "s1", Family: strategy.FamilySignal, Evaluate: signalEvaluator(80)},
	)

	first, err := h.coord.StartScan(context.Background(), scan.Request{UserID: "pro-user"})
	require.NoError(t, err)
	h.coord.Wait()

	again, err := h.coord.StartScan(context.Background(), scan.Request{UserID: "pro-user"})
	require.NoError(t, err)
	assert.Equal(t, first.ScanID, again.ScanID, "fresh scan reused inside the window")

	time.Sleep(2 * time.Millisecond) // scan ids are millisecond-granular
	forced, err := h.coord.StartScan(context.Background(), scan.Request{UserID: "pro-user", ForceRefresh: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ScanID, forced.ScanID)
	h.coord.Wait()
}

func TestCoordinator_TierBoundsStrategySelection(t *testing.T) {
	registryDefs := make([]strategy.Definition, 0, 12)
	for i := 0; i < 12; i++ {
		registryDefs = append(registryDefs, strategy.Definition{
			Name:     fmt.Sprintf("s%02d", i),
			Family:   strategy.FamilySignal,
			Evaluate: signalEvaluator(70),
		})
	}

	cfg := DefaultConfig()
	h := newHarness(t, cfg, registryDefs...)

	// Unknown user resolves to basic tier: scan limit 10 of the 12.
	rec, err := h.coord.StartScan(context.Background(), scan.Request{UserID: "stranger"})
	require.NoError(t, err)
	assert.Equal(t, 10, rec.Progress.TotalStrategies)
	h.coord.Wait()
}

// failingBackend rejects all writes after an initial grace count.
type failingBackend struct {
	mu      sync.Mutex
	inner   *store.Memory
	allowed int
}

func (f *failingBackend) Write(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allowed <= 0 {
		return errors.New("backend unreachable")
	}
	f.allowed--
	return f.inner.Write(ctx, key, data, ttl)
}

func (f *failingBackend) Read(ctx context.Context, key string) ([]byte, bool, error) {
	return f.inner.Read(ctx, key)
}

func TestCoordinator_FinalizeFailureMarksScanFailed(t *testing.T) {
	registry := strategy.NewRegistry()
	require.NoError(t, registry.Register(strategy.Definition{
		Name: "s1", Family: strategy.FamilySignal, Evaluate: signalEvaluator(80),
	}))

	// Allow the two creation writes (record + recency index), then fail.
	backend := &failingBackend{inner: store.NewMemory(), allowed: 2}
	st := store.New(backend)
	observer := &recordingObserver{}

	cfg := DefaultConfig()
	cfg.FinalizeBackoff = time.Millisecond

	adapter := strategy.NewAdapter(registry, strategy.NewBreakerSet(strategy.DefaultBreakerSettings()),
		strategy.Timeouts{Fast: 100 * time.Millisecond, Slow: 100 * time.Millisecond})
	coord := New(cfg, st, adapter, registry, collab.NewStaticPortfolios(), collab.NewStaticUniverse(),
		aggregate.New(aggregate.DefaultConfig()), observer)

	_, err := coord.StartScan(context.Background(), scan.Request{UserID: "victim"})
	require.NoError(t, err)
	coord.Wait()

	summary := observer.lastFinished(t)
	assert.Equal(t, scan.StatusFailed, summary.Status)
	assert.Zero(t, summary.Opportunities)
}

func TestCoordinator_EstimateSeconds(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	assert.Equal(t, 0, h.coord.EstimateSeconds(0))
	assert.Equal(t, 5, h.coord.EstimateSeconds(3))  // one wave
	assert.Equal(t, 10, h.coord.EstimateSeconds(9)) // two waves at cap 8
}

func TestCoordinator_UnknownUserResolvesToBasicTier(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	profile := h.coord.resolveProfile(context.Background(), "anyone")
	assert.Equal(t, tier.TierBasic, profile.Tier)
}
