// Package diag observes the scan coordinator's lifecycle and serves the
// read-only diagnostics surface: per-scan phase traces, per-user history,
// rolling daily statistics, and Prometheus metrics.
package diag

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/quantrun/oppscan/internal/domain/scan"
	"github.com/quantrun/oppscan/internal/infrastructure/store"
)

const (
	maxTracedScans    = 512
	maxHistoryPerUser = 20
	snapshotTTL       = 72 * time.Hour
)

// PhaseEvent is one lifecycle transition of a scan.
type PhaseEvent struct {
	Phase  string    `json:"phase"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Recorder taps coordinator lifecycle events. All methods are safe for
// concurrent use; recording never blocks or fails a scan.
type Recorder struct {
	mu        sync.RWMutex
	lifecycle map[string][]PhaseEvent
	traceAge  []string // insertion order for eviction
	history   map[string][]scan.Summary

	daily         scan.MetricsSnapshot
	totalDuration time.Duration

	metrics *Metrics
	store   *store.Store
	cron    *cron.Cron
	now     func() time.Time
}

// NewRecorder creates a recorder registering metrics on reg.
func NewRecorder(reg prometheus.Registerer, st *store.Store) *Recorder {
	r := &Recorder{
		lifecycle: make(map[string][]PhaseEvent),
		history:   make(map[string][]scan.Summary),
		metrics:   NewMetrics(reg),
		store:     st,
		now:       time.Now,
	}
	r.daily = scan.MetricsSnapshot{Date: r.today()}
	return r
}

func (r *Recorder) today() string {
	return r.now().UTC().Format("2006-01-02")
}

// ScanQueued records the creation of a scan record.
func (r *Recorder) ScanQueued(rec *scan.Record) {
	r.metrics.ScansTotal.Inc()
	r.metrics.ActiveScans.Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked()
	r.daily.TotalScans++
	r.traceLocked(rec.ScanID, PhaseEvent{Phase: string(scan.StatusQueued), At: r.now()})
}

// ScanStarted records the queued -> scanning transition.
func (r *Recorder) ScanStarted(rec *scan.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traceLocked(rec.ScanID, PhaseEvent{Phase: string(scan.StatusScanning), At: r.now()})
}

// TaskSettled records one strategy task outcome.
func (r *Recorder) TaskSettled(scanID string, result scan.TaskResult) {
	r.metrics.TaskResults.WithLabelValues(result.Family, string(result.Status)).Inc()

	if result.Status != scan.TaskStatusSuccess {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.traceLocked(scanID, PhaseEvent{
			Phase:  "task_" + string(result.Status),
			Detail: result.Strategy,
			At:     r.now(),
		})
	}
}

// ScanFinished records the terminal transition and folds the scan into the
// daily snapshot and the user's history.
func (r *Recorder) ScanFinished(rec *scan.Record, summary scan.Summary) {
	r.metrics.ActiveScans.Dec()
	r.metrics.ScanDuration.Observe(summary.Duration.Seconds())
	if rec.Status == scan.StatusFailed {
		r.metrics.ScansFailed.Inc()
	} else {
		r.metrics.Opportunities.Add(float64(summary.Opportunities))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked()

	r.traceLocked(rec.ScanID, PhaseEvent{Phase: string(rec.Status), Detail: rec.Error, At: r.now()})

	if rec.Status == scan.StatusComplete {
		r.daily.SuccessfulScans++
		r.daily.TotalOpportunities += summary.Opportunities
		r.totalDuration += summary.Duration
	}
	if r.daily.SuccessfulScans > 0 {
		r.daily.AvgExecutionTime = r.totalDuration / time.Duration(r.daily.SuccessfulScans)
	}
	summaryCopy := summary
	r.daily.LastScan = &summaryCopy

	h := append(r.history[summary.UserID], summary)
	if len(h) > maxHistoryPerUser {
		h = h[len(h)-maxHistoryPerUser:]
	}
	r.history[summary.UserID] = h
}

// ProgressWritten counts a coalesced progress write.
func (r *Recorder) ProgressWritten() {
	r.metrics.ProgressWrites.Inc()
}

// NearMiss counts a fallback-chain resolution; wired into store.OnNearMiss.
func (r *Recorder) NearMiss(scanID string) {
	r.metrics.StoreNearMiss.Inc()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traceLocked(scanID, PhaseEvent{Phase: "lookup_near_miss", At: r.now()})
}

// Lifecycle returns the recorded phase trace for a scan.
func (r *Recorder) Lifecycle(scanID string) ([]PhaseEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events, ok := r.lifecycle[scanID]
	if !ok {
		return nil, false
	}
	return append([]PhaseEvent(nil), events...), true
}

// History returns the most recent scan summaries for a user, newest last.
func (r *Recorder) History(userID string) []scan.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]scan.Summary(nil), r.history[userID]...)
}

// Snapshot returns a copy of the current daily aggregate.
func (r *Recorder) Snapshot() scan.MetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked()

	snap := r.daily
	if r.daily.LastScan != nil {
		last := *r.daily.LastScan
		snap.LastScan = &last
	}
	return snap
}

// StartRollover schedules the midnight (UTC) snapshot rollover. The rollover
// also runs lazily on record/read paths, which covers quiet periods where the
// schedule fires with nothing to close.
func (r *Recorder) StartRollover() error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc("0 0 * * *", func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.rolloverLocked()
	}); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the rollover schedule and persists the current snapshot.
func (r *Recorder) Stop(ctx context.Context) {
	if r.cron != nil {
		r.cron.Stop()
	}
	r.mu.Lock()
	snap := r.daily
	r.mu.Unlock()
	r.persist(ctx, &snap)
}

// rolloverLocked persists and resets the daily snapshot when the day changed.
func (r *Recorder) rolloverLocked() {
	today := r.today()
	if r.daily.Date == today {
		return
	}

	closing := r.daily
	go r.persist(context.Background(), &closing)

	log.Info().Str("closed", closing.Date).Str("opened", today).
		Int("total_scans", closing.TotalScans).Msg("Rolled over daily scan metrics")

	r.daily = scan.MetricsSnapshot{Date: today}
	r.totalDuration = 0
}

func (r *Recorder) persist(ctx context.Context, snap *scan.MetricsSnapshot) {
	if r.store == nil || snap.TotalScans == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.store.PutSnapshot(ctx, snap, snapshotTTL); err != nil {
		log.Error().Err(err).Str("date", snap.Date).Msg("Failed to persist daily metrics snapshot")
	}
}

// traceLocked appends a phase event, evicting the oldest traced scan when the
// trace table is full.
func (r *Recorder) traceLocked(scanID string, event PhaseEvent) {
	if _, ok := r.lifecycle[scanID]; !ok {
		if len(r.traceAge) >= maxTracedScans {
			oldest := r.traceAge[0]
			r.traceAge = r.traceAge[1:]
			delete(r.lifecycle, oldest)
		}
		r.traceAge = append(r.traceAge, scanID)
	}
	r.lifecycle[scanID] = append(r.lifecycle[scanID], event)
}
