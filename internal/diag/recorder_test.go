package diag

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/oppscan/internal/domain/scan"
	"github.com/quantrun/oppscan/internal/infrastructure/store"
)

func newTestRecorder() *Recorder {
	return NewRecorder(prometheus.NewRegistry(), store.New(store.NewMemory()))
}

func record(userID string, status scan.Status) *scan.Record {
	now := time.Now().UTC()
	return &scan.Record{
		ScanID:    scan.NewScanID(userID, now),
		UserID:    userID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func summaryFor(rec *scan.Record, opportunities int, duration time.Duration) scan.Summary {
	return scan.Summary{
		ScanID:        rec.ScanID,
		UserID:        rec.UserID,
		Status:        rec.Status,
		Opportunities: opportunities,
		Strategies:    5,
		Duration:      duration,
		FinishedAt:    time.Now().UTC(),
	}
}

func TestRecorder_LifecycleTrace(t *testing.T) {
	r := newTestRecorder()
	rec := record("alice", scan.StatusQueued)

	r.ScanQueued(rec)
	rec.Status = scan.StatusScanning
	r.ScanStarted(rec)
	r.TaskSettled(rec.ScanID, scan.TaskResult{
		Strategy: "momentum_breakout",
		Family:   "signal",
		Status:   scan.TaskStatusTimeout,
	})
	rec.Status = scan.StatusComplete
	r.ScanFinished(rec, summaryFor(rec, 3, 2*time.Second))

	events, ok := r.Lifecycle(rec.ScanID)
	require.True(t, ok)
	require.Len(t, events, 4)
	assert.Equal(t, "queued", events[0].Phase)
	assert.Equal(t, "scanning", events[1].Phase)
	assert.Equal(t, "task_timeout", events[2].Phase)
	assert.Equal(t, "momentum_breakout", events[2].Detail)
	assert.Equal(t, "complete", events[3].Phase)

	_, ok = r.Lifecycle("scan_unknown_1")
	assert.False(t, ok)
}

func TestRecorder_SuccessfulTasksAreNotTraced(t *testing.T) {
	r := newTestRecorder()
	rec := record("alice", scan.StatusQueued)
	r.ScanQueued(rec)

	r.TaskSettled(rec.ScanID, scan.TaskResult{Strategy: "s", Family: "signal", Status: scan.TaskStatusSuccess})

	events, ok := r.Lifecycle(rec.ScanID)
	require.True(t, ok)
	assert.Len(t, events, 1, "only the queued event should be traced")
}

func TestRecorder_DailySnapshot(t *testing.T) {
	r := newTestRecorder()

	first := record("alice", scan.StatusQueued)
	r.ScanQueued(first)
	first.Status = scan.StatusComplete
	r.ScanFinished(first, summaryFor(first, 4, 2*time.Second))

	second := record("bob", scan.StatusQueued)
	r.ScanQueued(second)
	second.Status = scan.StatusComplete
	r.ScanFinished(second, summaryFor(second, 2, 4*time.Second))

	failed := record("carol", scan.StatusQueued)
	r.ScanQueued(failed)
	failed.Status = scan.StatusFailed
	failed.Error = "scan results could not be persisted"
	r.ScanFinished(failed, summaryFor(failed, 0, time.Second))

	snap := r.Snapshot()
	assert.Equal(t, 3, snap.TotalScans)
	assert.Equal(t, 2, snap.SuccessfulScans)
	assert.Equal(t, 6, snap.TotalOpportunities)
	assert.Equal(t, 3*time.Second, snap.AvgExecutionTime, "failed scans do not count toward the average")
	require.NotNil(t, snap.LastScan)
	assert.Equal(t, failed.ScanID, snap.LastScan.ScanID)
}

func TestRecorder_HistoryIsBoundedPerUser(t *testing.T) {
	r := newTestRecorder()

	for i := 0; i < maxHistoryPerUser+5; i++ {
		rec := record("alice", scan.StatusComplete)
		rec.ScanID = fmt.Sprintf("scan_alice_%d", i)
		sum := summaryFor(rec, 1, time.Second)
		r.ScanFinished(rec, sum)
	}

	history := r.History("alice")
	require.Len(t, history, maxHistoryPerUser)
	assert.Equal(t, fmt.Sprintf("scan_alice_%d", maxHistoryPerUser+4), history[len(history)-1].ScanID,
		"newest summary survives eviction")

	assert.Empty(t, r.History("nobody"))
}

func TestRecorder_TraceEviction(t *testing.T) {
	r := newTestRecorder()

	for i := 0; i < maxTracedScans+1; i++ {
		rec := record("alice", scan.StatusQueued)
		rec.ScanID = fmt.Sprintf("scan_alice_%d", i)
		r.ScanQueued(rec)
	}

	_, ok := r.Lifecycle("scan_alice_0")
	assert.False(t, ok, "oldest trace evicted")
	_, ok = r.Lifecycle(fmt.Sprintf("scan_alice_%d", maxTracedScans))
	assert.True(t, ok)
}

func TestRecorder_MidnightRollover(t *testing.T) {
	r := newTestRecorder()

	day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return day1 }

	rec := record("alice", scan.StatusQueued)
	r.ScanQueued(rec)
	rec.Status = scan.StatusComplete
	r.ScanFinished(rec, summaryFor(rec, 2, time.Second))

	snap := r.Snapshot()
	assert.Equal(t, "2026-03-01", snap.Date)
	assert.Equal(t, 1, snap.TotalScans)

	r.now = func() time.Time { return day1.Add(2 * time.Hour) }

	snap = r.Snapshot()
	assert.Equal(t, "2026-03-02", snap.Date)
	assert.Equal(t, 0, snap.TotalScans, "counters reset on the new day")
	assert.Nil(t, snap.LastScan)

	// closed day's snapshot is persisted asynchronously
	require.Eventually(t, func() bool {
		persisted, found, err := r.store.GetSnapshot(context.Background(), "2026-03-01")
		return err == nil && found && persisted.TotalScans == 1 && persisted.TotalOpportunities == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecorder_NearMissTracing(t *testing.T) {
	r := newTestRecorder()
	rec := record("alice", scan.StatusQueued)
	r.ScanQueued(rec)

	r.NearMiss(rec.ScanID)

	events, ok := r.Lifecycle(rec.ScanID)
	require.True(t, ok)
	assert.Equal(t, "lookup_near_miss", events[len(events)-1].Phase)
}
