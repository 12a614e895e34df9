package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardetrack/gardesync/internal/model"
	"github.com/gardetrack/gardesync/internal/resilience"
	"github.com/gardetrack/gardesync/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func completeRun(t *testing.T, st *store.SQLiteStore, counters model.SyncCounters) {
	t.Helper()
	ctx := context.Background()
	run, err := st.StartSyncRun(ctx, []string{"portal-dump"})
	require.NoError(t, err)
	require.NoError(t, st.CompleteSyncRun(ctx, run.ID, counters))
}

func TestCollectorEmptyLog(t *testing.T) {
	st := newTestStore(t)
	c := NewCollector(st, "")

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.RunsTotal)
	assert.Equal(t, 0.0, snap.RecordFailRate)
	assert.Equal(t, -1, snap.DLQDepth)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.WithinDuration(t, time.Now().UTC(), snap.CollectedAt, time.Minute)
}

func TestCollectorSumsRunCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	completeRun(t, st, model.SyncCounters{Records: 100, Created: 10, Failed: 5, Ambiguous: 2})
	completeRun(t, st, model.SyncCounters{Records: 100, Updated: 40, Failed: 15})

	run, err := st.StartSyncRun(ctx, []string{"llm-extract"})
	require.NoError(t, err)
	require.NoError(t, st.FailSyncRun(ctx, run.ID, "all sources failed", model.SyncCounters{}))

	c := NewCollector(st, "")
	snap, err := c.Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 200, snap.Records)
	assert.Equal(t, 20, snap.RecordsFailed)
	assert.Equal(t, 2, snap.Ambiguous)
	assert.InDelta(t, 0.10, snap.RecordFailRate, 1e-9)
}

func TestCollectorDefaultsLookback(t *testing.T) {
	st := newTestStore(t)
	c := NewCollector(st, "")

	snap, err := c.Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollectorDLQDepth(t *testing.T) {
	st := newTestStore(t)
	path := filepath.Join(t.TempDir(), "dead.jsonl")

	// Configured but not yet written counts as zero depth.
	c := NewCollector(st, path)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.DLQDepth)

	err = resilience.AppendDLQ(path, []resilience.DLQEntry{
		{RunID: "r1", Error: "record has no name", ErrorType: "permanent", FailedAt: time.Now().UTC()},
		{RunID: "r1", Error: "record has no name", ErrorType: "permanent", FailedAt: time.Now().UTC()},
	})
	require.NoError(t, err)

	snap, err = c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.DLQDepth)
}
