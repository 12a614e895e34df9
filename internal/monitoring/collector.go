// Package monitoring watches the sync log and the dead-letter file and
// raises webhook alerts when runs fail or record failure rates climb.
package monitoring

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gardetrack/gardesync/internal/model"
	"github.com/gardetrack/gardesync/internal/resilience"
	"github.com/gardetrack/gardesync/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Sync runs within the lookback window.
	RunsTotal    int `json:"runs_total"`
	RunsComplete int `json:"runs_complete"`
	RunsFailed   int `json:"runs_failed"`
	RunsRunning  int `json:"runs_running"`

	// Record counters summed across the window's runs.
	Records        int     `json:"records"`
	RecordsFailed  int     `json:"records_failed"`
	RecordFailRate float64 `json:"record_fail_rate"`
	Ambiguous      int     `json:"ambiguous"`

	// Dead-letter file depth; -1 when no DLQ is configured.
	DLQDepth int `json:"dlq_depth"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// recentRunsLimit bounds how much of the sync log one collection reads.
const recentRunsLimit = 200

// Collector gathers metrics from the sync log and the dead-letter file.
type Collector struct {
	store   store.Store
	dlqPath string
}

// NewCollector creates a metrics collector. dlqPath may be empty when no
// dead-letter file is configured.
func NewCollector(st store.Store, dlqPath string) *Collector {
	return &Collector{store: st, dlqPath: dlqPath}
}

// Collect builds a snapshot covering runs started within the last
// lookbackHours. lookbackHours <= 0 means 24.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.RecentSyncRuns(ctx, recentRunsLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sync runs")
	}

	snap := &MetricsSnapshot{
		DLQDepth:      -1,
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	for _, run := range runs {
		if run.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch run.Status {
		case model.SyncStatusComplete:
			snap.RunsComplete++
		case model.SyncStatusFailed:
			snap.RunsFailed++
		case model.SyncStatusRunning:
			snap.RunsRunning++
		}
		snap.Records += run.Counters.Records
		snap.RecordsFailed += run.Counters.Failed
		snap.Ambiguous += run.Counters.Ambiguous
	}
	if snap.Records > 0 {
		snap.RecordFailRate = float64(snap.RecordsFailed) / float64(snap.Records)
	}

	if c.dlqPath != "" {
		snap.DLQDepth = 0
		if _, err := os.Stat(c.dlqPath); err == nil {
			entries, err := resilience.LoadDLQ(c.dlqPath)
			if err != nil {
				return nil, eris.Wrap(err, "monitoring: read dead-letter file")
			}
			snap.DLQDepth = len(entries)
		}
	}

	return snap, nil
}
