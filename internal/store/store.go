// Package store persists reconciled facility records. Two implementations
// share one interface: Postgres (pgx) for the hosted tracker and SQLite
// (modernc) for writing straight into the tracker app's local database.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/gardetrack/gardesync/internal/model"
)

// ErrInstallationIDConflict is returned when an adoption would overwrite a
// facility's existing, different installation ID. A stable identifier, once
// attached, is permanent; this is a data error to surface, not apply.
var ErrInstallationIDConflict = eris.New("store: installation ID conflict")

// ErrConnection marks store-connectivity failures. Unlike per-facility
// errors, these abort the remaining batch; nothing else is fatal to a run.
var ErrConnection = eris.New("store: connection failure")

// IndexEntry is the resolver's view of one stored facility: just the lookup
// keys plus coordinates for the geo gate.
type IndexEntry struct {
	ID             int64
	InstallationID string
	Name           string
	Latitude       *float64
	Longitude      *float64
}

// Store is the persistence interface for the reconciliation pipeline and
// its consumers.
type Store interface {
	// Facilities
	CreateFacility(ctx context.Context, f model.Facility) (*model.Facility, error)
	GetFacility(ctx context.Context, id int64) (*model.Facility, error)
	GetByInstallationID(ctx context.Context, installationID string) (*model.Facility, error)
	ListFacilities(ctx context.Context) ([]model.Facility, error)
	ListByStage(ctx context.Context, stage model.Stage) ([]model.Facility, error)
	NameIndex(ctx context.Context) ([]IndexEntry, error)

	// UpdateFacilityFields writes only the named merged fields (plus
	// provenance and updated_at) in a single transaction. It must never
	// touch workflow columns (stage, position, owner_id, child_id).
	UpdateFacilityFields(ctx context.Context, id int64, f model.Facility, fields []string) error
	AdoptInstallationID(ctx context.Context, id int64, installationID string) error

	// MoveStage is a consumer-side workflow operation; the pipeline itself
	// never calls it.
	MoveStage(ctx context.Context, id int64, stage model.Stage, position int) error

	// Sync log
	StartSyncRun(ctx context.Context, sources []string) (*model.SyncRun, error)
	CompleteSyncRun(ctx context.Context, runID string, counters model.SyncCounters) error
	FailSyncRun(ctx context.Context, runID string, errMsg string, counters model.SyncCounters) error
	RecentSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
