package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gardetrack/gardesync/internal/db"
	"github.com/gardetrack/gardesync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool (or a pgxmock pool in tests).
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., the bulk dump loader).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS facilities (
	id                INTEGER GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	installation_id   TEXT UNIQUE,
	name              TEXT NOT NULL,
	address           TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	facebook          TEXT NOT NULL DEFAULT '',
	daycare_type      TEXT NOT NULL DEFAULT '',
	subsidized        BOOLEAN NOT NULL DEFAULT false,
	price             TEXT NOT NULL DEFAULT '',
	total_capacity    INTEGER,
	infant_capacity   INTEGER,
	toddler_capacity  INTEGER,
	description       TEXT NOT NULL DEFAULT '',
	weekly_hours      JSONB,
	accessible        BOOLEAN NOT NULL DEFAULT false,
	coord_office_name TEXT NOT NULL DEFAULT '',
	inspection_url    TEXT NOT NULL DEFAULT '',
	latitude          DOUBLE PRECISION,
	longitude         DOUBLE PRECISION,
	provenance        JSONB,
	stage             TEXT NOT NULL DEFAULT 'to_research',
	position          INTEGER NOT NULL DEFAULT 0,
	owner_id          BIGINT,
	child_id          BIGINT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_facilities_stage ON facilities(stage, position);
CREATE INDEX IF NOT EXISTS idx_facilities_name ON facilities(name);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	sources      JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	counters     JSONB,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT 1"); err != nil {
		return eris.Wrap(ErrConnection, err.Error())
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// CreateFacility inserts a new facility at the tail of the default workflow
// stage. Position assignment and insert happen in one transaction so a
// concurrent reader never sees a torn row.
func (s *PostgresStore) CreateFacility(ctx context.Context, f model.Facility) (*model.Facility, error) {
	if f.Stage == "" {
		f.Stage = model.StageToResearch
	}
	now := time.Now().UTC()

	hoursJSON, err := marshalJSON(f.WeeklyHours, len(f.WeeklyHours) == 0)
	if err != nil {
		return nil, err
	}
	provJSON, err := marshalJSON(f.Provenance, len(f.Provenance) == 0)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create facility")
	}
	defer tx.Rollback(ctx)

	var position int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM facilities WHERE stage = $1`,
		string(f.Stage),
	).Scan(&position)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: next position")
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO facilities (
			installation_id, name, address, phone, email, website, facebook,
			daycare_type, subsidized, price, total_capacity, infant_capacity,
			toddler_capacity, description, weekly_hours, accessible,
			coord_office_name, inspection_url, latitude, longitude, provenance,
			stage, position, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		RETURNING id`,
		nullableID(f.InstallationID), f.Name, f.Address, f.Phone, f.Email,
		f.Website, f.Facebook, string(f.DaycareType), f.Subsidized, f.Price,
		f.TotalCapacity, f.InfantCapacity, f.ToddlerCapacity, f.Description,
		hoursJSON, f.Accessible, f.CoordOfficeName, f.InspectionURL,
		f.Latitude, f.Longitude, provJSON, string(f.Stage), position, now, now,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert facility %q", f.Name)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create facility")
	}

	f.ID = id
	f.Position = position
	f.CreatedAt = now
	f.UpdatedAt = now
	return &f, nil
}

func (s *PostgresStore) GetFacility(ctx context.Context, id int64) (*model.Facility, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+facilityColumns+` FROM facilities WHERE id = $1`, id)
	f, err := scanFacility(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get facility %d", id)
	}
	return f, nil
}

func (s *PostgresStore) GetByInstallationID(ctx context.Context, installationID string) (*model.Facility, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+facilityColumns+` FROM facilities WHERE installation_id = $1`, installationID)
	f, err := scanFacility(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get facility by installation %s", installationID)
	}
	return f, nil
}

func (s *PostgresStore) ListFacilities(ctx context.Context) ([]model.Facility, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+facilityColumns+` FROM facilities ORDER BY stage, position`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list facilities")
	}
	defer rows.Close()
	return collectFacilities(rows)
}

func (s *PostgresStore) ListByStage(ctx context.Context, stage model.Stage) ([]model.Facility, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+facilityColumns+` FROM facilities WHERE stage = $1 ORDER BY position`,
		string(stage))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list facilities in %s", stage)
	}
	defer rows.Close()
	return collectFacilities(rows)
}

func collectFacilities(rows pgx.Rows) ([]model.Facility, error) {
	var out []model.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan facility")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate facilities")
}

func (s *PostgresStore) NameIndex(ctx context.Context) ([]IndexEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, installation_id, name, latitude, longitude FROM facilities ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: name index")
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var e IndexEntry
		var installationID *string
		if err := rows.Scan(&e.ID, &installationID, &e.Name, &e.Latitude, &e.Longitude); err != nil {
			return nil, eris.Wrap(err, "postgres: scan index entry")
		}
		if installationID != nil {
			e.InstallationID = *installationID
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate name index")
}

// UpdateFacilityFields writes only the named columns plus provenance and
// updated_at, atomically. Workflow columns are not reachable from here.
func (s *PostgresStore) UpdateFacilityFields(ctx context.Context, id int64, f model.Facility, fields []string) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(fields)+2)
	args := make([]any, 0, len(fields)+3)
	argIdx := 1

	for _, field := range fields {
		col, val, err := fieldColumn(f, field)
		if err != nil {
			return err
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), argIdx))
		args = append(args, val)
		argIdx++
	}

	provJSON, err := marshalJSON(f.Provenance, len(f.Provenance) == 0)
	if err != nil {
		return err
	}
	setClauses = append(setClauses, fmt.Sprintf(`"provenance" = $%d`, argIdx))
	args = append(args, provJSON)
	argIdx++
	setClauses = append(setClauses, fmt.Sprintf(`"updated_at" = $%d`, argIdx))
	args = append(args, time.Now().UTC())
	argIdx++

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE facilities SET %s WHERE id = $%d`,
		strings.Join(setClauses, ", "), argIdx)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin update facility")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update facility %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("facility not found: %d", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit update facility")
}

func (s *PostgresStore) AdoptInstallationID(ctx context.Context, id int64, installationID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE facilities SET installation_id = $1, updated_at = $2
		 WHERE id = $3 AND (installation_id IS NULL OR installation_id = $1)`,
		installationID, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: adopt installation ID for %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrInstallationIDConflict, "facility %d already holds a different installation ID than %s", id, installationID)
	}
	return nil
}

func (s *PostgresStore) MoveStage(ctx context.Context, id int64, stage model.Stage, position int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE facilities SET stage = $1, position = $2, updated_at = $3 WHERE id = $4`,
		string(stage), position, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: move facility %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("facility not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) StartSyncRun(ctx context.Context, sources []string) (*model.SyncRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal sources")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, sources, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, sourcesJSON, string(model.SyncStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert sync run")
	}

	return &model.SyncRun{
		ID:        id,
		Sources:   sources,
		Status:    model.SyncStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteSyncRun(ctx context.Context, runID string, counters model.SyncCounters) error {
	return s.finishSyncRun(ctx, runID, model.SyncStatusComplete, "", counters)
}

func (s *PostgresStore) FailSyncRun(ctx context.Context, runID string, errMsg string, counters model.SyncCounters) error {
	return s.finishSyncRun(ctx, runID, model.SyncStatusFailed, errMsg, counters)
}

func (s *PostgresStore) finishSyncRun(ctx context.Context, runID string, status model.SyncStatus, errMsg string, counters model.SyncCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counters")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, counters = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(status), countersJSON, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish sync run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) RecentSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, sources, status, counters, error, started_at, completed_at
		 FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent sync runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var sourcesJSON, countersJSON []byte
		if err := rows.Scan(&r.ID, &sourcesJSON, &r.Status, &countersJSON, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync run")
		}
		if err := json.Unmarshal(sourcesJSON, &r.Sources); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sources")
		}
		if len(countersJSON) > 0 {
			if err := json.Unmarshal(countersJSON, &r.Counters); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal counters")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate sync runs")
}
