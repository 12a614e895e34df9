package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/gardetrack/gardesync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// backend for local single-user boards.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS facilities (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	installation_id   TEXT UNIQUE,
	name              TEXT NOT NULL,
	address           TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	facebook          TEXT NOT NULL DEFAULT '',
	daycare_type      TEXT NOT NULL DEFAULT '',
	subsidized        BOOLEAN NOT NULL DEFAULT 0,
	price             TEXT NOT NULL DEFAULT '',
	total_capacity    INTEGER,
	infant_capacity   INTEGER,
	toddler_capacity  INTEGER,
	description       TEXT NOT NULL DEFAULT '',
	weekly_hours      TEXT,
	accessible        BOOLEAN NOT NULL DEFAULT 0,
	coord_office_name TEXT NOT NULL DEFAULT '',
	inspection_url    TEXT NOT NULL DEFAULT '',
	latitude          REAL,
	longitude         REAL,
	provenance        TEXT,
	stage             TEXT NOT NULL DEFAULT 'to_research',
	position          INTEGER NOT NULL DEFAULT 0,
	owner_id          INTEGER,
	child_id          INTEGER,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_facilities_stage ON facilities(stage, position);
CREATE INDEX IF NOT EXISTS idx_facilities_name ON facilities(name);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	sources      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	counters     TEXT,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return eris.Wrap(ErrConnection, err.Error())
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateFacility(ctx context.Context, f model.Facility) (*model.Facility, error) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create facility")
	}
	defer tx.Rollback()

	var position int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM facilities WHERE stage = ?`,
		string(f.Stage),
	).Scan(&position)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: next position")
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO facilities (
			installation_id, name, address, phone, email, website, facebook,
			daycare_type, subsidized, price, total_capacity, infant_capacity,
			toddler_capacity, description, weekly_hours, accessible,
			coord_office_name, inspection_url, latitude, longitude, provenance,
			stage, position, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableID(f.InstallationID), f.Name, f.Address, f.Phone, f.Email,
		f.Website, f.Facebook, string(f.DaycareType), f.Subsidized, f.Price,
		f.TotalCapacity, f.InfantCapacity, f.ToddlerCapacity, f.Description,
		hoursJSON, f.Accessible, f.CoordOfficeName, f.InspectionURL,
		f.Latitude, f.Longitude, provJSON, string(f.Stage), position, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert facility %q", f.Name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert facility id")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create facility")
	}

	f.ID = id
	f.Position = position
	f.CreatedAt = now
	f.UpdatedAt = now
	return &f, nil
}

func (s *SQLiteStore) GetFacility(ctx context.Context, id int64) (*model.Facility, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+facilityColumns+` FROM facilities WHERE id = ?`, id)
	f, err := scanFacility(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get facility %d", id)
	}
	return f, nil
}

func (s *SQLiteStore) GetByInstallationID(ctx context.Context, installationID string) (*model.Facility, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+facilityColumns+` FROM facilities WHERE installation_id = ?`, installationID)
	f, err := scanFacility(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get facility by installation %s", installationID)
	}
	return f, nil
}

func (s *SQLiteStore) ListFacilities(ctx context.Context) ([]model.Facility, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+facilityColumns+` FROM facilities ORDER BY stage, position`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list facilities")
	}
	defer rows.Close()
	return collectSQLiteFacilities(rows)
}

func (s *SQLiteStore) ListByStage(ctx context.Context, stage model.Stage) ([]model.Facility, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+facilityColumns+` FROM facilities WHERE stage = ? ORDER BY position`,
		string(stage))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list facilities in %s", stage)
	}
	defer rows.Close()
	return collectSQLiteFacilities(rows)
}

func collectSQLiteFacilities(rows *sql.Rows) ([]model.Facility, error) {
	var out []model.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan facility")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate facilities")
}

func (s *SQLiteStore) NameIndex(ctx context.Context) ([]IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, installation_id, name, latitude, longitude FROM facilities ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: name index")
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var e IndexEntry
		var installationID *string
		if err := rows.Scan(&e.ID, &installationID, &e.Name, &e.Latitude, &e.Longitude); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan index entry")
		}
		if installationID != nil {
			e.InstallationID = *installationID
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate name index")
}

func (s *SQLiteStore) UpdateFacilityFields(ctx context.Context, id int64, f model.Facility, fields []string) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(fields)+2)
	args := make([]any, 0, len(fields)+3)

	for _, field := range fields {
		col, val, err := fieldColumn(f, field)
		if err != nil {
			return err
		}
		setClauses = append(setClauses, fmt.Sprintf("%q = ?", col))
		args = append(args, val)
	}

	provJSON, err := marshalJSON(f.Provenance, len(f.Provenance) == 0)
	if err != nil {
		return err
	}
	setClauses = append(setClauses, `"provenance" = ?`, `"updated_at" = ?`)
	args = append(args, provJSON, time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE facilities SET %s WHERE id = ?`, strings.Join(setClauses, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin update facility")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update facility %d", id)
	}
	if err := checkRowsAffected(res, "facility", fmt.Sprint(id)); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit update facility")
}

func (s *SQLiteStore) AdoptInstallationID(ctx context.Context, id int64, installationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE facilities SET installation_id = ?, updated_at = ?
		 WHERE id = ? AND (installation_id IS NULL OR installation_id = ?)`,
		installationID, time.Now().UTC(), id, installationID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: adopt installation ID for %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrInstallationIDConflict, "facility %d already holds a different installation ID than %s", id, installationID)
	}
	return nil
}

func (s *SQLiteStore) MoveStage(ctx context.Context, id int64, stage model.Stage, position int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE facilities SET stage = ?, position = ?, updated_at = ? WHERE id = ?`,
		string(stage), position, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: move facility %d", id)
	}
	return checkRowsAffected(res, "facility", fmt.Sprint(id))
}

func (s *SQLiteStore) StartSyncRun(ctx context.Context, sources []string) (*model.SyncRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal sources")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, sources, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(sourcesJSON), string(model.SyncStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert sync run")
	}

	return &model.SyncRun{
		ID:        id,
		Sources:   sources,
		Status:    model.SyncStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteSyncRun(ctx context.Context, runID string, counters model.SyncCounters) error {
	return s.finishSyncRun(ctx, runID, model.SyncStatusComplete, "", counters)
}

func (s *SQLiteStore) FailSyncRun(ctx context.Context, runID string, errMsg string, counters model.SyncCounters) error {
	return s.finishSyncRun(ctx, runID, model.SyncStatusFailed, errMsg, counters)
}

func (s *SQLiteStore) finishSyncRun(ctx context.Context, runID string, status model.SyncStatus, errMsg string, counters model.SyncCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counters")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, counters = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), string(countersJSON), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish sync run %s", runID)
	}
	return checkRowsAffected(res, "sync run", runID)
}

func (s *SQLiteStore) RecentSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sources, status, counters, error, started_at, completed_at
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent sync runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var status string
		var sourcesJSON string
		var countersJSON *string
		if err := rows.Scan(&r.ID, &sourcesJSON, &status, &countersJSON, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync run")
		}
		r.Status = model.SyncStatus(status)
		if err := json.Unmarshal([]byte(sourcesJSON), &r.Sources); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sources")
		}
		if countersJSON != nil {
			if err := json.Unmarshal([]byte(*countersJSON), &r.Counters); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal counters")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate sync runs")
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
