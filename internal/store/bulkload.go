package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/gardetrack/gardesync/internal/db"
	"github.com/gardetrack/gardesync/internal/model"
)

// bulkColumns is the column set written by BulkLoadFacilities, keyed on the
// installation ID unique index.
var bulkColumns = []string{
	"installation_id", "name", "daycare_type", "subsidized", "price",
	"accessible", "latitude", "longitude", "provenance",
}

// BulkLoadFacilities seeds the facilities table straight from structured
// dump records using COPY plus INSERT ... ON CONFLICT, bypassing the
// per-record merge path. Meant for the first load of a board: on conflict it
// rewrites the dump-owned columns, so curated edits to those columns do not
// survive a reload. Records without an installation ID or name are skipped.
func (s *PostgresStore) BulkLoadFacilities(ctx context.Context, recs []model.SourceRecord) (int64, error) {
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		if rec.InstallationID == "" || rec.Name == "" {
			continue
		}

		prov := model.Provenance{model.FieldName: rec.Kind}

		var daycareType string
		if rec.DaycareType != nil {
			daycareType = string(*rec.DaycareType)
			prov[model.FieldDaycareType] = rec.Kind
		}
		var subsidized bool
		if rec.Subsidized != nil {
			subsidized = *rec.Subsidized
			prov[model.FieldSubsidized] = rec.Kind
		}
		var price string
		if rec.Price != nil {
			price = *rec.Price
			prov[model.FieldPrice] = rec.Kind
		}
		var accessible bool
		if rec.Accessible != nil {
			accessible = *rec.Accessible
			prov[model.FieldAccessible] = rec.Kind
		}
		if rec.Latitude != nil {
			prov[model.FieldLatitude] = rec.Kind
		}
		if rec.Longitude != nil {
			prov[model.FieldLongitude] = rec.Kind
		}

		provJSON, err := marshalJSON(prov, false)
		if err != nil {
			return 0, err
		}

		rows = append(rows, []any{
			rec.InstallationID, rec.Name, daycareType, subsidized, price,
			accessible, rec.Latitude, rec.Longitude, provJSON,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "facilities",
		Columns:      bulkColumns,
		ConflictKeys: []string{"installation_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk load facilities")
	}
	return n, nil
}
