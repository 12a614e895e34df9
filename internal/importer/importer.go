// Package importer loads curated facility data from CSV and XLSX files.
// Imported rows become manual-source records and flow through the same
// resolve/merge path as automated extractors, which makes curated values
// sticky against later automated overwrites.
package importer

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gardetrack/gardesync/internal/fetcher"
	"github.com/gardetrack/gardesync/internal/model"
)

// headerAliases maps accepted column headers (lowercased) to canonical field
// keys. Curated spreadsheets circulate in both French and English.
var headerAliases = map[string]string{
	"installation_id":      "installation_id",
	"installationid":       "installation_id",
	"name":                 "name",
	"nom":                  "name",
	"address":              "address",
	"adresse":              "address",
	"phone":                "phone",
	"telephone":            "phone",
	"téléphone":            "phone",
	"email":                "email",
	"courriel":             "email",
	"website":              "website",
	"site_web":             "website",
	"facebook":             "facebook",
	"type":                 "daycare_type",
	"daycare_type":         "daycare_type",
	"subventionne":         "subsidized",
	"subventionné":         "subsidized",
	"subsidized":           "subsidized",
	"tarif":                "price",
	"price":                "price",
	"places_totales":       "total_capacity",
	"total_capacity":       "total_capacity",
	"places_poupons":       "infant_capacity",
	"infant_capacity":      "infant_capacity",
	"places_18_mois_plus":  "toddler_capacity",
	"toddler_capacity":     "toddler_capacity",
	"description":          "description",
	"accessible":           "accessible",
	"bureau_coordonnateur": "coord_office_name",
	"coord_office_name":    "coord_office_name",
	"inspection_url":       "inspection_url",
	"latitude":             "latitude",
	"longitude":            "longitude",
}

// FromCSV reads curated rows from a CSV file. The first row must be a header.
func FromCSV(ctx context.Context, path string) ([]model.SourceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	var header []string
	var rows [][]string
	for row := range rowCh {
		if header == nil {
			select {
			case header = <-headerCh:
			default:
			}
		}
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "importer: read %s", path)
	}
	if header == nil {
		select {
		case header = <-headerCh:
		default:
			return nil, eris.Errorf("importer: %s has no header row", path)
		}
	}

	return build(path, header, rows)
}

// FromXLSX reads curated rows from the first sheet of an XLSX file. The
// first row must be a header.
func FromXLSX(_ context.Context, path string) ([]model.SourceRecord, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "importer: read %s", path)
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("importer: %s is empty", path)
	}
	return build(path, rows[0], rows[1:])
}

func build(path string, header []string, rows [][]string) ([]model.SourceRecord, error) {
	log := zap.L().With(zap.String("component", "importer"), zap.String("file", path))

	cols, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	records := make([]model.SourceRecord, 0, len(rows))
	skipped := 0
	for i, row := range rows {
		rec, ok := rowToRecord(cols, row)
		if !ok {
			log.Warn("row has no name, skipped", zap.Int("row", i+2))
			skipped++
			continue
		}
		records = append(records, rec)
	}

	log.Info("import file parsed",
		zap.Int("records", len(records)),
		zap.Int("skipped", skipped),
	)
	return records, nil
}

// mapHeader resolves header cells to canonical field keys. Unknown columns
// are ignored; a file without a recognizable name column is rejected.
func mapHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int)
	for i, cell := range header {
		key, ok := headerAliases[strings.ToLower(strings.TrimSpace(cell))]
		if !ok {
			continue
		}
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	if _, ok := cols["name"]; !ok {
		return nil, eris.New("importer: no name column in header")
	}
	return cols, nil
}

func rowToRecord(cols map[string]int, row []string) (model.SourceRecord, bool) {
	get := func(key string) string {
		i, ok := cols[key]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	name := get("name")
	if name == "" {
		return model.SourceRecord{}, false
	}

	rec := model.SourceRecord{
		Kind:           model.SourceManual,
		InstallationID: get("installation_id"),
		Name:           name,
	}

	setStr := func(key string, dst **string) {
		if v := get(key); v != "" {
			*dst = &v
		}
	}
	setStr("address", &rec.Address)
	setStr("phone", &rec.Phone)
	setStr("email", &rec.Email)
	setStr("website", &rec.Website)
	setStr("facebook", &rec.Facebook)
	setStr("price", &rec.Price)
	setStr("description", &rec.Description)
	setStr("coord_office_name", &rec.CoordOfficeName)
	setStr("inspection_url", &rec.InspectionURL)

	if v := get("daycare_type"); v != "" {
		dt := model.DaycareType(v)
		rec.DaycareType = &dt
	}
	if v := get("subsidized"); v != "" {
		rec.Subsidized = model.Bool(parseBool(v))
	}
	if v := get("accessible"); v != "" {
		rec.Accessible = model.Bool(parseBool(v))
	}
	rec.TotalCapacity = parseInt(get("total_capacity"))
	rec.InfantCapacity = parseInt(get("infant_capacity"))
	rec.ToddlerCapacity = parseInt(get("toddler_capacity"))
	rec.Latitude = parseFloat(get("latitude"))
	rec.Longitude = parseFloat(get("longitude"))

	return rec, true
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "oui", "yes", "true", "1", "vrai":
		return true
	}
	return false
}

func parseInt(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return model.Int(n)
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return nil
	}
	return model.Float(f)
}
