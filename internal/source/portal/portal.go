// Package portal reads the government portal's structured installation dump.
// The dump is an Aura action payload captured from the portal's search page;
// each item carries the current vitrine for one installation, keyed by the
// stable installation ID.
package portal

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gardetrack/gardesync/internal/fetcher"
	"github.com/gardetrack/gardesync/internal/model"
)

// The portal only lists reduced-contribution installations, so every dump
// record asserts the subsidized flag and the province-wide daily rate.
const subsidizedDailyRate = "9.65$/jour"

type auraPayload struct {
	Actions []struct {
		ReturnValue struct {
			ReturnValue []auraItem `json:"returnValue"`
		} `json:"returnValue"`
	} `json:"actions"`
}

type auraItem struct {
	VitrineCourante *auraVitrine `json:"vitrineCourante"`
}

type auraVitrine struct {
	InstallationID string            `json:"Installation__c"`
	Accessibility  string            `json:"Accessibilite__c"`
	Installation   *auraInstallation `json:"Installation__r"`
}

type auraInstallation struct {
	Name        string `json:"Name"`
	DisplayName string `json:"NomAffiche__c"`
	Enterprise  *struct {
		Type string `json:"Type"`
	} `json:"Entreprise__r"`
	Address *struct {
		Latitude  flexFloat `json:"Latitude"`
		Longitude flexFloat `json:"Longitude"`
	} `json:"Address__r"`
}

// flexFloat accepts both JSON numbers and numeric strings; the portal
// serializes coordinates inconsistently between page versions.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.Value = v
	f.Valid = true
	return nil
}

// Parse decodes an Aura dump payload into source records. Items without a
// vitrine or an installation ID are skipped with a warning.
func Parse(r io.Reader) ([]model.SourceRecord, error) {
	log := zap.L().With(zap.String("component", "source.portal"))

	payload, err := fetcher.DecodeJSONObject[auraPayload](r)
	if err != nil {
		return nil, eris.Wrap(err, "portal: decode dump")
	}
	if len(payload.Actions) == 0 {
		return nil, eris.New("portal: dump has no actions")
	}

	items := payload.Actions[0].ReturnValue.ReturnValue
	records := make([]model.SourceRecord, 0, len(items))
	skipped := 0
	for _, item := range items {
		rec, ok := toRecord(item)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	if skipped > 0 {
		log.Warn("dump items skipped",
			zap.Int("skipped", skipped),
			zap.Int("total", len(items)),
		)
	}
	log.Info("dump parsed", zap.Int("records", len(records)))
	return records, nil
}

func toRecord(item auraItem) (model.SourceRecord, bool) {
	v := item.VitrineCourante
	if v == nil || v.InstallationID == "" || v.Installation == nil {
		return model.SourceRecord{}, false
	}
	inst := v.Installation

	name := inst.DisplayName
	if name == "" {
		name = inst.Name
	}
	if name == "" {
		return model.SourceRecord{}, false
	}

	rec := model.SourceRecord{
		Kind:           model.SourceStructuredDump,
		InstallationID: v.InstallationID,
		Name:           name,
		Subsidized:     model.Bool(true),
		Price:          model.Str(subsidizedDailyRate),
		Accessible:     model.Bool(v.Accessibility == "Oui"),
	}

	if inst.Enterprise != nil {
		if dt, ok := canonicalType(inst.Enterprise.Type); ok {
			rec.DaycareType = &dt
		}
	}
	if addr := inst.Address; addr != nil && addr.Latitude.Valid && addr.Longitude.Valid {
		rec.Latitude = model.Float(addr.Latitude.Value)
		rec.Longitude = model.Float(addr.Longitude.Value)
	}
	return rec, true
}

func canonicalType(raw string) (model.DaycareType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cpe", "centre de la petite enfance":
		return model.TypeCPE, true
	case "garderie":
		return model.TypeGarderie, true
	case "milieu familial", "mf":
		return model.TypeMilieuFamilial, true
	}
	return "", false
}

// FromFile reads a dump previously saved to disk.
func FromFile(path string) ([]model.SourceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "portal: open dump %s", path)
	}
	defer f.Close() //nolint:errcheck
	return Parse(f)
}

// FromURL fetches the dump over HTTP and parses it.
func FromURL(ctx context.Context, f *fetcher.HTTPFetcher, rawURL string) ([]model.SourceRecord, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "portal: fetch dump")
	}
	defer body.Close() //nolint:errcheck
	return Parse(body)
}
