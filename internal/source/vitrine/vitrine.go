// Package vitrine extracts facility fields from rendered portal page text.
// Pages are saved by an external browser step as one UTF-8 text file per
// installation, named <installation-id>.txt. Extraction is pure pattern
// matching; anything the patterns miss is left absent for the LLM pass.
package vitrine

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gardetrack/gardesync/internal/model"
)

var (
	reAddress    = regexp.MustCompile(`\d+[^,\n]*,\s*[^,\n]*[A-Z]\d[A-Z]\s*\d[A-Z]\d[^,\n]*,\s*[\w-]+`)
	rePhone      = regexp.MustCompile(`\d{3}\s+\d{3}[-\s]\d{4}`)
	reEmail      = regexp.MustCompile(`(?i)[\w.-]+@[\w.-]+\.[a-z]{2,}`)
	reTotal      = regexp.MustCompile(`(?i)"?(\d+)"?\s*\n?\s*places?\s*totales`)
	reInfant     = regexp.MustCompile(`(?i)"?(\d+)"?\s*\n?\s*places?\s*poupons`)
	reToddler    = regexp.MustCompile(`(?i)"?(\d+)"?\s*\n?\s*places?\s*18\s*mois`)
	rePrice      = regexp.MustCompile(`(?i)(\d+[,.]?\d*)\s*\$\s*\n?\s*par\s*jour`)
	reInspection = regexp.MustCompile(`https?://\S*infocomplsg\S*`)
	reType       = regexp.MustCompile(`(?i)\b(CPE|Garderie|Milieu familial)\b`)

	// One pattern per weekday; the portal renders "Lundi  07 h 00 - 18 h 00"
	// or "Lundi  Fermé".
	reHours = buildHourPatterns()
)

func buildHourPatterns() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(model.Weekdays))
	for _, day := range model.Weekdays {
		out[day] = regexp.MustCompile(
			`(?i)` + day + `[\s\n]+(\d{2}\s*h\s*\d{2}\s*-\s*\d{2}\s*h\s*\d{2}|Fermé)`)
	}
	return out
}

// canonical casing for the type enum regardless of how the page renders it
var typeByLower = map[string]model.DaycareType{
	"cpe":             model.TypeCPE,
	"garderie":        model.TypeGarderie,
	"milieu familial": model.TypeMilieuFamilial,
}

// Extract builds a source record from one page's visible text.
func Extract(installationID, text string) model.SourceRecord {
	rec := model.SourceRecord{
		Kind:           model.SourceRenderedScrape,
		InstallationID: installationID,
		Name:           firstLine(text),
	}

	if m := reAddress.FindString(text); m != "" {
		rec.Address = model.Str(strings.TrimSpace(m))
	}
	if m := rePhone.FindString(text); m != "" {
		rec.Phone = model.Str(strings.TrimSpace(m))
	}
	if m := reEmail.FindString(text); m != "" {
		rec.Email = model.Str(m)
	}
	if m := reInspection.FindString(text); m != "" {
		rec.InspectionURL = model.Str(m)
	}
	if m := reType.FindString(text); m != "" {
		if dt, ok := typeByLower[strings.ToLower(m)]; ok {
			rec.DaycareType = &dt
		}
	}

	rec.TotalCapacity = capacity(reTotal, text)
	rec.InfantCapacity = capacity(reInfant, text)
	rec.ToddlerCapacity = capacity(reToddler, text)

	if m := rePrice.FindStringSubmatch(text); m != nil {
		rec.Price = model.Str(strings.ReplaceAll(m[1], ",", ".") + "$/jour")
	}

	hours := make(map[string]string)
	for day, re := range reHours {
		if m := re.FindStringSubmatch(text); m != nil {
			hours[day] = strings.TrimSpace(m[1])
		}
	}
	if len(hours) > 0 {
		rec.WeeklyHours = hours
	}

	if desc := extractDescription(text); desc != "" {
		rec.Description = model.Str(desc)
	}

	// Check the negation first; the page renders one label or the other.
	switch {
	case strings.Contains(text, "Non subventionné"):
		rec.Subsidized = model.Bool(false)
	case strings.Contains(text, "Subventionné"):
		rec.Subsidized = model.Bool(true)
	}
	if strings.Contains(text, "Accessible aux personnes à mobilité réduite") {
		rec.Accessible = model.Bool(true)
	}

	return rec
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return ""
}

func capacity(re *regexp.Regexp, text string) *int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return model.Int(n)
}

// sections that follow the presentation block on the portal page
var descriptionStops = []string{
	"Horaire", "Places", "Coordonnées", "Tarif", "Consultez le",
}

// extractDescription returns the free-text block after the "Présentation"
// heading, up to the next section heading. Short blocks are treated as noise.
func extractDescription(text string) string {
	idx := strings.Index(text, "Présentation")
	if idx < 0 {
		return ""
	}
	rest := text[idx+len("Présentation"):]

	end := len(rest)
	for _, stop := range descriptionStops {
		if i := strings.Index(rest, stop); i >= 0 && i < end {
			end = i
		}
	}

	desc := strings.TrimSpace(rest[:end])
	if len(desc) < 50 || len(desc) > 3000 {
		return ""
	}
	return desc
}

// LoadDir extracts a record from every .txt file in dir. The file base name
// is the installation ID.
func LoadDir(dir string) ([]model.SourceRecord, error) {
	log := zap.L().With(zap.String("component", "source.vitrine"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "vitrine: read dir %s", dir)
	}

	var records []model.SourceRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "vitrine: read %s", entry.Name())
		}
		installationID := strings.TrimSuffix(entry.Name(), ".txt")
		rec := Extract(installationID, string(data))
		if rec.Name == "" {
			log.Warn("page text has no name, skipping",
				zap.String("installation_id", installationID))
			continue
		}
		records = append(records, rec)
	}

	log.Info("page texts extracted", zap.Int("records", len(records)))
	return records, nil
}
