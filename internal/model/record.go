package model

// SourceKind identifies which extractor produced a SourceRecord.
type SourceKind string

const (
	// SourceStructuredDump is the government portal's structured JSON dump,
	// keyed by installation ID.
	SourceStructuredDump SourceKind = "structured-dump"

	// SourceRenderedScrape is pattern extraction from rendered portal page text.
	SourceRenderedScrape SourceKind = "rendered-scrape"

	// SourceLLMExtracted is the Claude-based free-text extractor.
	SourceLLMExtracted SourceKind = "llm-extracted"

	// SourceManual marks human-curated values (CSV/XLSX import, in-app edits).
	// Manual values are never overwritten by automated sources.
	SourceManual SourceKind = "manual"
)

// DaycareType is the facility category used by the Quebec portal.
type DaycareType string

const (
	TypeCPE            DaycareType = "CPE"
	TypeGarderie       DaycareType = "Garderie"
	TypeMilieuFamilial DaycareType = "Milieu familial"
)

// Weekdays lists the French weekday keys used in weekly hours maps, in
// portal display order.
var Weekdays = []string{
	"lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi", "dimanche",
}

// SourceRecord is one extractor's observation of one facility. Pointer
// fields distinguish "source said nothing" (nil) from an asserted empty or
// negative value. Records are immutable once produced and are discarded
// after the merge pass.
type SourceRecord struct {
	Kind           SourceKind `json:"kind"`
	InstallationID string     `json:"installation_id,omitempty"` // stable external ID, "" = absent
	Name           string     `json:"name"`

	Address         *string      `json:"address,omitempty"`
	Phone           *string      `json:"phone,omitempty"`
	Email           *string      `json:"email,omitempty"`
	Website         *string      `json:"website,omitempty"`
	Facebook        *string      `json:"facebook,omitempty"`
	DaycareType     *DaycareType `json:"daycare_type,omitempty"`
	Subsidized      *bool        `json:"subsidized,omitempty"`
	Price           *string      `json:"price,omitempty"`
	TotalCapacity   *int         `json:"total_capacity,omitempty"`
	InfantCapacity  *int         `json:"infant_capacity,omitempty"`
	ToddlerCapacity *int         `json:"toddler_capacity,omitempty"`
	Description     *string      `json:"description,omitempty"`
	// WeeklyHours maps a French weekday key to an hours string or "closed".
	// Merged per-key, not as an atomic whole.
	WeeklyHours     map[string]string `json:"weekly_hours,omitempty"`
	Accessible      *bool             `json:"accessible,omitempty"`
	CoordOfficeName *string           `json:"coord_office_name,omitempty"`
	InspectionURL   *string           `json:"inspection_url,omitempty"`
	Latitude        *float64          `json:"latitude,omitempty"`
	Longitude       *float64          `json:"longitude,omitempty"`
}

// Str returns a pointer to s, for building sparse records.
func Str(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }
