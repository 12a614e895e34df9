package merge

import (
	"fmt"
	"strings"

	"github.com/gardetrack/gardesync/internal/model"
)

// maxCapacity bounds the plausible size of a single installation. Larger
// incoming values are treated as extraction noise and dropped.
const maxCapacity = 1000

// Result is the outcome of merging one source record into one facility.
type Result struct {
	Facility model.Facility
	// Changed lists the fields whose stored value differs from the input
	// snapshot, in model.FieldNames order. Empty means the merge is a no-op
	// and nothing should be written.
	Changed []string
	// Warnings describes incoming values dropped as unparseable/implausible.
	Warnings []string
}

// Apply merges rec into f under the policy and returns the next facility
// state. Pure function: f is not mutated, no I/O. Workflow fields (stage,
// position, owner, child) pass through untouched.
func Apply(p *Policy, f model.Facility, rec model.SourceRecord) Result {
	m := &merger{
		pol:  p,
		kind: rec.Kind,
		f:    f.Clone(),
	}
	if m.f.Provenance == nil {
		m.f.Provenance = model.Provenance{}
	}

	if rec.Name != "" {
		m.str(model.FieldName, &m.f.Name, &rec.Name)
	}
	m.str(model.FieldAddress, &m.f.Address, rec.Address)
	m.str(model.FieldPhone, &m.f.Phone, rec.Phone)
	m.str(model.FieldEmail, &m.f.Email, rec.Email)
	m.str(model.FieldWebsite, &m.f.Website, rec.Website)
	m.str(model.FieldFacebook, &m.f.Facebook, rec.Facebook)
	m.daycareType(rec.DaycareType)
	m.boolean(model.FieldSubsidized, &m.f.Subsidized, rec.Subsidized)
	m.str(model.FieldPrice, &m.f.Price, rec.Price)
	m.capacity(model.FieldTotalCapacity, &m.f.TotalCapacity, rec.TotalCapacity)
	m.capacity(model.FieldInfantCapacity, &m.f.InfantCapacity, rec.InfantCapacity)
	m.capacity(model.FieldToddlerCapacity, &m.f.ToddlerCapacity, rec.ToddlerCapacity)
	m.str(model.FieldDescription, &m.f.Description, rec.Description)
	m.hours(rec.WeeklyHours)
	m.boolean(model.FieldAccessible, &m.f.Accessible, rec.Accessible)
	m.str(model.FieldCoordOffice, &m.f.CoordOfficeName, rec.CoordOfficeName)
	m.str(model.FieldInspectionURL, &m.f.InspectionURL, rec.InspectionURL)
	m.coord(model.FieldLatitude, &m.f.Latitude, rec.Latitude, 90)
	m.coord(model.FieldLongitude, &m.f.Longitude, rec.Longitude, 180)

	return Result{
		Facility: m.f,
		Changed:  m.ordered(),
		Warnings: m.warnings,
	}
}

type merger struct {
	pol      *Policy
	kind     model.SourceKind
	f        model.Facility
	changed  map[string]bool
	warnings []string
}

func (m *merger) mark(field string) {
	if m.changed == nil {
		m.changed = map[string]bool{}
	}
	m.changed[field] = true
	m.f.Provenance[field] = m.kind
}

func (m *merger) warn(format string, args ...any) {
	m.warnings = append(m.warnings, fmt.Sprintf(format, args...))
}

// ordered returns changed fields in schema order for deterministic output.
func (m *merger) ordered() []string {
	if len(m.changed) == 0 {
		return nil
	}
	out := make([]string, 0, len(m.changed))
	for _, name := range model.FieldNames {
		if m.changed[name] {
			out = append(out, name)
		}
	}
	return out
}

// adoptable applies the uniform per-field rule: absent never reaches here,
// an empty target adopts unconditionally, a non-empty target adopts only
// when the incoming source strictly outranks the value's current holder or
// is that holder refreshing its own value.
func (m *merger) adoptable(field string, targetEmpty bool) bool {
	if targetEmpty {
		return true
	}
	return m.pol.allows(field, m.kind, m.f.Provenance[field])
}

func (m *merger) str(field string, target *string, incoming *string) {
	if incoming == nil {
		return
	}
	v := strings.TrimSpace(*incoming)
	if v == "" || v == *target {
		return
	}
	if m.adoptable(field, *target == "") {
		*target = v
		m.mark(field)
	}
}

func (m *merger) daycareType(incoming *model.DaycareType) {
	if incoming == nil || *incoming == "" || *incoming == m.f.DaycareType {
		return
	}
	switch *incoming {
	case model.TypeCPE, model.TypeGarderie, model.TypeMilieuFamilial:
	default:
		m.warn("daycare_type: unknown value %q dropped", string(*incoming))
		return
	}
	if m.adoptable(model.FieldDaycareType, m.f.DaycareType == "") {
		m.f.DaycareType = *incoming
		m.mark(model.FieldDaycareType)
	}
}

func (m *merger) boolean(field string, target *bool, incoming *bool) {
	if incoming == nil || *incoming == *target {
		return
	}
	// false is the zero value, so flipping false->true always adopts.
	if m.adoptable(field, !*target) {
		*target = *incoming
		m.mark(field)
	}
}

func (m *merger) capacity(field string, target **int, incoming *int) {
	if incoming == nil {
		return
	}
	v := *incoming
	if v < 0 || v > maxCapacity {
		m.warn("%s: implausible value %d dropped", field, v)
		return
	}
	if *target != nil && **target == v {
		return
	}
	if m.adoptable(field, *target == nil || **target == 0) {
		*target = &v
		m.mark(field)
	}
}

func (m *merger) coord(field string, target **float64, incoming *float64, bound float64) {
	if incoming == nil {
		return
	}
	v := *incoming
	if v < -bound || v > bound || v == 0 {
		m.warn("%s: out-of-range value %f dropped", field, v)
		return
	}
	if *target != nil && **target == v {
		return
	}
	if m.adoptable(field, *target == nil) {
		*target = &v
		m.mark(field)
	}
}

// hours merges weekly hours per weekday key, not as an atomic whole.
// Provenance is tracked per day ("weekly_hours.lundi") so one source's
// Saturday hours never block another's Monday hours.
func (m *merger) hours(incoming map[string]string) {
	if len(incoming) == 0 {
		return
	}
	known := make(map[string]bool, len(model.Weekdays))
	for _, d := range model.Weekdays {
		known[d] = true
	}

	for day, v := range incoming {
		day = strings.ToLower(strings.TrimSpace(day))
		if !known[day] {
			m.warn("weekly_hours: unknown weekday %q dropped", day)
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		cur := m.f.WeeklyHours[day]
		if cur == v {
			continue
		}
		provKey := model.FieldWeeklyHours + "." + day
		if cur != "" && !m.pol.allows(model.FieldWeeklyHours, m.kind, m.f.Provenance[provKey]) {
			continue
		}
		if m.f.WeeklyHours == nil {
			m.f.WeeklyHours = map[string]string{}
		}
		m.f.WeeklyHours[day] = v
		m.f.Provenance[provKey] = m.kind
		if m.changed == nil {
			m.changed = map[string]bool{}
		}
		m.changed[model.FieldWeeklyHours] = true
	}
}
