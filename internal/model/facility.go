package model

import "time"

// Stage is a kanban workflow stage in the consuming tracker application.
// The pipeline only ever assigns StageToResearch on insert; all other
// transitions are application-owned.
type Stage string

const (
	StageToResearch   Stage = "to_research"
	StageToContact    Stage = "to_contact"
	StageContacted    Stage = "contacted"
	StageVisited      Stage = "visited"
	StageWaitlisted   Stage = "waitlisted"
	StageDecisionMade Stage = "decision_made"
)

// Stages lists all workflow stages in board order.
var Stages = []Stage{
	StageToResearch, StageToContact, StageContacted,
	StageVisited, StageWaitlisted, StageDecisionMade,
}

// Provenance records which source kind last set each facility field.
// Keys are the field names in FieldNames.
type Provenance map[string]SourceKind

// Facility is the durable, reconciled record: one row per real-world
// daycare. Identified internally by ID; InstallationID is the external
// stable identifier and, once attached, is permanent.
type Facility struct {
	ID             int64  `json:"id"`
	InstallationID string `json:"installation_id,omitempty"`
	Name           string `json:"name"`

	Address         string            `json:"address"`
	Phone           string            `json:"phone"`
	Email           string            `json:"email"`
	Website         string            `json:"website"`
	Facebook        string            `json:"facebook"`
	DaycareType     DaycareType       `json:"daycare_type"`
	Subsidized      bool              `json:"subsidized"`
	Price           string            `json:"price"`
	TotalCapacity   *int              `json:"total_capacity,omitempty"`
	InfantCapacity  *int              `json:"infant_capacity,omitempty"`
	ToddlerCapacity *int              `json:"toddler_capacity,omitempty"`
	Description     string            `json:"description"`
	WeeklyHours     map[string]string `json:"weekly_hours,omitempty"`
	Accessible      bool              `json:"accessible"`
	CoordOfficeName string            `json:"coord_office_name"`
	InspectionURL   string            `json:"inspection_url"`
	Latitude        *float64          `json:"latitude,omitempty"`
	Longitude       *float64          `json:"longitude,omitempty"`

	Provenance Provenance `json:"provenance,omitempty"`

	// Workflow fields are owned by the tracker application. The merge
	// pipeline supplies insert defaults and never touches them again.
	Stage    Stage  `json:"stage"`
	Position int    `json:"position"`
	OwnerID  *int64 `json:"owner_id,omitempty"`
	ChildID  *int64 `json:"child_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Field name constants. These key the Provenance map, the merge policy
// file, and the store's changed-column mapping.
const (
	FieldName            = "name"
	FieldAddress         = "address"
	FieldPhone           = "phone"
	FieldEmail           = "email"
	FieldWebsite         = "website"
	FieldFacebook        = "facebook"
	FieldDaycareType     = "daycare_type"
	FieldSubsidized      = "subsidized"
	FieldPrice           = "price"
	FieldTotalCapacity   = "total_capacity"
	FieldInfantCapacity  = "infant_capacity"
	FieldToddlerCapacity = "toddler_capacity"
	FieldDescription     = "description"
	FieldWeeklyHours     = "weekly_hours"
	FieldAccessible      = "accessible"
	FieldCoordOffice     = "coord_office_name"
	FieldInspectionURL   = "inspection_url"
	FieldLatitude        = "latitude"
	FieldLongitude       = "longitude"
)

// FieldNames lists every mergeable facility field.
var FieldNames = []string{
	FieldName, FieldAddress, FieldPhone, FieldEmail, FieldWebsite,
	FieldFacebook, FieldDaycareType, FieldSubsidized, FieldPrice,
	FieldTotalCapacity, FieldInfantCapacity, FieldToddlerCapacity,
	FieldDescription, FieldWeeklyHours, FieldAccessible, FieldCoordOffice,
	FieldInspectionURL, FieldLatitude, FieldLongitude,
}

// Clone returns a deep copy of the facility, so merge passes can produce a
// next state without mutating the snapshot read from the store.
func (f Facility) Clone() Facility {
	c := f
	if f.WeeklyHours != nil {
		c.WeeklyHours = make(map[string]string, len(f.WeeklyHours))
		for k, v := range f.WeeklyHours {
			c.WeeklyHours[k] = v
		}
	}
	if f.Provenance != nil {
		c.Provenance = make(Provenance, len(f.Provenance))
		for k, v := range f.Provenance {
			c.Provenance[k] = v
		}
	}
	if f.TotalCapacity != nil {
		v := *f.TotalCapacity
		c.TotalCapacity = &v
	}
	if f.InfantCapacity != nil {
		v := *f.InfantCapacity
		c.InfantCapacity = &v
	}
	if f.ToddlerCapacity != nil {
		v := *f.ToddlerCapacity
		c.ToddlerCapacity = &v
	}
	if f.Latitude != nil {
		v := *f.Latitude
		c.Latitude = &v
	}
	if f.Longitude != nil {
		v := *f.Longitude
		c.Longitude = &v
	}
	if f.OwnerID != nil {
		v := *f.OwnerID
		c.OwnerID = &v
	}
	if f.ChildID != nil {
		v := *f.ChildID
		c.ChildID = &v
	}
	return c
}
