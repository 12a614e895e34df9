package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/gardetrack/gardesync/internal/model"
)

// facilityColumns is the canonical SELECT column order, shared by both
// store implementations and by scanFacility.
const facilityColumns = `id, installation_id, name, address, phone, email, website, facebook,
	daycare_type, subsidized, price, total_capacity, infant_capacity, toddler_capacity,
	description, weekly_hours, accessible, coord_office_name, inspection_url,
	latitude, longitude, provenance, stage, position, owner_id, child_id,
	created_at, updated_at`

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row, and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanFacility reads one facility row in facilityColumns order.
func scanFacility(row rowScanner) (*model.Facility, error) {
	var (
		f                   model.Facility
		installationID      *string
		daycareType, stage  string
		hoursJSON, provJSON []byte
	)

	err := row.Scan(
		&f.ID, &installationID, &f.Name, &f.Address, &f.Phone, &f.Email,
		&f.Website, &f.Facebook, &daycareType, &f.Subsidized, &f.Price,
		&f.TotalCapacity, &f.InfantCapacity, &f.ToddlerCapacity,
		&f.Description, &hoursJSON, &f.Accessible, &f.CoordOfficeName,
		&f.InspectionURL, &f.Latitude, &f.Longitude, &provJSON,
		&stage, &f.Position, &f.OwnerID, &f.ChildID,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if installationID != nil {
		f.InstallationID = *installationID
	}
	f.DaycareType = model.DaycareType(daycareType)
	f.Stage = model.Stage(stage)

	if len(hoursJSON) > 0 {
		if err := json.Unmarshal(hoursJSON, &f.WeeklyHours); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal weekly_hours")
		}
	}
	if len(provJSON) > 0 {
		if err := json.Unmarshal(provJSON, &f.Provenance); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal provenance")
		}
	}
	return &f, nil
}

// nullableID maps "" to NULL so the unique index on installation_id ignores
// facilities that have not been matched to the portal yet.
func nullableID(installationID string) *string {
	if installationID == "" {
		return nil
	}
	return &installationID
}

// marshalJSON renders a map column value, NULL when empty.
func marshalJSON(v any, empty bool) (*string, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal json column")
	}
	s := string(data)
	return &s, nil
}

// fieldColumn returns the column name and bind value for one merged field.
// Workflow columns are deliberately unreachable from here.
func fieldColumn(f model.Facility, field string) (string, any, error) {
	switch field {
	case model.FieldName:
		return "name", f.Name, nil
	case model.FieldAddress:
		return "address", f.Address, nil
	case model.FieldPhone:
		return "phone", f.Phone, nil
	case model.FieldEmail:
		return "email", f.Email, nil
	case model.FieldWebsite:
		return "website", f.Website, nil
	case model.FieldFacebook:
		return "facebook", f.Facebook, nil
	case model.FieldDaycareType:
		return "daycare_type", string(f.DaycareType), nil
	case model.FieldSubsidized:
		return "subsidized", f.Subsidized, nil
	case model.FieldPrice:
		return "price", f.Price, nil
	case model.FieldTotalCapacity:
		return "total_capacity", f.TotalCapacity, nil
	case model.FieldInfantCapacity:
		return "infant_capacity", f.InfantCapacity, nil
	case model.FieldToddlerCapacity:
		return "toddler_capacity", f.ToddlerCapacity, nil
	case model.FieldDescription:
		return "description", f.Description, nil
	case model.FieldWeeklyHours:
		v, err := marshalJSON(f.WeeklyHours, len(f.WeeklyHours) == 0)
		return "weekly_hours", v, err
	case model.FieldAccessible:
		return "accessible", f.Accessible, nil
	case model.FieldCoordOffice:
		return "coord_office_name", f.CoordOfficeName, nil
	case model.FieldInspectionURL:
		return "inspection_url", f.InspectionURL, nil
	case model.FieldLatitude:
		return "latitude", f.Latitude, nil
	case model.FieldLongitude:
		return "longitude", f.Longitude, nil
	default:
		return "", nil, eris.Errorf("store: unknown merge field %q", field)
	}
}
