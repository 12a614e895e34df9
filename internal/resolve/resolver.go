package resolve

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/gardetrack/gardesync/internal/model"
)

// MatchKind describes how a source record was matched to a facility.
type MatchKind string

const (
	// MatchInstallationID is an exact stable-identifier match.
	MatchInstallationID MatchKind = "installation-id"
	// MatchName is a normalized-name containment match.
	MatchName MatchKind = "name"
	// MatchNone means no existing facility matched; create a new one.
	MatchNone MatchKind = "none"
)

// ErrAmbiguous is returned when a name-heuristic match exists but is too
// uncertain to act on (geo gate failed, or conflicting installation IDs).
// The caller must skip the record, never auto-merge.
var ErrAmbiguous = eris.New("resolve: ambiguous match")

// Candidate is one facility in the resolver's store snapshot. Location is
// nil for facilities without coordinates.
type Candidate struct {
	FacilityID     int64
	InstallationID string
	Name           string
	Location       *geom.Point

	normName string
}

// Index is an in-memory snapshot of the canonical store's lookup keys.
// Built once per pipeline run; the resolver itself performs no I/O.
type Index struct {
	byInstallation map[string]*Candidate
	ordered        []*Candidate // insertion order, first match wins
}

// NewIndex builds an index over the given candidates.
func NewIndex(cands []Candidate) *Index {
	idx := &Index{
		byInstallation: make(map[string]*Candidate, len(cands)),
		ordered:        make([]*Candidate, 0, len(cands)),
	}
	for i := range cands {
		c := cands[i]
		c.normName = NormalizeName(c.Name)
		idx.Add(c)
	}
	return idx
}

// Add inserts a candidate. The pipeline calls this after creating a new
// facility so later records in the same batch resolve to it.
func (idx *Index) Add(c Candidate) {
	if c.normName == "" {
		c.normName = NormalizeName(c.Name)
	}
	cp := &c
	idx.ordered = append(idx.ordered, cp)
	if c.InstallationID != "" {
		idx.byInstallation[c.InstallationID] = cp
	}
}

// AdoptInstallationID attaches an installation ID to an already-indexed
// facility, mirroring the store-side adoption.
func (idx *Index) AdoptInstallationID(facilityID int64, installationID string) {
	for _, c := range idx.ordered {
		if c.FacilityID == facilityID {
			c.InstallationID = installationID
			idx.byInstallation[installationID] = c
			return
		}
	}
}

// Match is the resolver's verdict for one source record.
type Match struct {
	FacilityID int64
	Kind       MatchKind
	// AdoptInstallationID is set when a record carrying an installation ID
	// matched by name a facility that has none yet; the caller should attach
	// the ID permanently.
	AdoptInstallationID bool
}

// Options tunes the resolver's name heuristic.
type Options struct {
	// MaxNameMatchKM gates name-only matches when both sides carry
	// coordinates: farther apart than this and the match is ambiguous.
	// <= 0 disables the gate.
	MaxNameMatchKM float64
}

// Resolver matches source records against a store snapshot. Pure lookup;
// create/adopt mutations belong to the caller.
type Resolver struct {
	idx  *Index
	opts Options
	log  *zap.Logger
}

// New creates a resolver over the given index.
func New(idx *Index, opts Options) *Resolver {
	return &Resolver{
		idx:  idx,
		opts: opts,
		log:  zap.L().With(zap.String("component", "resolve")),
	}
}

// Resolve returns the facility a record merges into, or Kind == MatchNone
// to signal "create new". ErrAmbiguous means the record must be skipped.
func (r *Resolver) Resolve(rec model.SourceRecord) (Match, error) {
	if rec.InstallationID != "" {
		if c, ok := r.idx.byInstallation[rec.InstallationID]; ok {
			// Installation ID wins regardless of name similarity.
			return Match{FacilityID: c.FacilityID, Kind: MatchInstallationID}, nil
		}
		// Not seen before: fall through to name lookup so a facility first
		// sighted without an ID does not get duplicated.
		m, err := r.resolveByName(rec, true)
		if err != nil {
			return Match{}, err
		}
		if m.Kind == MatchName {
			m.AdoptInstallationID = true
		}
		return m, nil
	}
	return r.resolveByName(rec, false)
}

// resolveByName scans candidates for normalized-name containment.
// hasID marks records that carry their own installation ID: such a record
// must never merge into a facility holding a different non-empty ID.
func (r *Resolver) resolveByName(rec model.SourceRecord, hasID bool) (Match, error) {
	norm := NormalizeName(rec.Name)
	if norm == "" {
		return Match{Kind: MatchNone}, nil
	}

	var winner *Candidate
	for _, c := range r.idx.ordered {
		if !NamesOverlap(norm, c.normName) {
			continue
		}
		if hasID && c.InstallationID != "" && c.InstallationID != rec.InstallationID {
			// Same name, different stable IDs: distinct facilities.
			r.log.Warn("name collision across installation IDs",
				zap.String("name", rec.Name),
				zap.String("record_installation_id", rec.InstallationID),
				zap.String("candidate_installation_id", c.InstallationID),
			)
			continue
		}
		if winner == nil {
			winner = c
			continue
		}
		// First match wins; ties are unexpected enough to be worth a log.
		r.log.Warn("name match tie, keeping first",
			zap.String("name", rec.Name),
			zap.Int64("winner_id", winner.FacilityID),
			zap.Int64("tied_id", c.FacilityID),
		)
	}

	if winner == nil {
		return Match{Kind: MatchNone}, nil
	}

	recLoc := Location(rec.Latitude, rec.Longitude)
	if r.opts.MaxNameMatchKM > 0 && recLoc != nil && winner.Location != nil {
		d := distanceKM(recLoc, winner.Location)
		if d > r.opts.MaxNameMatchKM {
			r.log.Warn("name match rejected by distance",
				zap.String("name", rec.Name),
				zap.Int64("candidate_id", winner.FacilityID),
				zap.Float64("distance_km", d),
				zap.Float64("max_km", r.opts.MaxNameMatchKM),
			)
			return Match{}, eris.Wrapf(ErrAmbiguous, "name %q matches facility %d but %.1f km apart", rec.Name, winner.FacilityID, d)
		}
	}

	return Match{FacilityID: winner.FacilityID, Kind: MatchName}, nil
}
