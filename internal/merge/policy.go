// Package merge combines one source record into one facility state under a
// deterministic per-field precedence and non-destructive-overwrite policy.
package merge

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/gardetrack/gardesync/internal/model"
)

// FieldClass groups fields that share a source-precedence ranking.
type FieldClass string

const (
	// ClassIdentity covers identity and contact fields: the structured dump
	// is authoritative, page content second, LLM extraction last.
	ClassIdentity FieldClass = "identity"
	// ClassContent covers descriptive fields: rendered page content and LLM
	// extraction (which reads the same pages) outrank the coarse dump.
	ClassContent FieldClass = "content"
	// ClassFlag covers booleans derived from live page text, least likely
	// to be stale on the page itself.
	ClassFlag FieldClass = "flag"
)

// manualRank outranks every automated source so curated values stick.
const manualRank = 100

// Policy is the per-field merge precedence table.
type Policy struct {
	// Ranks maps class -> source kind -> authority (higher wins).
	Ranks map[FieldClass]map[model.SourceKind]int `yaml:"ranks"`
	// Classes maps field name -> class.
	Classes map[string]FieldClass `yaml:"classes"`
}

// DefaultPolicy returns the compiled-in precedence table.
func DefaultPolicy() *Policy {
	return &Policy{
		Ranks: map[FieldClass]map[model.SourceKind]int{
			ClassIdentity: {
				model.SourceStructuredDump: 3,
				model.SourceRenderedScrape: 2,
				model.SourceLLMExtracted:   1,
			},
			ClassContent: {
				model.SourceRenderedScrape: 2,
				model.SourceLLMExtracted:   2,
				model.SourceStructuredDump: 1,
			},
			ClassFlag: {
				model.SourceRenderedScrape: 3,
				model.SourceLLMExtracted:   2,
				model.SourceStructuredDump: 1,
			},
		},
		Classes: map[string]FieldClass{
			model.FieldName:            ClassIdentity,
			model.FieldAddress:         ClassIdentity,
			model.FieldPhone:           ClassIdentity,
			model.FieldEmail:           ClassIdentity,
			model.FieldWebsite:         ClassIdentity,
			model.FieldFacebook:        ClassIdentity,
			model.FieldDaycareType:     ClassIdentity,
			model.FieldCoordOffice:     ClassIdentity,
			model.FieldInspectionURL:   ClassIdentity,
			model.FieldLatitude:        ClassIdentity,
			model.FieldLongitude:       ClassIdentity,
			model.FieldPrice:           ClassContent,
			model.FieldTotalCapacity:   ClassContent,
			model.FieldInfantCapacity:  ClassContent,
			model.FieldToddlerCapacity: ClassContent,
			model.FieldDescription:     ClassContent,
			model.FieldWeeklyHours:     ClassContent,
			model.FieldSubsidized:      ClassFlag,
			model.FieldAccessible:      ClassFlag,
		},
	}
}

// LoadPolicy reads a precedence table from a YAML file. Fields or classes
// missing from the file keep their defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "merge: read policy %s", path)
	}

	var wrapper struct {
		Merge Policy `yaml:"merge"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "merge: parse policy")
	}

	p := DefaultPolicy()
	for class, ranks := range wrapper.Merge.Ranks {
		if _, ok := p.Ranks[class]; !ok {
			return nil, eris.Errorf("merge: unknown field class %q in policy", class)
		}
		for kind, rank := range ranks {
			p.Ranks[class][kind] = rank
		}
	}
	for field, class := range wrapper.Merge.Classes {
		if _, ok := p.Ranks[class]; !ok {
			return nil, eris.Errorf("merge: field %q assigned unknown class %q", field, class)
		}
		p.Classes[field] = class
	}
	return p, nil
}

// rank returns the authority of a source kind for a field. Manual values,
// and values whose provenance was never recorded (curated before the
// pipeline existed), always hold the highest rank.
func (p *Policy) rank(field string, kind model.SourceKind) int {
	if kind == model.SourceManual || kind == "" {
		return manualRank
	}
	class, ok := p.Classes[field]
	if !ok {
		class = ClassIdentity
	}
	return p.Ranks[class][kind]
}

// allows reports whether a value from kind may replace a non-empty value
// whose provenance is held by holder. A source may always refresh its own
// value; a different source must strictly outrank the holder. Equal rank is
// not authority: letting tied sources trade a disputed value back and forth
// would rewrite the row on every run.
func (p *Policy) allows(field string, kind, holder model.SourceKind) bool {
	if kind == holder {
		return true
	}
	return p.rank(field, kind) > p.rank(field, holder)
}
