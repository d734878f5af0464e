package engine

import (
	"fmt"
	"sort"

	"exchangecatalog/internal/pathexpr"
	"exchangecatalog/internal/transform"
	"exchangecatalog/logger"
	"exchangecatalog/models"
)

type ruleKey struct {
	vendor   string
	dataType models.DataType
	source   models.SourceType
}

func (k ruleKey) String() string {
	return k.vendor + "|" + string(k.dataType) + "|" + string(k.source)
}

// rule is one compiled mapping.
type rule struct {
	mapping  models.FieldMapping
	path     pathexpr.Path
	pipeline transform.Pipeline
	// element rules read from each batch element through rest.
	element bool
	rest    pathexpr.Path
	// scalar runs instead of pipeline when the path already ends in the
	// index the leading array_extract reads and the resolved value is no
	// longer a sequence.
	scalar    transform.Pipeline
	hasScalar bool
}

// pipelineFor picks the pipeline for a resolved value.
func (r rule) pipelineFor(raw any) transform.Pipeline {
	if r.hasScalar {
		if _, seq := pathexpr.Elements(raw); !seq {
			return r.scalar
		}
	}
	return r.pipeline
}

// fieldRules holds the ordered candidates for one canonical field.
type fieldRules struct {
	field      models.Field
	fieldType  models.FieldType
	required   bool
	candidates []rule
}

// ruleSet is the compiled, immutable rule set for one (vendor, data type,
// source type). It is shared read-only between goroutines.
type ruleSet struct {
	key       ruleKey
	members   []models.FieldRequirement
	fields    []fieldRules
	batchRoot *pathexpr.Path
	mappings  int
}

// compileRuleSet validates and compiles the rules for key. members is the
// data type's schema membership; mappings are the active mappings whose
// source is key.source or both.
func compileRuleSet(key ruleKey, members []models.FieldRequirement, mappings []models.FieldMapping, log *logger.Entry) (*ruleSet, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: %q has no schema", ErrUnknownDataType, key.dataType)
	}

	inSchema := make(map[models.Field]bool, len(members))
	for _, m := range members {
		inSchema[m.Field] = true
	}

	byField := map[models.Field][]rule{}
	var batchRoot *pathexpr.Path
	used := 0
	for _, m := range mappings {
		if !m.Active || m.Vendor != key.vendor || m.EntityType != key.dataType || !m.SourceType.Applies(key.source) {
			continue
		}
		if !m.Field.Valid() {
			return nil, fmt.Errorf("%w: mapping %d names unknown field %q", ErrInvalidMapping, m.ID, m.Field)
		}
		if !inSchema[m.Field] {
			log.WithFields(logger.Fields{"mapping_id": m.ID, "field": m.Field}).
				Debug("mapping targets a field outside the data type schema; ignored")
			continue
		}
		r, err := compileRule(m)
		if err != nil {
			return nil, err
		}
		if unknown := r.pipeline.Unknown(); len(unknown) > 0 {
			log.WithFields(logger.Fields{
				"mapping_id": m.ID,
				"field":      m.Field,
				"kinds":      unknown,
			}).Warn("unknown transformation kind; applying identity")
		}
		if r.path.HasBatch() {
			root, rest, _ := r.path.SplitBatch()
			if batchRoot == nil {
				batchRoot = &root
			} else if batchRoot.String() != root.String() {
				return nil, fmt.Errorf("%w: mapping %d uses batch root %q but %q is already in use",
					ErrInvalidMapping, m.ID, root.String(), batchRoot.String())
			}
			if rest.HasBatch() {
				return nil, fmt.Errorf("%w: mapping %d has nested batch markers in %q", ErrInvalidMapping, m.ID, m.VendorFieldPath)
			}
			r.element = true
			r.rest = rest
		}
		byField[m.Field] = append(byField[m.Field], r)
		used++
	}
	if used == 0 {
		return nil, fmt.Errorf("%w: no active %s rules for %q over %s", ErrUnknownVendor, key.dataType, key.vendor, key.source)
	}

	rs := &ruleSet{key: key, members: members, batchRoot: batchRoot, mappings: used}
	for _, m := range members {
		cands := byField[m.Field]
		sortCandidates(cands, key.source)
		if err := checkDuplicates(cands); err != nil {
			return nil, err
		}
		rs.fields = append(rs.fields, fieldRules{
			field:      m.Field,
			fieldType:  m.Field.Type(),
			required:   m.Required,
			candidates: cands,
		})
	}
	return rs, nil
}

func compileRule(m models.FieldMapping) (rule, error) {
	p, err := pathexpr.Parse(m.VendorFieldPath)
	if err != nil {
		return rule{}, fmt.Errorf("%w: mapping %d: %v", ErrInvalidMapping, m.ID, err)
	}
	pl, err := transform.Compile(m.Transformation)
	if err != nil {
		return rule{}, fmt.Errorf("%w: mapping %d: %v", ErrInvalidMapping, m.ID, err)
	}
	r := rule{mapping: m, path: p, pipeline: pl}
	if idx, ok := p.TrailingIndex(); ok {
		r.scalar, r.hasScalar = pl.TrimLeadingExtract(idx)
	}
	return r, nil
}

// sortCandidates orders by priority (highest first), then rules declared for
// the exact transport before "both", then mapping ID.
func sortCandidates(cands []rule, src models.SourceType) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].mapping, cands[j].mapping
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if ae, be := a.SourceType == src, b.SourceType == src; ae != be {
			return ae
		}
		return a.ID < b.ID
	})
}

// checkDuplicates rejects two active rules for the same field with the same
// source type and priority: neither can be preferred over the other.
func checkDuplicates(cands []rule) error {
	for i := 1; i < len(cands); i++ {
		a, b := cands[i-1].mapping, cands[i].mapping
		if a.Priority == b.Priority && a.SourceType == b.SourceType {
			return fmt.Errorf("%w: %s and %s (ids %d, %d) for %s/%s/%s",
				ErrDuplicateMapping, a.VendorFieldPath, b.VendorFieldPath, a.ID, b.ID, a.Vendor, a.EntityType, a.Field)
		}
	}
	return nil
}
