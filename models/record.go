package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Coverage describes how much of a data type's canonical schema a single
// normalized record carries from vendor data.
type Coverage struct {
	RequiredMapped   int     `json:"required_mapped"`
	RequiredTotal    int     `json:"required_total"`
	OptionalMapped   int     `json:"optional_mapped"`
	OptionalTotal    int     `json:"optional_total"`
	CoverageRequired float64 `json:"coverage_required"`
	CoverageOptional float64 `json:"coverage_optional"`
	// UnmappedFields lists every member field the vendor did not supply.
	UnmappedFields []Field `json:"unmapped_fields"`
	// UnresolvedFields is the subset of UnmappedFields that had a rule whose
	// path was absent from the message.
	UnresolvedFields []Field `json:"unresolved_fields,omitempty"`
}

// CoverageStats summarizes the mapping catalog for one vendor and data type.
type CoverageStats struct {
	FieldsDefined   int     `json:"fields_defined" yaml:"fields_defined"`
	FieldsMapped    int     `json:"fields_mapped" yaml:"fields_mapped"`
	CoveragePercent float64 `json:"coverage_percent" yaml:"coverage_percent"`
}

// NormalizedRecord is the canonical form of one vendor message.
type NormalizedRecord struct {
	Vendor     string
	DataType   DataType
	SourceType SourceType
	Fields     map[Field]any
	// Derived lists fields filled by the engine rather than read from the message.
	Derived []Field
	Meta    Coverage

	members    []FieldRequirement
	unresolved map[Field]struct{}
}

// NewRecord starts an empty record whose coverage is measured against members.
func NewRecord(vendor string, dt DataType, src SourceType, members []FieldRequirement) *NormalizedRecord {
	return &NormalizedRecord{
		Vendor:     vendor,
		DataType:   dt,
		SourceType: src,
		Fields:     make(map[Field]any, len(members)+1),
		members:    members,
		unresolved: map[Field]struct{}{},
	}
}

// Set stores a vendor supplied value.
func (r *NormalizedRecord) Set(f Field, v any) {
	r.Fields[f] = v
	r.dropDerived(f)
	delete(r.unresolved, f)
}

// Derive stores an engine supplied value. Derived values never count as mapped.
func (r *NormalizedRecord) Derive(f Field, v any) {
	r.Fields[f] = v
	if !r.IsDerived(f) {
		r.Derived = append(r.Derived, f)
		sortFields(r.Derived)
	}
}

// MarkUnresolved notes that f had a rule but its path was absent.
func (r *NormalizedRecord) MarkUnresolved(f Field) {
	if r.unresolved == nil {
		r.unresolved = map[Field]struct{}{}
	}
	r.unresolved[f] = struct{}{}
}

func (r *NormalizedRecord) Get(f Field) (any, bool) {
	v, ok := r.Fields[f]
	return v, ok
}

// Text returns the value of f formatted as a string, or "" when absent.
func (r *NormalizedRecord) Text(f Field) string {
	v, ok := r.Fields[f]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// Timestamp returns the record timestamp, vendor supplied or derived.
func (r *NormalizedRecord) Timestamp() (time.Time, bool) {
	ts, ok := r.Fields[FieldTimestamp].(time.Time)
	return ts, ok
}

func (r *NormalizedRecord) IsDerived(f Field) bool {
	for _, d := range r.Derived {
		if d == f {
			return true
		}
	}
	return false
}

// Mapped reports whether f was supplied by the vendor.
func (r *NormalizedRecord) Mapped(f Field) bool {
	_, ok := r.Fields[f]
	return ok && !r.IsDerived(f)
}

// Members returns the schema membership the record was measured against.
func (r *NormalizedRecord) Members() []FieldRequirement {
	return r.members
}

func (r *NormalizedRecord) dropDerived(f Field) {
	for i, d := range r.Derived {
		if d == f {
			r.Derived = append(r.Derived[:i], r.Derived[i+1:]...)
			return
		}
	}
}

// Finalize recomputes Meta from the current fields.
func (r *NormalizedRecord) Finalize() {
	var c Coverage
	c.UnmappedFields = []Field{}
	for _, m := range r.members {
		mapped := r.Mapped(m.Field)
		if m.Required {
			c.RequiredTotal++
			if mapped {
				c.RequiredMapped++
			}
		} else {
			c.OptionalTotal++
			if mapped {
				c.OptionalMapped++
			}
		}
		if !mapped {
			c.UnmappedFields = append(c.UnmappedFields, m.Field)
			if _, ok := r.unresolved[m.Field]; ok {
				c.UnresolvedFields = append(c.UnresolvedFields, m.Field)
			}
		}
	}
	c.CoverageRequired = ratio(c.RequiredMapped, c.RequiredTotal)
	c.CoverageOptional = ratio(c.OptionalMapped, c.OptionalTotal)
	sortFields(c.UnmappedFields)
	sortFields(c.UnresolvedFields)
	r.Meta = c
}

// ratio treats an empty set as fully covered.
func ratio(n, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(n) / float64(total)
}

// Map renders the record as a flat mapping of canonical field names plus a
// "_meta" entry carrying coverage.
func (r *NormalizedRecord) Map() map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for f, v := range r.Fields {
		out[string(f)] = v
	}
	derived := make([]string, 0, len(r.Derived))
	for _, f := range r.Derived {
		derived = append(derived, string(f))
	}
	out["_meta"] = map[string]any{
		"vendor":            r.Vendor,
		"data_type":         r.DataType,
		"source_type":       r.SourceType,
		"required_mapped":   r.Meta.RequiredMapped,
		"required_total":    r.Meta.RequiredTotal,
		"optional_mapped":   r.Meta.OptionalMapped,
		"optional_total":    r.Meta.OptionalTotal,
		"coverage_required": r.Meta.CoverageRequired,
		"coverage_optional": r.Meta.CoverageOptional,
		"unmapped_fields":   fieldNames(r.Meta.UnmappedFields),
		"derived_fields":    derived,
	}
	return out
}

func (r *NormalizedRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// Clone returns a deep copy of the record's bookkeeping; field values are shared.
func (r *NormalizedRecord) Clone() *NormalizedRecord {
	out := NewRecord(r.Vendor, r.DataType, r.SourceType, r.members)
	for f, v := range r.Fields {
		out.Fields[f] = v
	}
	out.Derived = append([]Field(nil), r.Derived...)
	for f := range r.unresolved {
		out.unresolved[f] = struct{}{}
	}
	out.Meta = r.Meta
	out.Meta.UnmappedFields = append([]Field{}, r.Meta.UnmappedFields...)
	out.Meta.UnresolvedFields = append([]Field(nil), r.Meta.UnresolvedFields...)
	return out
}

func fieldNames(fs []Field) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, string(f))
	}
	return out
}
