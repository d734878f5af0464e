// Package transform compiles the transformation descriptors stored with each
// field mapping and applies them to resolved vendor values.
package transform

import (
	"bytes"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

// Kind names a transformation step.
type Kind string

const (
	KindIdentity          Kind = "identity"
	KindStringToNumeric   Kind = "string_to_numeric"
	KindArrayExtract      Kind = "array_extract"
	KindMsToDatetime      Kind = "ms_to_datetime"
	KindIntegerToDatetime Kind = "integer_to_datetime"
	KindStringToDatetime  Kind = "string_to_datetime"
	KindScale             Kind = "scale"
	KindInverse           Kind = "inverse"
	KindNormalizeSymbol   Kind = "normalize_symbol"
)

var knownKinds = map[Kind]bool{
	KindIdentity:          true,
	KindStringToNumeric:   true,
	KindArrayExtract:      true,
	KindMsToDatetime:      true,
	KindIntegerToDatetime: true,
	KindStringToDatetime:  true,
	KindScale:             true,
	KindInverse:           true,
	KindNormalizeSymbol:   true,
}

var unitNanos = map[string]int64{
	"s":  1e9,
	"ms": 1e6,
	"us": 1e3,
	"ns": 1,
}

var jsonAPI = jsoniter.Config{
	EscapeHTML:             true,
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

// Step is one compiled transformation with its parameters.
type Step struct {
	Kind      Kind
	Index     int
	Unit      string
	Format    string
	Factor    decimal.Decimal
	Separator string
	Vendor    string
}

// Known reports whether the step kind is implemented. Unknown steps behave
// as identity.
func (s Step) Known() bool { return knownKinds[s.Kind] }

// Pipeline is an ordered list of steps. The zero value is identity.
type Pipeline struct {
	steps []Step
}

type descriptor struct {
	Type      string       `json:"type"`
	Steps     []descriptor `json:"steps"`
	Index     *int         `json:"index"`
	Unit      string       `json:"unit"`
	Format    string       `json:"format"`
	Factor    any          `json:"factor"`
	Separator *string      `json:"separator"`
	Vendor    string       `json:"vendor"`
}

// Compile parses a descriptor. Accepted forms are a single step object
// {"type": ...}, a chain {"steps": [...]}, a bare JSON array of steps, or a
// JSON string naming a parameterless kind. Empty input and null mean identity.
func Compile(raw []byte) (Pipeline, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return Pipeline{}, nil
	}
	var descs []descriptor
	switch raw[0] {
	case '[':
		if err := jsonAPI.Unmarshal(raw, &descs); err != nil {
			return Pipeline{}, fmt.Errorf("%w: %v", ErrBadDescriptor, err)
		}
	case '"':
		var name string
		if err := jsonAPI.Unmarshal(raw, &name); err != nil {
			return Pipeline{}, fmt.Errorf("%w: %v", ErrBadDescriptor, err)
		}
		descs = []descriptor{{Type: name}}
	default:
		var d descriptor
		if err := jsonAPI.Unmarshal(raw, &d); err != nil {
			return Pipeline{}, fmt.Errorf("%w: %v", ErrBadDescriptor, err)
		}
		descs = []descriptor{d}
	}

	var p Pipeline
	if err := p.appendAll(descs); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

// MustCompile is Compile for literals known to be valid.
func MustCompile(raw string) Pipeline {
	p, err := Compile([]byte(raw))
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pipeline) appendAll(descs []descriptor) error {
	for _, d := range descs {
		if d.Type == "" && len(d.Steps) > 0 {
			if err := p.appendAll(d.Steps); err != nil {
				return err
			}
			continue
		}
		if d.Type == "" && d.Index == nil && d.Factor == nil {
			continue
		}
		st, err := compileStep(d)
		if err != nil {
			return err
		}
		p.steps = append(p.steps, st)
	}
	return nil
}

func compileStep(d descriptor) (Step, error) {
	st := Step{Kind: Kind(strings.ToLower(strings.TrimSpace(d.Type)))}
	switch st.Kind {
	case KindArrayExtract:
		if d.Index == nil || *d.Index < 0 {
			return Step{}, fmt.Errorf("%w: array_extract needs a non-negative index", ErrBadDescriptor)
		}
		st.Index = *d.Index
	case KindMsToDatetime:
		st.Unit = "ms"
	case KindIntegerToDatetime:
		st.Unit = strings.ToLower(d.Unit)
		if st.Unit == "" {
			st.Unit = "ms"
		}
		if _, ok := unitNanos[st.Unit]; !ok {
			return Step{}, fmt.Errorf("%w: unknown unit %q", ErrBadDescriptor, d.Unit)
		}
	case KindStringToDatetime:
		st.Format = d.Format
	case KindScale:
		f, ok := toDecimal(d.Factor)
		if !ok {
			return Step{}, fmt.Errorf("%w: scale needs a numeric factor", ErrBadDescriptor)
		}
		st.Factor = f
	case KindNormalizeSymbol:
		st.Separator = "-"
		if d.Separator != nil {
			st.Separator = *d.Separator
		}
		st.Vendor = d.Vendor
	}
	return st, nil
}

// Steps returns a copy of the compiled steps.
func (p Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// TrimLeadingExtract returns p without its first step when that step is
// array_extract of index i.
func (p Pipeline) TrimLeadingExtract(i int) (Pipeline, bool) {
	if len(p.steps) == 0 || p.steps[0].Kind != KindArrayExtract || p.steps[0].Index != i {
		return p, false
	}
	return Pipeline{steps: append([]Step(nil), p.steps[1:]...)}, true
}

// Unknown lists step kinds that will be applied as identity.
func (p Pipeline) Unknown() []Kind {
	var out []Kind
	for _, s := range p.steps {
		if !s.Known() {
			out = append(out, s.Kind)
		}
	}
	return out
}

// Apply runs every step in order. The first failing step aborts with *Error.
func (p Pipeline) Apply(v any) (any, error) {
	var err error
	for _, s := range p.steps {
		if v, err = s.apply(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}
