// Package pathexpr compiles and evaluates the vendor field paths stored in the
// mapping catalog, e.g. "data[0].bid", "a[0]", "[0]", "result.{pair}.c[0]"
// and "data[].last_price".
package pathexpr

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var ErrSyntax = errors.New("pathexpr: invalid path")

type segmentKind uint8

const (
	segKey segmentKind = iota
	segIndex
	// segPlaceholder is "{name}": a key taken from the caller's variables or,
	// failing that, the only key of a single-key object.
	segPlaceholder
	// segBatch is "[]": marks the sequence a batch message fans out over.
	segBatch
)

type segment struct {
	kind  segmentKind
	key   string
	index int
}

// Path is a compiled vendor field path. The zero value resolves nothing.
type Path struct {
	raw  string
	segs []segment
}

// Parse compiles expr. Errors are reported here so that a malformed rule is
// rejected when the rule set is loaded, never while resolving a message.
func Parse(expr string) (Path, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Path{}, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	p := Path{raw: expr}
	i := 0
	expectKey := true
	for i < len(expr) {
		switch c := expr[i]; {
		case c == '[':
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				return Path{}, fmt.Errorf("%w: unbalanced '[' at %d in %q", ErrSyntax, i, expr)
			}
			body := expr[i+1 : i+end]
			if body == "" {
				p.segs = append(p.segs, segment{kind: segBatch})
			} else {
				n, err := strconv.Atoi(body)
				if err != nil || n < 0 {
					return Path{}, fmt.Errorf("%w: bad index %q in %q", ErrSyntax, body, expr)
				}
				p.segs = append(p.segs, segment{kind: segIndex, index: n})
			}
			i += end + 1
			expectKey = false
		case c == '.':
			if expectKey || i == len(expr)-1 {
				return Path{}, fmt.Errorf("%w: empty key at %d in %q", ErrSyntax, i, expr)
			}
			i++
			expectKey = true
			if i < len(expr) && expr[i] == '[' {
				return Path{}, fmt.Errorf("%w: empty key at %d in %q", ErrSyntax, i, expr)
			}
		case c == ']':
			return Path{}, fmt.Errorf("%w: unbalanced ']' at %d in %q", ErrSyntax, i, expr)
		default:
			if !expectKey {
				return Path{}, fmt.Errorf("%w: missing '.' before key at %d in %q", ErrSyntax, i, expr)
			}
			end := strings.IndexAny(expr[i:], ".[]")
			if end < 0 {
				end = len(expr) - i
			}
			key := expr[i : i+end]
			seg := segment{kind: segKey, key: key}
			if strings.HasPrefix(key, "{") || strings.HasSuffix(key, "}") {
				name := strings.TrimSuffix(strings.TrimPrefix(key, "{"), "}")
				if len(key) < 3 || !strings.HasPrefix(key, "{") || !strings.HasSuffix(key, "}") || strings.ContainsAny(name, "{}") {
					return Path{}, fmt.Errorf("%w: bad placeholder %q in %q", ErrSyntax, key, expr)
				}
				seg = segment{kind: segPlaceholder, key: name}
			}
			p.segs = append(p.segs, seg)
			i += end
			expectKey = false
		}
	}
	return p, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(expr string) Path {
	p, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string { return p.raw }

// IsZero reports whether p was never compiled.
func (p Path) IsZero() bool { return len(p.segs) == 0 }

// HasBatch reports whether p contains a "[]" batch marker.
func (p Path) HasBatch() bool {
	for _, s := range p.segs {
		if s.kind == segBatch {
			return true
		}
	}
	return false
}

// TrailingIndex returns n when p ends in "[n]".
func (p Path) TrailingIndex() (int, bool) {
	if len(p.segs) == 0 {
		return 0, false
	}
	last := p.segs[len(p.segs)-1]
	if last.kind != segIndex {
		return 0, false
	}
	return last.index, true
}

// Placeholders returns the names of the "{name}" segments in p.
func (p Path) Placeholders() []string {
	var out []string
	for _, s := range p.segs {
		if s.kind == segPlaceholder {
			out = append(out, s.key)
		}
	}
	return out
}

// SplitBatch splits p at its first "[]" marker. root addresses the sequence
// and rest addresses the field inside each element. ok is false when p has no
// marker. An empty rest means each element is itself the value.
func (p Path) SplitBatch() (root, rest Path, ok bool) {
	for i, s := range p.segs {
		if s.kind != segBatch {
			continue
		}
		root = Path{segs: p.segs[:i]}
		root.raw = render(root.segs)
		rest = Path{segs: p.segs[i+1:]}
		rest.raw = render(rest.segs)
		return root, rest, true
	}
	return Path{}, Path{}, false
}

func render(segs []segment) string {
	var b strings.Builder
	for i, s := range segs {
		switch s.kind {
		case segKey:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(s.key)
		case segPlaceholder:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString("{" + s.key + "}")
		case segIndex:
			b.WriteString("[" + strconv.Itoa(s.index) + "]")
		case segBatch:
			b.WriteString("[]")
		}
	}
	return b.String()
}

// Resolve walks msg along p. The boolean is false when the value is ABSENT:
// a missing key, an index out of range, a container of the wrong kind, a
// JSON null, or a "[]" marker (single-valued resolution never fans out).
// Resolve never panics. A path with no segments resolves to msg itself.
func (p Path) Resolve(msg any, vars map[string]string) (any, bool) {
	cur := msg
	for _, s := range p.segs {
		var ok bool
		switch s.kind {
		case segKey:
			cur, ok = lookupKey(cur, s.key)
		case segIndex:
			cur, ok = lookupIndex(cur, s.index)
		case segPlaceholder:
			cur, ok = lookupPlaceholder(cur, s.key, vars)
		case segBatch:
			return nil, false
		}
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Elements returns the items of a sequence value, or false when v is not one.
func Elements(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func lookupKey(v any, key string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		out, ok := t[key]
		return out, ok
	case map[string]string:
		out, ok := t[key]
		return out, ok
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
	if !out.IsValid() {
		return nil, false
	}
	return out.Interface(), true
}

func lookupIndex(v any, idx int) (any, bool) {
	if t, ok := v.([]any); ok {
		if idx >= len(t) {
			return nil, false
		}
		return t[idx], true
	}
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
		if idx >= rv.Len() {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	}
	return nil, false
}

func lookupPlaceholder(v any, name string, vars map[string]string) (any, bool) {
	if key, ok := vars[name]; ok {
		return lookupKey(v, key)
	}
	keys := mapKeys(v)
	if len(keys) != 1 {
		return nil, false
	}
	return lookupKey(v, keys[0])
}

func mapKeys(v any) []string {
	switch t := v.(type) {
	case map[string]any:
		out := make([]string, 0, len(t))
		for k := range t {
			out = append(out, k)
		}
		return out
	case nil:
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil
	}
	out := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		out = append(out, k.String())
	}
	return out
}
