package transform

import (
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"exchangecatalog/internal/pathexpr"
	"exchangecatalog/internal/symbols"
	"exchangecatalog/models"
)

var maxNanos = decimal.NewFromInt(math.MaxInt64)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

var rfc1123Layouts = []string{time.RFC1123, time.RFC1123Z}

func (s Step) apply(v any) (any, error) {
	switch s.Kind {
	case KindStringToNumeric:
		d, ok := toDecimal(v)
		if !ok {
			return nil, fail(s.Kind, v, ErrNotNumeric)
		}
		return d, nil

	case KindArrayExtract:
		items, ok := pathexpr.Elements(v)
		if !ok {
			return nil, fail(s.Kind, v, ErrNotSequence)
		}
		if s.Index >= len(items) {
			return nil, fail(s.Kind, v, ErrIndexOutOfRange)
		}
		return items[s.Index], nil

	case KindMsToDatetime, KindIntegerToDatetime:
		d, ok := toDecimal(v)
		if !ok {
			return nil, fail(s.Kind, v, ErrNotNumeric)
		}
		ts, err := epochToTime(d, s.Unit)
		if err != nil {
			return nil, fail(s.Kind, v, err)
		}
		return ts, nil

	case KindStringToDatetime:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC(), nil
		}
		str, ok := v.(string)
		if !ok {
			return nil, fail(s.Kind, v, ErrNotString)
		}
		ts, err := parseTime(strings.TrimSpace(str), s.Format)
		if err != nil {
			return nil, fail(s.Kind, v, err)
		}
		return ts, nil

	case KindScale:
		d, ok := toDecimal(v)
		if !ok {
			return nil, fail(s.Kind, v, ErrNotNumeric)
		}
		return d.Mul(s.Factor), nil

	case KindInverse:
		d, ok := toDecimal(v)
		if !ok {
			return nil, fail(s.Kind, v, ErrNotNumeric)
		}
		if d.IsZero() {
			return nil, fail(s.Kind, v, ErrDivideByZero)
		}
		return decimal.NewFromInt(1).Div(d), nil

	case KindNormalizeSymbol:
		str, ok := v.(string)
		if !ok {
			return nil, fail(s.Kind, v, ErrNotString)
		}
		if s.Vendor != "" {
			return symbols.ForVendor(s.Vendor, str, s.Separator), nil
		}
		return symbols.Canonical(str, s.Separator), nil
	}
	// identity and unknown kinds
	return v, nil
}

func epochToTime(d decimal.Decimal, unit string) (time.Time, error) {
	if d.IsNegative() {
		return time.Time{}, ErrNegativeTime
	}
	ns := d.Mul(decimal.NewFromInt(unitNanos[unit]))
	if ns.GreaterThan(maxNanos) {
		return time.Time{}, ErrTimeOverflow
	}
	return time.Unix(0, ns.IntPart()).UTC(), nil
}

func parseTime(s, format string) (time.Time, error) {
	var layouts []string
	switch strings.ToLower(format) {
	case "", "iso8601", "rfc3339":
		layouts = isoLayouts
	case "rfc1123":
		layouts = rfc1123Layouts
	default:
		layouts = []string{format}
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, ErrFormatMismatch
}

// toDecimal accepts native numbers, decimals and numeric strings.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case *decimal.Decimal:
		if t == nil {
			return decimal.Decimal{}, false
		}
		return *t, true
	case string:
		return parseDecimal(t)
	case json.Number:
		return parseDecimal(string(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(t), true
	case float32:
		return toDecimal(float64(t))
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int32:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case uint32:
		return decimal.NewFromInt(int64(t)), true
	case uint64:
		if t > math.MaxInt64 {
			return decimal.NewFromBigInt(new(big.Int).SetUint64(t), 0), true
		}
		return decimal.NewFromInt(int64(t)), true
	case nil, bool:
		return decimal.Decimal{}, false
	}
	// named string types such as jsoniter's number representation
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
		return parseDecimal(rv.String())
	}
	return decimal.Decimal{}, false
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// Coerce converts JSON-native scalars into the canonical representation of
// the declared field type. It never fails; values it does not recognise are
// returned unchanged.
func Coerce(v any, ft models.FieldType) any {
	switch ft {
	case models.FieldTypeNumeric:
		switch v.(type) {
		case json.Number, float64, float32, int, int32, int64, uint32, uint64:
			if d, ok := toDecimal(v); ok {
				return d
			}
		}
	case models.FieldTypeString:
		switch t := v.(type) {
		case json.Number:
			return string(t)
		case float64:
			if d, ok := toDecimal(t); ok {
				return d.String()
			}
		case int:
			return strconv.Itoa(t)
		case int64:
			return strconv.FormatInt(t, 10)
		case decimal.Decimal:
			return t.String()
		}
	case models.FieldTypeTimestamp:
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
	}
	return v
}
