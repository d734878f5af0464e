package pathexpr

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestResolve(t *testing.T) {
	bitfinex := decode(t, `[10, 43210.5, 1.2, 43211.0, 0.8]`)
	kraken := decode(t, `{"error":[],"result":{"XXBTZUSD":{"a":["43211.0","1","1.000"],"b":["43210.0","2","2.000"],"c":["43210.5","0.01"]}}}`)
	nested := decode(t, `{"data":[{"bid":"1.5","ask":null}],"ts":1700000000000}`)

	tests := []struct {
		name string
		msg  any
		path string
		vars map[string]string
		want any
		ok   bool
	}{
		{"top level index", bitfinex, "[1]", nil, 43210.5, true},
		{"index out of range", bitfinex, "[9]", nil, nil, false},
		{"placeholder single key", kraken, "result.{pair}.a[0]", nil, "43211.0", true},
		{"placeholder from vars", kraken, "result.{pair}.b[1]", map[string]string{"pair": "XXBTZUSD"}, "2", true},
		{"placeholder wrong var", kraken, "result.{pair}.b[1]", map[string]string{"pair": "XETHZUSD"}, nil, false},
		{"nested", nested, "data[0].bid", nil, "1.5", true},
		{"null is absent", nested, "data[0].ask", nil, nil, false},
		{"missing key", nested, "data[0].last", nil, nil, false},
		{"index into object", nested, "ts[0]", nil, nil, false},
		{"key into array", nested, "data.bid", nil, nil, false},
		{"key into scalar", nested, "ts.value", nil, nil, false},
		{"batch marker never fans out", nested, "data[].bid", nil, nil, false},
		{"nil message", nil, "data", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.path)
			require.NoError(t, err)
			got, ok := p.Resolve(tt.msg, tt.vars)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveAmbiguousPlaceholder(t *testing.T) {
	msg := decode(t, `{"result":{"A":{"x":1},"B":{"x":2}}}`)
	_, ok := MustParse("result.{pair}.x").Resolve(msg, nil)
	assert.False(t, ok)
}

func TestResolveTypedContainers(t *testing.T) {
	msg := map[string]any{
		"levels": [][]string{{"100.5", "2"}},
		"meta":   map[string]string{"symbol": "BTC-USD"},
	}
	got, ok := MustParse("levels[0][1]").Resolve(msg, nil)
	require.True(t, ok)
	assert.Equal(t, "2", got)

	got, ok = MustParse("meta.symbol").Resolve(msg, nil)
	require.True(t, ok)
	assert.Equal(t, "BTC-USD", got)
}

func TestParseErrors(t *testing.T) {
	bad := []string{"", "a..b", ".a", "a.", "a[", "a]", "a[x]", "a[-1]", "a[0]b", "a.[0]", "{}", "{pair", "a.b}"}
	for _, expr := range bad {
		_, err := Parse(expr)
		require.Error(t, err, expr)
		assert.True(t, errors.Is(err, ErrSyntax), expr)
	}
}

func TestSplitBatch(t *testing.T) {
	p := MustParse("data[].last_price")
	assert.True(t, p.HasBatch())
	root, rest, ok := p.SplitBatch()
	require.True(t, ok)
	assert.Equal(t, "data", root.String())
	assert.Equal(t, "last_price", rest.String())

	msg := decode(t, `{"data":[{"last_price":"1"},{"last_price":"2"}]}`)
	seq, ok := root.Resolve(msg, nil)
	require.True(t, ok)
	items, ok := Elements(seq)
	require.True(t, ok)
	require.Len(t, items, 2)
	v, ok := rest.Resolve(items[1], nil)
	require.True(t, ok)
	assert.Equal(t, "2", v)

	_, _, ok = MustParse("data[0].x").SplitBatch()
	assert.False(t, ok)

	root, rest, ok = MustParse("[]").SplitBatch()
	require.True(t, ok)
	assert.True(t, root.IsZero())
	assert.True(t, rest.IsZero())
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"pair"}, MustParse("result.{pair}.c[0]").Placeholders())
	assert.Nil(t, MustParse("c[0]").Placeholders())
}

func TestTrailingIndex(t *testing.T) {
	n, ok := MustParse("result.{pair}.c[1]").TrailingIndex()
	require.True(t, ok)
	assert.Equal(t, 1, n)

	_, ok = MustParse("a[0].price").TrailingIndex()
	assert.False(t, ok)
	_, ok = MustParse("data[]").TrailingIndex()
	assert.False(t, ok)
	_, ok = Path{}.TrailingIndex()
	assert.False(t, ok)
}
