package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in   string
		want DataType
	}{
		{"ticker", DataTypeTicker},
		{"ORDERBOOK", DataTypeOrderBook},
		{" order_book ", DataTypeOrderBook},
		{"trades", DataTypeTrade},
		{"kline", DataTypeCandle},
	}
	for _, tt := range tests {
		got, err := ParseDataType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseDataType("funding")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownDataType))
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestParseRequestSource(t *testing.T) {
	src, err := ParseRequestSource("ws")
	require.NoError(t, err)
	assert.Equal(t, SourceWebSocket, src)

	_, err = ParseRequestSource("both")
	assert.ErrorIs(t, err, ErrInvalidSourceType)

	_, err = ParseRequestSource("grpc")
	assert.ErrorIs(t, err, ErrInvalidSourceType)

	assert.True(t, SourceBoth.Applies(SourceREST))
	assert.True(t, SourceREST.Applies(SourceREST))
	assert.False(t, SourceREST.Applies(SourceWebSocket))
}

func TestLookupField(t *testing.T) {
	f, typ, ok := LookupField("bid_price")
	require.True(t, ok)
	assert.Equal(t, FieldBidPrice, f)
	assert.Equal(t, FieldTypeNumeric, typ)

	_, _, ok = LookupField("bidPrice")
	assert.False(t, ok)

	for _, dt := range AllDataTypes() {
		for _, m := range DefaultSchema[dt] {
			assert.True(t, m.Field.Valid(), "%s member %s", dt, m.Field)
		}
	}
}

func TestDefaultSchemaTicker(t *testing.T) {
	req, opt := Split(DefaultSchema[DataTypeTicker])
	assert.Equal(t, []Field{FieldSymbol, FieldBidPrice, FieldAskPrice, FieldLastPrice, FieldTimestamp}, req)
	assert.Len(t, opt, 10)
}

func tickerRecord(src SourceType) *NormalizedRecord {
	return NewRecord("coinbase", DataTypeTicker, src, DefaultSchema[DataTypeTicker])
}

func TestFinalizeCoverage(t *testing.T) {
	r := tickerRecord(SourceREST)
	r.Set(FieldSymbol, "BTC-USD")
	r.Set(FieldLastPrice, "43210.5")
	r.Set(FieldVolume24h, "12")
	r.MarkUnresolved(FieldBidPrice)
	r.Derive(FieldExchange, "coinbase")
	r.Derive(FieldTimestamp, time.Unix(0, 0).UTC())
	r.Finalize()

	assert.Equal(t, 2, r.Meta.RequiredMapped)
	assert.Equal(t, 5, r.Meta.RequiredTotal)
	assert.Equal(t, 1, r.Meta.OptionalMapped)
	assert.Equal(t, 10, r.Meta.OptionalTotal)
	assert.InDelta(t, 0.4, r.Meta.CoverageRequired, 1e-9)
	assert.InDelta(t, 0.1, r.Meta.CoverageOptional, 1e-9)
	assert.Contains(t, r.Meta.UnmappedFields, FieldTimestamp)
	assert.Contains(t, r.Meta.UnmappedFields, FieldBidPrice)
	assert.Equal(t, []Field{FieldBidPrice}, r.Meta.UnresolvedFields)
	assert.Equal(t, []Field{FieldExchange, FieldTimestamp}, r.Derived)
	assert.False(t, r.Mapped(FieldTimestamp))
}

func TestSetOverridesDerived(t *testing.T) {
	r := tickerRecord(SourceREST)
	r.Derive(FieldTimestamp, time.Unix(1, 0))
	r.Set(FieldTimestamp, time.Unix(2, 0))
	assert.True(t, r.Mapped(FieldTimestamp))
	assert.Empty(t, r.Derived)
}

func TestMapAndJSON(t *testing.T) {
	r := tickerRecord(SourceWebSocket)
	r.Set(FieldSymbol, "BTC-USD")
	r.Derive(FieldExchange, "coinbase")
	r.Finalize()

	m := r.Map()
	assert.Equal(t, "BTC-USD", m["symbol"])
	meta, ok := m["_meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, meta["required_mapped"])

	data, err := json.Marshal(r)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "coinbase", decoded["exchange"])
	assert.Contains(t, decoded, "_meta")
}

func TestMerge(t *testing.T) {
	ws := tickerRecord(SourceWebSocket)
	ws.Set(FieldSymbol, "BTC-USD")
	ws.Set(FieldLastPrice, "101")
	ws.Derive(FieldExchange, "coinbase")
	ws.Derive(FieldTimestamp, time.Unix(10, 0).UTC())
	ws.Finalize()

	rest := tickerRecord(SourceREST)
	rest.Set(FieldLastPrice, "100")
	rest.Set(FieldBidPrice, "99")
	rest.Set(FieldTimestamp, time.Unix(5, 0).UTC())
	rest.Derive(FieldExchange, "coinbase")
	rest.Finalize()

	out := Merge(ws, rest)
	require.NotNil(t, out)
	assert.Equal(t, SourceBoth, out.SourceType)
	assert.Equal(t, "101", out.Fields[FieldLastPrice])
	assert.Equal(t, "99", out.Fields[FieldBidPrice])
	assert.True(t, out.Mapped(FieldTimestamp))
	assert.Equal(t, time.Unix(5, 0).UTC(), out.Fields[FieldTimestamp])
	assert.Equal(t, []Field{FieldExchange}, out.Derived)
	assert.Equal(t, 4, out.Meta.RequiredMapped)
	assert.GreaterOrEqual(t, out.Meta.RequiredMapped, ws.Meta.RequiredMapped)
	assert.GreaterOrEqual(t, out.Meta.RequiredMapped, rest.Meta.RequiredMapped)

	// inputs are untouched
	assert.Equal(t, 2, ws.Meta.RequiredMapped)
	assert.True(t, ws.IsDerived(FieldTimestamp))
}

func TestMergeMismatchAndNil(t *testing.T) {
	a := tickerRecord(SourceREST)
	a.Set(FieldSymbol, "BTC-USD")
	a.Finalize()
	b := NewRecord("kraken", DataTypeTicker, SourceREST, DefaultSchema[DataTypeTicker])
	b.Set(FieldBidPrice, "1")
	b.Finalize()

	out := Merge(a, b)
	_, ok := out.Fields[FieldBidPrice]
	assert.False(t, ok)

	assert.Nil(t, Merge(nil, nil))
	assert.Equal(t, "BTC-USD", Merge(nil, a).Fields[FieldSymbol])
}
