package models

import "sort"

// FieldType is the declared value type of a canonical field.
type FieldType string

const (
	FieldTypeNumeric   FieldType = "numeric"
	FieldTypeString    FieldType = "string"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeArray     FieldType = "array"
)

// Field is a canonical field identifier. The set is closed: rules naming a
// field outside it are rejected when they are loaded.
type Field string

const (
	FieldExchange  Field = "exchange"
	FieldSymbol    Field = "symbol"
	FieldTimestamp Field = "timestamp"

	// ticker
	FieldBidPrice              Field = "bid_price"
	FieldAskPrice              Field = "ask_price"
	FieldLastPrice             Field = "last_price"
	FieldBestBidSize           Field = "best_bid_size"
	FieldBestAskSize           Field = "best_ask_size"
	FieldHigh24h               Field = "high_24h"
	FieldLow24h                Field = "low_24h"
	FieldOpen24h               Field = "open_24h"
	FieldVolume24h             Field = "volume_24h"
	FieldVolume30d             Field = "volume_30d"
	FieldQuoteVolume24h        Field = "quote_volume_24h"
	FieldPriceChange24h        Field = "price_change_24h"
	FieldPriceChangePercent24h Field = "price_change_percent_24h"

	// order book and trade
	FieldBids     Field = "bids"
	FieldAsks     Field = "asks"
	FieldPrice    Field = "price"
	FieldSize     Field = "size"
	FieldSide     Field = "side"
	FieldSequence Field = "sequence"
	FieldTradeID  Field = "trade_id"

	// candle
	FieldOpen        Field = "open"
	FieldHigh        Field = "high"
	FieldLow         Field = "low"
	FieldClose       Field = "close"
	FieldVolume      Field = "volume"
	FieldInterval    Field = "interval"
	FieldCloseTime   Field = "close_time"
	FieldQuoteVolume Field = "quote_volume"
	FieldTradeCount  Field = "trade_count"
)

var fieldTypes = map[Field]FieldType{
	FieldExchange:              FieldTypeString,
	FieldSymbol:                FieldTypeString,
	FieldTimestamp:             FieldTypeTimestamp,
	FieldBidPrice:              FieldTypeNumeric,
	FieldAskPrice:              FieldTypeNumeric,
	FieldLastPrice:             FieldTypeNumeric,
	FieldBestBidSize:           FieldTypeNumeric,
	FieldBestAskSize:           FieldTypeNumeric,
	FieldHigh24h:               FieldTypeNumeric,
	FieldLow24h:                FieldTypeNumeric,
	FieldOpen24h:               FieldTypeNumeric,
	FieldVolume24h:             FieldTypeNumeric,
	FieldVolume30d:             FieldTypeNumeric,
	FieldQuoteVolume24h:        FieldTypeNumeric,
	FieldPriceChange24h:        FieldTypeNumeric,
	FieldPriceChangePercent24h: FieldTypeNumeric,
	FieldBids:                  FieldTypeArray,
	FieldAsks:                  FieldTypeArray,
	FieldPrice:                 FieldTypeNumeric,
	FieldSize:                  FieldTypeNumeric,
	FieldSide:                  FieldTypeString,
	FieldSequence:              FieldTypeNumeric,
	FieldTradeID:               FieldTypeString,
	FieldOpen:                  FieldTypeNumeric,
	FieldHigh:                  FieldTypeNumeric,
	FieldLow:                   FieldTypeNumeric,
	FieldClose:                 FieldTypeNumeric,
	FieldVolume:                FieldTypeNumeric,
	FieldInterval:              FieldTypeString,
	FieldCloseTime:             FieldTypeTimestamp,
	FieldQuoteVolume:           FieldTypeNumeric,
	FieldTradeCount:            FieldTypeNumeric,
}

// LookupField returns the canonical field named name and its declared type.
func LookupField(name string) (Field, FieldType, bool) {
	f := Field(name)
	t, ok := fieldTypes[f]
	if !ok {
		return "", "", false
	}
	return f, t, true
}

// Type returns the declared type of f, or "" when f is not canonical.
func (f Field) Type() FieldType {
	return fieldTypes[f]
}

// Valid reports whether f belongs to the canonical set.
func (f Field) Valid() bool {
	_, ok := fieldTypes[f]
	return ok
}

// AllFields returns every canonical field sorted by name.
func AllFields() []Field {
	out := make([]Field, 0, len(fieldTypes))
	for f := range fieldTypes {
		out = append(out, f)
	}
	sortFields(out)
	return out
}

func sortFields(fs []Field) {
	sort.Slice(fs, func(i, j int) bool { return fs[i] < fs[j] })
}
