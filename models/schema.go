package models

// FieldRequirement records whether a canonical field is required or optional
// for a data type.
type FieldRequirement struct {
	Field    Field `json:"field" yaml:"field"`
	Required bool  `json:"required" yaml:"required"`
}

// Schema maps each data type to its canonical field membership.
type Schema map[DataType][]FieldRequirement

func members(required, optional []Field) []FieldRequirement {
	out := make([]FieldRequirement, 0, len(required)+len(optional))
	for _, f := range required {
		out = append(out, FieldRequirement{Field: f, Required: true})
	}
	for _, f := range optional {
		out = append(out, FieldRequirement{Field: f})
	}
	return out
}

// DefaultSchema is the membership the catalog is seeded with when a seed file
// does not declare its own.
var DefaultSchema = Schema{
	DataTypeTicker: members(
		[]Field{FieldSymbol, FieldBidPrice, FieldAskPrice, FieldLastPrice, FieldTimestamp},
		[]Field{
			FieldBestBidSize, FieldBestAskSize, FieldHigh24h, FieldLow24h, FieldOpen24h,
			FieldVolume24h, FieldVolume30d, FieldQuoteVolume24h, FieldPriceChange24h,
			FieldPriceChangePercent24h,
		},
	),
	DataTypeOrderBook: members(
		[]Field{FieldSymbol, FieldBids, FieldAsks, FieldTimestamp},
		[]Field{FieldPrice, FieldSize, FieldSide, FieldSequence},
	),
	DataTypeTrade: members(
		[]Field{FieldSymbol, FieldTradeID, FieldPrice, FieldSize, FieldSide, FieldTimestamp},
		[]Field{FieldSequence},
	),
	DataTypeCandle: members(
		[]Field{FieldSymbol, FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume, FieldTimestamp},
		[]Field{FieldInterval, FieldCloseTime, FieldQuoteVolume, FieldTradeCount},
	),
}

// Split partitions reqs into required and optional fields, preserving order.
func Split(reqs []FieldRequirement) (required, optional []Field) {
	for _, r := range reqs {
		if r.Required {
			required = append(required, r.Field)
		} else {
			optional = append(optional, r.Field)
		}
	}
	return required, optional
}
