package models

import (
	"fmt"
	"strings"
)

// DataType identifies a canonical data type a vendor message can be normalized into.
type DataType string

const (
	DataTypeTicker    DataType = "ticker"
	DataTypeOrderBook DataType = "order_book"
	DataTypeTrade     DataType = "trade"
	DataTypeCandle    DataType = "candle"
)

// AllDataTypes lists every canonical data type in a stable order.
func AllDataTypes() []DataType {
	return []DataType{DataTypeTicker, DataTypeOrderBook, DataTypeTrade, DataTypeCandle}
}

// ParseDataType converts a user supplied name into a DataType.
// "orderbook" and "candles" are accepted as aliases.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ticker":
		return DataTypeTicker, nil
	case "order_book", "orderbook":
		return DataTypeOrderBook, nil
	case "trade", "trades":
		return DataTypeTrade, nil
	case "candle", "candles", "kline":
		return DataTypeCandle, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDataType, s)
}

// SourceType is the transport a raw message arrived on.
type SourceType string

const (
	SourceREST      SourceType = "rest"
	SourceWebSocket SourceType = "websocket"
	// SourceBoth is only valid on mappings: the rule applies to either transport.
	SourceBoth SourceType = "both"
)

// ParseSourceType accepts the mapping-side values rest, websocket and both.
func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rest", "http":
		return SourceREST, nil
	case "websocket", "ws":
		return SourceWebSocket, nil
	case "both", "":
		return SourceBoth, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSourceType, s)
}

// ParseRequestSource is ParseSourceType restricted to what a caller may request.
func ParseRequestSource(s string) (SourceType, error) {
	src, err := ParseSourceType(s)
	if err != nil {
		return "", err
	}
	if src == SourceBoth {
		return "", fmt.Errorf("%w: %q is not a concrete transport", ErrInvalidSourceType, s)
	}
	return src, nil
}

// Applies reports whether a mapping declared for s can serve a request for requested.
func (s SourceType) Applies(requested SourceType) bool {
	return s == requested || s == SourceBoth
}
