package processor

import (
	"context"
	"fmt"

	"exchangecatalog/internal/engine"
	"exchangecatalog/logger"
	"exchangecatalog/models"
)

// Hybrid fills the gaps of WebSocket records with fields from a REST
// snapshot of the same vendor and data type.
type Hybrid struct {
	engine *engine.Engine
	log    *logger.Log
}

func NewHybrid(eng *engine.Engine) *Hybrid {
	return &Hybrid{engine: eng, log: logger.GetLogger()}
}

// Normalize normalizes ws as websocket and rest as rest, then merges records
// sharing a symbol. A nil payload means that side was not captured. Records
// are returned in WebSocket order followed by REST-only symbols.
func (h *Hybrid) Normalize(ctx context.Context, vendor string, dt models.DataType, ws, rest []byte, vars map[string]string) ([]*models.NormalizedRecord, error) {
	if ws == nil && rest == nil {
		return nil, fmt.Errorf("%w: no payload for either source", engine.ErrBadInput)
	}
	var opts []engine.CallOption
	if len(vars) > 0 {
		opts = append(opts, engine.WithVars(vars))
	}

	var wsRecs, restRecs []*models.NormalizedRecord
	var err error
	if ws != nil {
		if wsRecs, err = h.engine.NormalizeJSON(ctx, ws, vendor, dt, models.SourceWebSocket, opts...); err != nil {
			return nil, fmt.Errorf("websocket: %w", err)
		}
	}
	if rest != nil {
		if restRecs, err = h.engine.NormalizeJSON(ctx, rest, vendor, dt, models.SourceREST, opts...); err != nil {
			return nil, fmt.Errorf("rest: %w", err)
		}
	}

	out := MergeBySymbol(wsRecs, restRecs)
	h.log.WithComponent("hybrid").WithFields(logger.Fields{
		"vendor":    vendor,
		"data_type": string(dt),
		"websocket": len(wsRecs),
		"rest":      len(restRecs),
		"merged":    len(out),
	}).Debug("merged hybrid records")
	return out, nil
}

// MergeBySymbol pairs primary and fallback records by symbol and merges each
// pair with models.Merge. When both sides hold exactly one record and at
// least one of them lacks a symbol, the two pair positionally. Records with
// different symbols are never merged.
func MergeBySymbol(primary, fallback []*models.NormalizedRecord) []*models.NormalizedRecord {
	if len(primary) == 1 && len(fallback) == 1 {
		ps, fs := primary[0].Text(models.FieldSymbol), fallback[0].Text(models.FieldSymbol)
		if ps == "" || fs == "" || ps == fs {
			return []*models.NormalizedRecord{models.Merge(primary[0], fallback[0])}
		}
	}

	bySymbol := make(map[string]*models.NormalizedRecord, len(fallback))
	for _, rec := range fallback {
		if sym := rec.Text(models.FieldSymbol); sym != "" {
			if _, seen := bySymbol[sym]; !seen {
				bySymbol[sym] = rec
			}
		}
	}

	used := make(map[*models.NormalizedRecord]bool, len(fallback))
	out := make([]*models.NormalizedRecord, 0, len(primary)+len(fallback))
	for _, rec := range primary {
		match := bySymbol[rec.Text(models.FieldSymbol)]
		if match != nil && !used[match] {
			used[match] = true
			out = append(out, models.Merge(rec, match))
			continue
		}
		out = append(out, rec.Clone())
	}
	for _, rec := range fallback {
		if !used[rec] {
			out = append(out, rec.Clone())
		}
	}
	return out
}
