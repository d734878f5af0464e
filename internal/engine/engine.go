// Package engine turns raw vendor messages into canonical records using the
// field mappings held in the catalog store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"exchangecatalog/internal/pathexpr"
	"exchangecatalog/internal/store"
	"exchangecatalog/internal/transform"
	"exchangecatalog/logger"
	"exchangecatalog/models"
)

var jsonAPI = jsoniter.Config{
	EscapeHTML: true,
	UseNumber:  true,
}.Froze()

// Observer receives engine activity. Implementations must be safe for
// concurrent use.
type Observer interface {
	RuleLookup(vendor string, dt models.DataType, src models.SourceType, hit bool)
	Normalized(rec *models.NormalizedRecord, elapsed time.Duration)
	Failed(vendor string, dt models.DataType, src models.SourceType, err error)
}

type nopObserver struct{}

func (nopObserver) RuleLookup(string, models.DataType, models.SourceType, bool) {}
func (nopObserver) Normalized(*models.NormalizedRecord, time.Duration)          {}
func (nopObserver) Failed(string, models.DataType, models.SourceType, error)    {}

// Engine is safe for concurrent use. Its only mutable state is the rule cache.
type Engine struct {
	store store.Store
	cache *ruleCache
	log   *logger.Entry
	now   func() time.Time
	obs   Observer
}

type Option func(*Engine)

// WithLogger replaces the global logger.
func WithLogger(l *logger.Log) Option {
	return func(e *Engine) { e.log = l.WithComponent("engine") }
}

// WithClock sets the clock used for derived timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.obs = o
		}
	}
}

// New creates an engine reading rules from st.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		cache: newRuleCache(),
		log:   logger.GetLogger().WithComponent("engine"),
		now:   time.Now,
		obs:   nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CallOption tunes a single normalization call.
type CallOption func(*callOptions)

type callOptions struct {
	vars map[string]string
}

// WithVars supplies values for "{name}" path placeholders, e.g. the Kraken
// pair a REST response is keyed by.
func WithVars(vars map[string]string) CallOption {
	return func(o *callOptions) { o.vars = vars }
}

func collect(opts []CallOption) callOptions {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	return co
}

func (e *Engine) rules(ctx context.Context, vendor string, dt models.DataType, src models.SourceType) (*ruleSet, error) {
	if vendor == "" {
		return nil, fmt.Errorf("%w: empty vendor name", ErrUnknownVendor)
	}
	if src != models.SourceREST && src != models.SourceWebSocket {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidSourceType, src)
	}
	key := ruleKey{vendor: vendor, dataType: dt, source: src}
	rs, hit, err := e.cache.load(ctx, key, func(ctx context.Context) (*ruleSet, error) {
		members, err := e.store.DataTypeFields(ctx, dt)
		if err != nil {
			return nil, err
		}
		mappings, err := e.store.ActiveMappings(ctx, vendor, dt, src)
		if err != nil {
			return nil, err
		}
		rs, err := compileRuleSet(key, members, mappings, e.log.WithFields(logger.Fields{
			"vendor": vendor, "data_type": dt, "source_type": src,
		}))
		if err != nil {
			return nil, err
		}
		e.log.WithFields(logger.Fields{
			"vendor":      vendor,
			"data_type":   dt,
			"source_type": src,
			"rules":       rs.mappings,
			"batch":       rs.batchRoot != nil,
		}).Debug("rule set loaded")
		return rs, nil
	})
	e.obs.RuleLookup(vendor, dt, src, hit)
	return rs, err
}

// Normalize converts one raw message. A message whose rules address a batch
// root ("data[].x") must hold at most one element there; an empty root maps
// no element fields, and an absent root means the input is the element.
func (e *Engine) Normalize(ctx context.Context, input any, vendor string, dt models.DataType, src models.SourceType, opts ...CallOption) (*models.NormalizedRecord, error) {
	rs, err := e.rules(ctx, vendor, dt, src)
	if err != nil {
		e.obs.Failed(vendor, dt, src, err)
		return nil, err
	}
	rec, err := e.single(rs, input, collect(opts).vars, -1)
	if err != nil {
		e.obs.Failed(vendor, dt, src, err)
		return nil, err
	}
	return rec, nil
}

// NormalizeBatch normalizes each input independently with one rule lookup.
// The first transformation failure aborts the batch; its error carries the
// element index.
func (e *Engine) NormalizeBatch(ctx context.Context, inputs []any, vendor string, dt models.DataType, src models.SourceType, opts ...CallOption) ([]*models.NormalizedRecord, error) {
	rs, err := e.rules(ctx, vendor, dt, src)
	if err != nil {
		e.obs.Failed(vendor, dt, src, err)
		return nil, err
	}
	vars := collect(opts).vars
	out := make([]*models.NormalizedRecord, 0, len(inputs))
	for i, in := range inputs {
		rec, err := e.single(rs, in, vars, i)
		if err != nil {
			e.obs.Failed(vendor, dt, src, err)
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// NormalizeAll accepts any message shape and returns every record in it:
// a batch root is expanded per element, a top-level sequence of objects or
// arrays is normalized element by element, anything else yields one record.
func (e *Engine) NormalizeAll(ctx context.Context, input any, vendor string, dt models.DataType, src models.SourceType, opts ...CallOption) ([]*models.NormalizedRecord, error) {
	rs, err := e.rules(ctx, vendor, dt, src)
	if err != nil {
		e.obs.Failed(vendor, dt, src, err)
		return nil, err
	}
	vars := collect(opts).vars

	var out []*models.NormalizedRecord
	switch items, batch := e.expand(rs, input, vars); {
	case batch && rs.batchRoot != nil:
		for i, item := range items {
			rec, err := e.apply(rs, input, item, vars, i)
			if err != nil {
				e.obs.Failed(vendor, dt, src, err)
				return nil, err
			}
			out = append(out, rec)
		}
	case batch:
		for i, item := range items {
			rec, err := e.single(rs, item, vars, i)
			if err != nil {
				e.obs.Failed(vendor, dt, src, err)
				return nil, err
			}
			out = append(out, rec)
		}
	default:
		rec, err := e.single(rs, input, vars, -1)
		if err != nil {
			e.obs.Failed(vendor, dt, src, err)
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// NormalizeJSON decodes raw (numbers kept exact) and calls NormalizeAll.
func (e *Engine) NormalizeJSON(ctx context.Context, raw []byte, vendor string, dt models.DataType, src models.SourceType, opts ...CallOption) ([]*models.NormalizedRecord, error) {
	var input any
	if err := jsonAPI.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	return e.NormalizeAll(ctx, input, vendor, dt, src, opts...)
}

// expand finds the elements a message fans out over.
func (e *Engine) expand(rs *ruleSet, input any, vars map[string]string) ([]any, bool) {
	if rs.batchRoot != nil {
		seq, ok := rs.batchRoot.Resolve(input, vars)
		if !ok {
			return nil, false
		}
		return pathexpr.Elements(seq)
	}
	items, ok := input.([]any)
	if !ok || len(items) == 0 {
		return nil, false
	}
	for _, it := range items {
		switch it.(type) {
		case map[string]any, []any:
		default:
			return nil, false
		}
	}
	return items, true
}

func (e *Engine) single(rs *ruleSet, input any, vars map[string]string, index int) (*models.NormalizedRecord, error) {
	element := input
	if rs.batchRoot != nil {
		if items, ok := e.expand(rs, input, vars); ok {
			switch len(items) {
			case 0:
				// an empty batch leaves every element field unmapped
				element = nil
			case 1:
				element = items[0]
			default:
				return nil, fmt.Errorf("%w: %d elements under %q", ErrBatchInput, len(items), rs.batchRoot.String())
			}
		}
	}
	return e.apply(rs, input, element, vars, index)
}

// apply runs every field's candidates against the message. whole is the full
// message and element the batch element element rules read from.
func (e *Engine) apply(rs *ruleSet, whole, element any, vars map[string]string, index int) (*models.NormalizedRecord, error) {
	start := time.Now()
	rec := models.NewRecord(rs.key.vendor, rs.key.dataType, rs.key.source, rs.members)
	for _, fr := range rs.fields {
		if len(fr.candidates) == 0 {
			continue
		}
		resolved := false
		for _, r := range fr.candidates {
			var raw any
			var ok bool
			if r.element {
				raw, ok = r.rest.Resolve(element, vars)
			} else {
				raw, ok = r.path.Resolve(whole, vars)
			}
			if !ok {
				continue
			}
			v, err := r.pipelineFor(raw).Apply(raw)
			if err != nil {
				return nil, &TransformationError{
					Vendor: rs.key.vendor,
					Field:  fr.field,
					Path:   r.mapping.VendorFieldPath,
					Value:  raw,
					Index:  index,
					Err:    err,
				}
			}
			rec.Set(fr.field, transform.Coerce(v, fr.fieldType))
			resolved = true
			break
		}
		if !resolved {
			rec.MarkUnresolved(fr.field)
		}
	}

	rec.Derive(models.FieldExchange, rs.key.vendor)
	if _, ok := rec.Fields[models.FieldTimestamp]; !ok {
		rec.Derive(models.FieldTimestamp, e.now().UTC())
	}
	rec.Finalize()
	e.obs.Normalized(rec, time.Since(start))
	return rec, nil
}

// Validate loads every rule set of vendor so that configuration errors
// surface before traffic does. It returns how many rule sets loaded.
func (e *Engine) Validate(ctx context.Context, vendor string) (int, error) {
	loaded := 0
	var errs []error
	for _, dt := range models.AllDataTypes() {
		for _, src := range []models.SourceType{models.SourceREST, models.SourceWebSocket} {
			_, err := e.rules(ctx, vendor, dt, src)
			switch {
			case err == nil:
				loaded++
			case errors.Is(err, ErrUnknownVendor), errors.Is(err, ErrUnknownDataType):
			default:
				errs = append(errs, fmt.Errorf("%s/%s: %w", dt, src, err))
			}
		}
	}
	return loaded, errors.Join(errs...)
}

// CoverageStats reports catalog coverage for vendor per data type. It reads
// the store directly and does not touch the rule cache.
func (e *Engine) CoverageStats(ctx context.Context, vendor string) (map[models.DataType]models.CoverageStats, error) {
	return e.store.CoverageStats(ctx, vendor)
}

// Vendors lists the vendors known to the catalog.
func (e *Engine) Vendors(ctx context.Context) ([]string, error) {
	return e.store.Vendors(ctx)
}

// Invalidate drops cached rule sets for vendor. Callers that edit the
// catalog own calling it.
func (e *Engine) Invalidate(vendor string) int {
	n := e.cache.invalidate(vendor)
	e.log.WithFields(logger.Fields{"vendor": vendor, "entries": n}).Info("rule cache invalidated")
	return n
}

func (e *Engine) InvalidateAll() int {
	n := e.cache.invalidateAll()
	e.log.WithFields(logger.Fields{"entries": n}).Info("rule cache cleared")
	return n
}

func (e *Engine) Stats() CacheStats {
	return e.cache.stats()
}
