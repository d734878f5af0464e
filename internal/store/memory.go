package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"exchangecatalog/models"
)

// MemoryStore serves the catalog from memory. It is loaded from the seed file
// when no database is configured and backs most tests.
type MemoryStore struct {
	mu       sync.RWMutex
	schema   models.Schema
	vendors  map[string]struct{}
	mappings []models.FieldMapping
	nextID   int64
	queries  int
}

// NewMemoryStore builds a store over schema and mappings. Vendors named by a
// mapping are registered automatically.
func NewMemoryStore(schema models.Schema, mappings []models.FieldMapping, vendors ...string) *MemoryStore {
	s := &MemoryStore{schema: schema, vendors: map[string]struct{}{}}
	for _, v := range vendors {
		s.vendors[v] = struct{}{}
	}
	for _, m := range mappings {
		s.add(m)
	}
	return s
}

// MemoryStoreFromSeed loads a validated seed catalog.
func MemoryStoreFromSeed(c *Catalog) (*MemoryStore, error) {
	schema, err := c.SchemaOrDefault()
	if err != nil {
		return nil, err
	}
	mappings, err := c.Mappings()
	if err != nil {
		return nil, err
	}
	return NewMemoryStore(schema, mappings, c.VendorNames()...), nil
}

func (s *MemoryStore) add(m models.FieldMapping) models.FieldMapping {
	if m.ID == 0 {
		m.ID = s.nextID + 1
	}
	if m.ID > s.nextID {
		s.nextID = m.ID
	}
	s.vendors[m.Vendor] = struct{}{}
	s.mappings = append(s.mappings, m)
	return m
}

// AddMapping inserts m and returns it with its assigned ID.
func (s *MemoryStore) AddMapping(m models.FieldMapping) models.FieldMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(m)
}

// SetActive toggles a mapping; it reports whether the ID exists.
func (s *MemoryStore) SetActive(id int64, active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.mappings {
		if s.mappings[i].ID == id {
			s.mappings[i].Active = active
			return true
		}
	}
	return false
}

// Queries returns how many mapping lookups have been served.
func (s *MemoryStore) Queries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries
}

func (s *MemoryStore) Vendors(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.vendors))
	for v := range s.vendors {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) DataTypeFields(ctx context.Context, dt models.DataType) ([]models.FieldRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.FieldRequirement(nil), s.schema[dt]...), nil
}

func (s *MemoryStore) ActiveMappings(ctx context.Context, vendor string, dt models.DataType, src models.SourceType) ([]models.FieldMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	var out []models.FieldMapping
	for _, m := range s.mappings {
		if m.Active && m.Vendor == vendor && m.EntityType == dt && m.SourceType.Applies(src) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CoverageStats(ctx context.Context, vendor string) (map[models.DataType]models.CoverageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.vendors[vendor]; !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownVendor, vendor)
	}
	out := make(map[models.DataType]models.CoverageStats, len(s.schema))
	for dt, members := range s.schema {
		in := make(map[models.Field]bool, len(members))
		for _, m := range members {
			in[m.Field] = true
		}
		mapped := map[models.Field]bool{}
		for _, m := range s.mappings {
			if m.Active && m.Vendor == vendor && m.EntityType == dt && in[m.Field] {
				mapped[m.Field] = true
			}
		}
		out[dt] = NewCoverageStats(len(in), len(mapped))
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
