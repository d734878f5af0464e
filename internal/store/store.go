// Package store is the read side of the mapping catalog: canonical schema
// membership, active field mappings and per-vendor coverage.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"gorm.io/gorm"

	"exchangecatalog/models"
)

// Store is what the normalization engine needs from the catalog. The engine
// never writes through it.
type Store interface {
	Vendors(ctx context.Context) ([]string, error)
	DataTypeFields(ctx context.Context, dt models.DataType) ([]models.FieldRequirement, error)
	ActiveMappings(ctx context.Context, vendor string, dt models.DataType, src models.SourceType) ([]models.FieldMapping, error)
	CoverageStats(ctx context.Context, vendor string) (map[models.DataType]models.CoverageStats, error)
	Close() error
}

// GormStore reads the catalog from PostgreSQL or SQLite through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenGormStore connects using opt.
func OpenGormStore(opt Option) (*GormStore, error) {
	db, err := Open(opt)
	if err != nil {
		return nil, err
	}
	return NewGormStore(db), nil
}

// DB exposes the connection for tooling such as Seed.
func (s *GormStore) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Vendors(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&Vendor{}).Order("vendor_name").Pluck("vendor_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	return names, nil
}

func (s *GormStore) DataTypeFields(ctx context.Context, dt models.DataType) ([]models.FieldRequirement, error) {
	var rows []struct {
		FieldName  string
		IsRequired bool
	}
	err := s.db.WithContext(ctx).
		Table("data_type_fields AS dtf").
		Select("cf.field_name, dtf.is_required").
		Joins("JOIN canonical_fields cf ON cf.canonical_field_id = dtf.canonical_field_id").
		Joins("JOIN canonical_data_types cdt ON cdt.data_type_id = dtf.data_type_id").
		Where("cdt.name = ?", string(dt)).
		Order("dtf.is_required DESC, cf.field_name").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load %s fields: %w", dt, err)
	}
	out := make([]models.FieldRequirement, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.FieldRequirement{Field: models.Field(r.FieldName), Required: r.IsRequired})
	}
	return out, nil
}

type mappingRow struct {
	MappingID          int64
	VendorName         string
	FieldName          string
	SourceType         string
	EntityType         string
	VendorFieldPath    string
	TransformationRule *string
	Priority           int
	IsActive           bool
}

func (s *GormStore) ActiveMappings(ctx context.Context, vendor string, dt models.DataType, src models.SourceType) ([]models.FieldMapping, error) {
	var rows []mappingRow
	err := s.db.WithContext(ctx).
		Table("field_mappings AS fm").
		Select("fm.mapping_id, v.vendor_name, cf.field_name, fm.source_type, fm.entity_type, " +
			"fm.vendor_field_path, fm.transformation_rule, fm.priority, fm.is_active").
		Joins("JOIN vendors v ON v.vendor_id = fm.vendor_id").
		Joins("JOIN canonical_fields cf ON cf.canonical_field_id = fm.canonical_field_id").
		Where("v.vendor_name = ? AND fm.entity_type = ? AND fm.is_active = ?", vendor, string(dt), true).
		Where("fm.source_type IN ?", []string{string(src), string(models.SourceBoth)}).
		Order("fm.priority DESC, fm.mapping_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load %s/%s/%s mappings: %w", vendor, dt, src, err)
	}
	out := make([]models.FieldMapping, 0, len(rows))
	for _, r := range rows {
		m := models.FieldMapping{
			ID:              r.MappingID,
			Vendor:          r.VendorName,
			Field:           models.Field(r.FieldName),
			SourceType:      models.SourceType(r.SourceType),
			EntityType:      models.DataType(r.EntityType),
			VendorFieldPath: r.VendorFieldPath,
			Priority:        r.Priority,
			Active:          r.IsActive,
		}
		if r.TransformationRule != nil && *r.TransformationRule != "" {
			m.Transformation = json.RawMessage(*r.TransformationRule)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *GormStore) CoverageStats(ctx context.Context, vendor string) (map[models.DataType]models.CoverageStats, error) {
	var v Vendor
	err := s.db.WithContext(ctx).Where("vendor_name = ?", vendor).Limit(1).Find(&v).Error
	if err != nil {
		return nil, fmt.Errorf("find vendor %s: %w", vendor, err)
	}
	if v.ID == 0 {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownVendor, vendor)
	}

	var rows []struct {
		DataType      string
		FieldsDefined int
		FieldsMapped  int
	}
	err = s.db.WithContext(ctx).Raw(`
SELECT cdt.name AS data_type,
       COUNT(DISTINCT dtf.canonical_field_id) AS fields_defined,
       COUNT(DISTINCT fm.canonical_field_id) AS fields_mapped
FROM canonical_data_types cdt
JOIN data_type_fields dtf ON dtf.data_type_id = cdt.data_type_id
LEFT JOIN field_mappings fm
  ON fm.canonical_field_id = dtf.canonical_field_id
 AND fm.entity_type = cdt.name
 AND fm.vendor_id = ?
 AND fm.is_active = ?
GROUP BY cdt.name
ORDER BY cdt.name`, v.ID, true).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("coverage for %s: %w", vendor, err)
	}

	out := make(map[models.DataType]models.CoverageStats, len(rows))
	for _, r := range rows {
		out[models.DataType(r.DataType)] = NewCoverageStats(r.FieldsDefined, r.FieldsMapped)
	}
	return out, nil
}

// NewCoverageStats computes the percentage rounded to one decimal place.
func NewCoverageStats(defined, mapped int) models.CoverageStats {
	st := models.CoverageStats{FieldsDefined: defined, FieldsMapped: mapped}
	if defined > 0 {
		st.CoveragePercent = math.Round(float64(mapped)/float64(defined)*1000) / 10
	}
	return st
}
