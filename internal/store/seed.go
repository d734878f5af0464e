package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"exchangecatalog/models"
)

// Catalog is the YAML seed describing vendors, schema membership and field
// mappings.
type Catalog struct {
	Schema  map[string]SchemaSeed `yaml:"schema"`
	Vendors []VendorSeed          `yaml:"vendors"`
}

type SchemaSeed struct {
	Required []string `yaml:"required"`
	Optional []string `yaml:"optional"`
}

type VendorSeed struct {
	Name         string        `yaml:"name"`
	DisplayName  string        `yaml:"display_name"`
	BaseURL      string        `yaml:"base_url"`
	WebSocketURL string        `yaml:"ws_url"`
	DocsURL      string        `yaml:"docs_url"`
	Status       string        `yaml:"status"`
	Mappings     []MappingSeed `yaml:"mappings"`
}

type MappingSeed struct {
	Field     string `yaml:"field"`
	Path      string `yaml:"path"`
	Source    string `yaml:"source"`
	Entity    string `yaml:"entity"`
	Transform any    `yaml:"transform"`
	Priority  int    `yaml:"priority"`
	Active    *bool  `yaml:"active"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML.
func ParseSeed(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if _, err := c.SchemaOrDefault(); err != nil {
		return nil, err
	}
	if _, err := c.Mappings(); err != nil {
		return nil, err
	}
	return &c, nil
}

// SchemaOrDefault returns the declared schema, or models.DefaultSchema when
// the seed declares none.
func (c *Catalog) SchemaOrDefault() (models.Schema, error) {
	if len(c.Schema) == 0 {
		return models.DefaultSchema, nil
	}
	out := make(models.Schema, len(c.Schema))
	for name, s := range c.Schema {
		dt, err := models.ParseDataType(name)
		if err != nil {
			return nil, err
		}
		var req, opt []models.Field
		for _, list := range []struct {
			names []string
			into  *[]models.Field
		}{{s.Required, &req}, {s.Optional, &opt}} {
			for _, n := range list.names {
				f, _, ok := models.LookupField(n)
				if !ok {
					return nil, fmt.Errorf("%w: schema %s names unknown field %q", models.ErrInvalidMapping, name, n)
				}
				*list.into = append(*list.into, f)
			}
		}
		for _, f := range req {
			out[dt] = append(out[dt], models.FieldRequirement{Field: f, Required: true})
		}
		for _, f := range opt {
			out[dt] = append(out[dt], models.FieldRequirement{Field: f})
		}
	}
	return out, nil
}

// Mappings flattens every vendor's mappings, assigning IDs in file order.
func (c *Catalog) Mappings() ([]models.FieldMapping, error) {
	var out []models.FieldMapping
	seen := map[string]bool{}
	for _, v := range c.Vendors {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: vendor without a name", models.ErrInvalidMapping)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: vendor %q declared twice", models.ErrInvalidMapping, name)
		}
		seen[name] = true
		for i, ms := range v.Mappings {
			m, err := ms.toMapping(name)
			if err != nil {
				return nil, fmt.Errorf("vendor %s mapping %d: %w", name, i, err)
			}
			m.ID = int64(len(out) + 1)
			out = append(out, m)
		}
	}
	return out, nil
}

func (ms MappingSeed) toMapping(vendor string) (models.FieldMapping, error) {
	f, _, ok := models.LookupField(ms.Field)
	if !ok {
		return models.FieldMapping{}, fmt.Errorf("%w: unknown field %q", models.ErrInvalidMapping, ms.Field)
	}
	if strings.TrimSpace(ms.Path) == "" {
		return models.FieldMapping{}, fmt.Errorf("%w: %s has no path", models.ErrInvalidMapping, ms.Field)
	}
	src, err := models.ParseSourceType(ms.Source)
	if err != nil {
		return models.FieldMapping{}, err
	}
	dt, err := models.ParseDataType(ms.Entity)
	if err != nil {
		return models.FieldMapping{}, err
	}
	m := models.FieldMapping{
		Vendor:          vendor,
		Field:           f,
		SourceType:      src,
		EntityType:      dt,
		VendorFieldPath: ms.Path,
		Priority:        ms.Priority,
		Active:          ms.Active == nil || *ms.Active,
	}
	if ms.Transform != nil {
		raw, err := json.Marshal(ms.Transform)
		if err != nil {
			return models.FieldMapping{}, fmt.Errorf("%w: transform for %s: %v", models.ErrInvalidMapping, ms.Field, err)
		}
		m.Transformation = raw
	}
	return m, nil
}

// VendorNames returns the declared vendors sorted by name.
func (c *Catalog) VendorNames() []string {
	out := make([]string, 0, len(c.Vendors))
	for _, v := range c.Vendors {
		out = append(out, strings.TrimSpace(v.Name))
	}
	sort.Strings(out)
	return out
}

// Seed writes the catalog into db. Running it twice leaves one copy of every
// row; existing rows are updated in place.
func Seed(ctx context.Context, db *gorm.DB, c *Catalog) error {
	schema, err := c.SchemaOrDefault()
	if err != nil {
		return err
	}
	mappings, err := c.Mappings()
	if err != nil {
		return err
	}
	if err := Migrate(db.WithContext(ctx)); err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fieldIDs := map[models.Field]uint{}
		for _, f := range models.AllFields() {
			row := CanonicalField{}
			err := tx.Where(CanonicalField{Name: string(f)}).
				Assign(map[string]any{"data_type": string(f.Type())}).
				FirstOrCreate(&row).Error
			if err != nil {
				return fmt.Errorf("seed field %s: %w", f, err)
			}
			fieldIDs[f] = row.ID
		}

		for _, dt := range models.AllDataTypes() {
			members, ok := schema[dt]
			if !ok {
				continue
			}
			row := CanonicalDataType{}
			if err := tx.Where(CanonicalDataType{Name: string(dt)}).FirstOrCreate(&row).Error; err != nil {
				return fmt.Errorf("seed data type %s: %w", dt, err)
			}
			if err := tx.Where("data_type_id = ?", row.ID).Delete(&DataTypeField{}).Error; err != nil {
				return fmt.Errorf("reset %s membership: %w", dt, err)
			}
			for _, m := range members {
				link := DataTypeField{DataTypeID: row.ID, CanonicalFieldID: fieldIDs[m.Field], IsRequired: m.Required}
				if err := tx.Create(&link).Error; err != nil {
					return fmt.Errorf("seed %s.%s: %w", dt, m.Field, err)
				}
			}
		}

		vendorIDs := map[string]uint{}
		for _, v := range c.Vendors {
			status := v.Status
			if status == "" {
				status = "active"
			}
			row := Vendor{}
			err := tx.Where(Vendor{Name: strings.TrimSpace(v.Name)}).
				Assign(map[string]any{
					"display_name": v.DisplayName,
					"base_url":     v.BaseURL,
					"ws_url":       v.WebSocketURL,
					"docs_url":     v.DocsURL,
					"status":       status,
				}).
				FirstOrCreate(&row).Error
			if err != nil {
				return fmt.Errorf("seed vendor %s: %w", v.Name, err)
			}
			vendorIDs[row.Name] = row.ID
		}

		for _, m := range mappings {
			var rule *string
			if len(m.Transformation) > 0 {
				s := string(m.Transformation)
				rule = &s
			}
			row := FieldMappingRow{}
			err := tx.Where(map[string]any{
				"vendor_id":          vendorIDs[m.Vendor],
				"canonical_field_id": fieldIDs[m.Field],
				"source_type":        string(m.SourceType),
				"entity_type":        string(m.EntityType),
				"vendor_field_path":  m.VendorFieldPath,
			}).Assign(map[string]any{
				"transformation_rule": rule,
				"priority":            m.Priority,
				"is_active":           m.Active,
			}).FirstOrCreate(&row).Error
			if err != nil {
				return fmt.Errorf("seed mapping %s: %w", m, err)
			}
		}
		return nil
	})
}
