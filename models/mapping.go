package models

import (
	"encoding/json"
	"fmt"
)

// FieldMapping is one rule saying where a vendor carries a canonical field and
// how to convert it.
type FieldMapping struct {
	ID              int64           `json:"mapping_id"`
	Vendor          string          `json:"vendor"`
	Field           Field           `json:"canonical_field"`
	SourceType      SourceType      `json:"source_type"`
	EntityType      DataType        `json:"entity_type"`
	VendorFieldPath string          `json:"vendor_field_path"`
	Transformation  json.RawMessage `json:"transformation_rule,omitempty"`
	Priority        int             `json:"priority"`
	Active          bool            `json:"is_active"`
}

func (m FieldMapping) String() string {
	return fmt.Sprintf("%s/%s/%s:%s<-%s(p=%d)", m.Vendor, m.EntityType, m.SourceType, m.Field, m.VendorFieldPath, m.Priority)
}
