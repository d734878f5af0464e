package store

import "gorm.io/gorm"

// Vendor is a cataloged exchange.
type Vendor struct {
	ID           uint   `gorm:"column:vendor_id;primaryKey"`
	Name         string `gorm:"column:vendor_name;size:64;uniqueIndex;not null"`
	DisplayName  string `gorm:"column:display_name;size:128"`
	BaseURL      string `gorm:"column:base_url"`
	WebSocketURL string `gorm:"column:ws_url"`
	DocsURL      string `gorm:"column:docs_url"`
	Status       string `gorm:"column:status;size:32"`
}

func (Vendor) TableName() string { return "vendors" }

// CanonicalField is one entry of the canonical field dictionary.
type CanonicalField struct {
	ID          uint   `gorm:"column:canonical_field_id;primaryKey"`
	Name        string `gorm:"column:field_name;size:64;uniqueIndex;not null"`
	DataType    string `gorm:"column:data_type;size:32"`
	Description string `gorm:"column:description"`
}

func (CanonicalField) TableName() string { return "canonical_fields" }

// CanonicalDataType is one of ticker, order_book, trade, candle.
type CanonicalDataType struct {
	ID   uint   `gorm:"column:data_type_id;primaryKey"`
	Name string `gorm:"column:name;size:32;uniqueIndex;not null"`
}

func (CanonicalDataType) TableName() string { return "canonical_data_types" }

// DataTypeField records schema membership.
type DataTypeField struct {
	DataTypeID       uint `gorm:"column:data_type_id;primaryKey;autoIncrement:false"`
	CanonicalFieldID uint `gorm:"column:canonical_field_id;primaryKey;autoIncrement:false"`
	IsRequired       bool `gorm:"column:is_required;not null"`
}

func (DataTypeField) TableName() string { return "data_type_fields" }

// FieldMappingRow is the persisted form of models.FieldMapping.
type FieldMappingRow struct {
	ID                 uint    `gorm:"column:mapping_id;primaryKey"`
	VendorID           uint    `gorm:"column:vendor_id;not null;index:idx_mapping_lookup"`
	CanonicalFieldID   uint    `gorm:"column:canonical_field_id;not null"`
	SourceType         string  `gorm:"column:source_type;size:16;not null;index:idx_mapping_lookup"`
	EntityType         string  `gorm:"column:entity_type;size:32;not null;index:idx_mapping_lookup"`
	VendorFieldPath    string  `gorm:"column:vendor_field_path;not null"`
	TransformationRule *string `gorm:"column:transformation_rule"`
	Priority           int     `gorm:"column:priority;not null"`
	IsActive           bool    `gorm:"column:is_active;not null"`
}

func (FieldMappingRow) TableName() string { return "field_mappings" }

// Migrate creates or updates every catalog table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Vendor{},
		&CanonicalField{},
		&CanonicalDataType{},
		&DataTypeField{},
		&FieldMappingRow{},
	)
}
