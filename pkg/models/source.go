package models

// FieldType is the declared type of a source column.
type FieldType string

const (
	FieldTypeText   FieldType = "text"
	FieldTypeNumber FieldType = "number"
	FieldTypeDate   FieldType = "date"
)

// SourceField maps a source column to a record field.
type SourceField struct {
	Name   string    `yaml:"name" json:"name" validate:"required"`
	Column string    `yaml:"column" json:"column"`
	Type   FieldType `yaml:"type" json:"type" validate:"omitempty,oneof=text number date"`
}

// ColumnName returns the column, defaulting to the field name.
func (f SourceField) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// SourceQuery describes how one record collection is read from the source store.
type SourceQuery struct {
	Name     string        `yaml:"name" json:"name" validate:"required"`
	Table    string        `yaml:"table" json:"table" validate:"required"`
	IDColumn string        `yaml:"id_column" json:"id_column"`
	Fields   []SourceField `yaml:"fields" json:"fields" validate:"required,min=1,dive"`
	Where    string        `yaml:"where" json:"where"`
	Limit    int           `yaml:"limit" json:"limit" validate:"gte=0"`
}

// ID returns the id column, defaulting to "id".
func (q SourceQuery) ID() string {
	if q.IDColumn != "" {
		return q.IDColumn
	}
	return "id"
}
