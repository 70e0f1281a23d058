package storage

import (
	"fmt"

	"github.com/shepsii/dbproxies/core"
)

// Relational storage types.
const (
	TypeText    = "TEXT"
	TypeInteger = "INTEGER"
	TypeReal    = "REAL"
	TypeNumeric = "NUMERIC"
)

// Date formats understood by the codec.
const (
	// DateFormatTime stores dates as epoch milliseconds.
	DateFormatTime = "time"
	// DateFormatTimestamp stores dates as epoch seconds.
	DateFormatTimestamp = "timestamp"
)

// DefaultImplicitColumn names the column holding schema-less fields.
const DefaultImplicitColumn = "implicit"

// Column is one persisted column of a Schema.
type Column struct {
	Name string
	Type core.FieldType
	// StorageType is the relational type the column maps to.
	StorageType string
	// DateFormat is the resolved format for date columns.
	DateFormat string
	// Implicit marks the synthetic column holding schema-less fields.
	Implicit bool
}

// Schema is the derived, read-only storage layout of one model.
type Schema struct {
	Model *core.Model
	// Name is the table or store name.
	Name       string
	PrimaryKey string
	// Columns holds the persisted columns, primary key first, then declared
	// order, then the implicit column when enabled.
	Columns []Column
	// Indices names single-field secondary indices (object store only).
	Indices []string
	// ImplicitColumn is empty unless implicit fields are enabled.
	ImplicitColumn    string
	DefaultDateFormat string
}

// SchemaOption configures schema derivation.
type SchemaOption func(*Schema) error

// WithName overrides the table or store name.
// Default is the part of the model name after the last dot.
func WithName(name string) SchemaOption {
	return func(s *Schema) error {
		if name == "" {
			return nil
		}
		if !core.IsIdentifier(name) {
			return fmt.Errorf("%w: table name %q", ErrInvalidSchema, name)
		}
		s.Name = name
		return nil
	}
}

// WithImplicitFields enables capture of schema-less fields into one
// synthetic column. An empty column name selects DefaultImplicitColumn.
func WithImplicitFields(column string) SchemaOption {
	return func(s *Schema) error {
		if column == "" {
			column = DefaultImplicitColumn
		}
		if !core.IsIdentifier(column) {
			return fmt.Errorf("%w: implicit column %q", ErrInvalidSchema, column)
		}
		s.ImplicitColumn = column
		return nil
	}
}

// WithIndices declares single-field secondary indices.
func WithIndices(fields ...string) SchemaOption {
	return func(s *Schema) error {
		s.Indices = append(s.Indices, fields...)
		return nil
	}
}

// WithDefaultDateFormat sets the date format of date fields that carry no
// override. Default is DateFormatTime.
func WithDefaultDateFormat(format string) SchemaOption {
	return func(s *Schema) error {
		if format != "" {
			s.DefaultDateFormat = format
		}
		return nil
	}
}

// DeriveSchema computes the persisted layout of a model.
func DeriveSchema(model *core.Model, opts ...SchemaOption) (*Schema, error) {
	if err := core.ValidateModel(model); err != nil {
		return nil, err
	}
	if !core.IsIdentifier(model.ShortName()) {
		return nil, fmt.Errorf("%w: table name %q", ErrInvalidSchema, model.ShortName())
	}

	s := &Schema{
		Model:             model,
		Name:              model.ShortName(),
		PrimaryKey:        model.IDName(),
		DefaultDateFormat: DateFormatTime,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	idField, _ := model.IDField()
	s.Columns = append(s.Columns, s.column(idField))
	for _, f := range model.Fields {
		if f.Name == s.PrimaryKey || !f.Persisted() {
			continue
		}
		s.Columns = append(s.Columns, s.column(f))
	}

	if s.ImplicitColumn != "" {
		if model.IsExplicit(s.ImplicitColumn) {
			return nil, fmt.Errorf("%w: implicit column %q collides with a declared field", ErrInvalidSchema, s.ImplicitColumn)
		}
		s.Columns = append(s.Columns, Column{
			Name:        s.ImplicitColumn,
			Type:        core.FieldTypeObject,
			StorageType: TypeText,
			Implicit:    true,
		})
	}

	indices, err := s.normalizeIndices()
	if err != nil {
		return nil, err
	}
	s.Indices = indices

	return s, nil
}

func (s *Schema) column(f core.Field) Column {
	c := Column{
		Name:        f.Name,
		Type:        f.Type,
		StorageType: StorageType(f.Type),
	}
	if f.Type == core.FieldTypeDate {
		c.DateFormat = f.DateFormat
		if c.DateFormat == "" {
			c.DateFormat = s.DefaultDateFormat
		}
	}
	return c
}

func (s *Schema) normalizeIndices() ([]string, error) {
	seen := make(map[string]bool, len(s.Indices))
	var out []string
	for _, name := range s.Indices {
		if seen[name] {
			continue
		}
		c, ok := s.Column(name)
		if !ok || c.Implicit {
			return nil, fmt.Errorf("%w: %q is not a persisted field", ErrInvalidIndex, name)
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

// StorageType maps a field type to its relational storage type.
func StorageType(t core.FieldType) string {
	switch t {
	case core.FieldTypeInt:
		return TypeInteger
	case core.FieldTypeFloat:
		return TypeReal
	case core.FieldTypeBool:
		return TypeNumeric
	}
	return TypeText
}

// Column looks up a persisted column by name.
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the persisted column names in order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// IsExplicit reports whether name is a declared model field. Anything
// else present on a record is an implicit field.
func (s *Schema) IsExplicit(name string) bool {
	return s.Model.IsExplicit(name)
}

// HasIndex reports whether a secondary index exists on the field.
func (s *Schema) HasIndex(name string) bool {
	for _, idx := range s.Indices {
		if idx == name {
			return true
		}
	}
	return false
}

// ImplicitEnabled reports whether schema-less fields are captured.
func (s *Schema) ImplicitEnabled() bool {
	return s.ImplicitColumn != ""
}

// IDColumn returns the primary key column.
func (s *Schema) IDColumn() Column {
	return s.Columns[0]
}
