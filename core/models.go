package core

import (
	"strings"
)

// FieldType is the semantic type tag of a model field.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeInt    FieldType = "int"
	FieldTypeFloat  FieldType = "float"
	FieldTypeBool   FieldType = "bool"
	FieldTypeDate   FieldType = "date"
	FieldTypeAuto   FieldType = "auto"
	FieldTypeArray  FieldType = "array"
	FieldTypeObject FieldType = "object"
)

// ParseFieldType maps a type tag, including the common aliases
// ("integer", "number", "boolean"), to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string":
		return FieldTypeString, nil
	case "int", "integer":
		return FieldTypeInt, nil
	case "float", "number":
		return FieldTypeFloat, nil
	case "bool", "boolean":
		return FieldTypeBool, nil
	case "date":
		return FieldTypeDate, nil
	case "auto", "":
		return FieldTypeAuto, nil
	case "array":
		return FieldTypeArray, nil
	case "object":
		return FieldTypeObject, nil
	}
	return "", ErrInvalidFieldType
}

// IsStructured reports whether values of this type are stored as JSON text.
func (t FieldType) IsStructured() bool {
	return t == FieldTypeArray || t == FieldTypeObject
}

// Field describes one declared field of a model.
type Field struct {
	Name string
	Type FieldType
	// Transient fields live on records but are never written to storage.
	Transient bool
	// DateFormat overrides the proxy's default date format for date fields.
	DateFormat string
}

// Persisted reports whether the field is written to storage.
func (f Field) Persisted() bool {
	return !f.Transient
}

// Model is the read-only metadata of an entity type.
type Model struct {
	// Name is the entity name, optionally namespaced with dots ("App.model.Task").
	Name       string
	IDProperty string
	Fields     []Field
}

// DefaultIDProperty is used when a model does not name its id field.
const DefaultIDProperty = "id"

// IDField returns the field holding the record identifier.
func (m *Model) IDField() (Field, bool) {
	return m.Field(m.idProperty())
}

// Field looks up a declared field by name.
func (m *Model) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IsExplicit reports whether name is a declared field, persisted or not.
func (m *Model) IsExplicit(name string) bool {
	_, ok := m.Field(name)
	return ok
}

// ShortName returns the part of the model name after the last dot.
// It is the default table and store name.
func (m *Model) ShortName() string {
	return m.Name[strings.LastIndex(m.Name, ".")+1:]
}

func (m *Model) idProperty() string {
	if m.IDProperty == "" {
		return DefaultIDProperty
	}
	return m.IDProperty
}

// IDName returns the id property name, applying the default.
func (m *Model) IDName() string {
	return m.idProperty()
}

// Data is a field-name to value map of one entity.
type Data map[string]any

// Clone returns a shallow copy of d.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
