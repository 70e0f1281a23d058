package core

import (
	"reflect"
	"sort"

	"github.com/google/uuid"
)

// Record is an in-memory entity instance subject to persistence.
//
// A Record tracks the original value of every field changed since it was
// last committed, and whether it has ever been persisted (phantom records
// have not). Records are not safe for concurrent mutation; a record must
// not take part in two in-flight operations at once.
type Record struct {
	model    *Model
	data     Data
	modified map[string]any
	phantom  bool
	erased   bool
}

// NewRecord creates a phantom record. When the model's id field is a string
// (or untyped) and data carries no id, a random UUID is assigned.
func NewRecord(model *Model, data Data) *Record {
	r := &Record{
		model:    model,
		data:     data.Clone(),
		modified: make(map[string]any),
		phantom:  true,
	}
	if r.data == nil {
		r.data = make(Data)
	}
	if r.ID() == nil {
		idField, ok := model.IDField()
		if !ok || idField.Type == FieldTypeString || idField.Type == FieldTypeAuto {
			r.data[model.IDName()] = uuid.NewString()
		}
	}
	return r
}

// LoadRecord creates a record for data read back from storage.
func LoadRecord(model *Model, data Data) *Record {
	r := &Record{
		model:    model,
		data:     data.Clone(),
		modified: make(map[string]any),
	}
	if r.data == nil {
		r.data = make(Data)
	}
	return r
}

// Model returns the record's model.
func (r *Record) Model() *Model {
	return r.model
}

// ID returns the record identifier, or nil when none is set.
func (r *Record) ID() any {
	return r.data[r.model.IDName()]
}

// SetID assigns the identifier without marking the id field modified.
func (r *Record) SetID(id any) {
	r.data[r.model.IDName()] = id
}

// Get returns the current value of a field.
func (r *Record) Get(name string) any {
	return r.data[name]
}

// Has reports whether the field is present on the record.
func (r *Record) Has(name string) bool {
	_, ok := r.data[name]
	return ok
}

// Set changes a field value and tracks the modification. Setting a field
// back to its committed value clears the modification.
func (r *Record) Set(name string, value any) {
	current, present := r.data[name]
	if present && reflect.DeepEqual(current, value) {
		return
	}
	if original, seen := r.modified[name]; seen {
		if reflect.DeepEqual(original, value) {
			delete(r.modified, name)
		}
	} else {
		r.modified[name] = current
	}
	r.data[name] = value
}

// Data returns a copy of the field-value map.
func (r *Record) Data() Data {
	return r.data.Clone()
}

// Modified returns the names of fields changed since the last commit, sorted.
func (r *Record) Modified() []string {
	names := make([]string, 0, len(r.modified))
	for name := range r.modified {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsModified reports whether a field changed since the last commit.
func (r *Record) IsModified(name string) bool {
	_, ok := r.modified[name]
	return ok
}

// IsDirty reports whether any field changed since the last commit.
func (r *Record) IsDirty() bool {
	return len(r.modified) > 0
}

// IsPhantom reports whether the record has never been persisted.
func (r *Record) IsPhantom() bool {
	return r.phantom
}

// IsErased reports whether the record was removed from storage.
func (r *Record) IsErased() bool {
	return r.erased
}

// Commit clears modification tracking and marks the record persisted.
func (r *Record) Commit() {
	r.phantom = false
	r.modified = make(map[string]any)
}

// MarkErased flags the record as removed from storage.
func (r *Record) MarkErased() {
	r.erased = true
}
