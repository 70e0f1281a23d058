// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import "errors"

// Model validation errors
var (
	// ErrInvalidModel indicates a Model failed validation.
	ErrInvalidModel = errors.New("invalid model")

	// ErrEmptyModelName indicates the model Name field is empty.
	ErrEmptyModelName = errors.New("model name cannot be empty")

	// ErrMissingIDField indicates the id property is not a declared field.
	ErrMissingIDField = errors.New("id property is not a declared field")

	// ErrTransientIDField indicates the id field is not persisted.
	ErrTransientIDField = errors.New("id field must be persisted")

	// ErrDuplicateField indicates two fields share a name.
	ErrDuplicateField = errors.New("duplicate field name")

	// ErrInvalidFieldName indicates a field name is not a plain identifier.
	ErrInvalidFieldName = errors.New("invalid field name")

	// ErrInvalidFieldType indicates an unknown field type tag.
	ErrInvalidFieldType = errors.New("invalid field type")
)
