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

import (
	"fmt"
	"regexp"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether s can be used unquoted as a column or
// property name.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// ValidateModel validates a Model according to domain rules.
//
// Validation rules:
//   - Name must not be empty
//   - Field names must be unique identifiers
//   - Field types must be known
//   - The id property must be a declared, persisted field
func ValidateModel(model *Model) error {
	if model == nil {
		return fmt.Errorf("%w: model is nil", ErrInvalidModel)
	}

	if model.Name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidModel, ErrEmptyModelName)
	}

	seen := make(map[string]bool, len(model.Fields))
	for _, f := range model.Fields {
		if !IsIdentifier(f.Name) {
			return fmt.Errorf("%w: %w: %q", ErrInvalidModel, ErrInvalidFieldName, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: %w: %q", ErrInvalidModel, ErrDuplicateField, f.Name)
		}
		seen[f.Name] = true
		if _, err := ParseFieldType(string(f.Type)); err != nil {
			return fmt.Errorf("%w: %w: %q", ErrInvalidModel, err, f.Type)
		}
	}

	idField, ok := model.IDField()
	if !ok {
		return fmt.Errorf("%w: %w: %q", ErrInvalidModel, ErrMissingIDField, model.IDName())
	}
	if !idField.Persisted() {
		return fmt.Errorf("%w: %w", ErrInvalidModel, ErrTransientIDField)
	}

	return nil
}
