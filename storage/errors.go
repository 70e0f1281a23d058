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


package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey indicates a duplicate key violation.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrTransactionFailed indicates that a transaction failed.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery indicates invalid query parameters.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrUnsupportedQuery indicates a query the active backend cannot express.
	ErrUnsupportedQuery = errors.New("query not supported by backend")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData indicates that data was truncated during reading.
	ErrTruncatedData = errors.New("truncated data")

	// ErrMissingID indicates a record without an identifier where one is required.
	ErrMissingID = errors.New("record has no id")

	// ErrInvalidSchema indicates a schema that cannot be bound to storage.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrInvalidIndex indicates an index on a field that is not a persisted column.
	ErrInvalidIndex = errors.New("invalid index")

	// ErrCanceled indicates an operation abandoned before all records completed.
	ErrCanceled = errors.New("operation canceled")
)

// ConflictError reports a write rejected because the key already exists.
type ConflictError struct {
	Store string
	Key   string
	Err   error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s with key %q already exists: %v", e.Store, e.Key, e.Err)
	}
	return fmt.Sprintf("%s with key %q already exists", e.Store, e.Key)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrDuplicateKey
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// QueryError reports a failed read.
type QueryError struct {
	Statement string
	Err       error
}

func (e *QueryError) Error() string {
	if e.Statement != "" {
		return fmt.Sprintf("query %q failed: %v", e.Statement, e.Err)
	}
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// RecordError pairs a per-record backend failure with the record id.
type RecordError struct {
	RecordID any
	Err      error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %v: %v", e.RecordID, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// BatchError collects the per-record failures of one operation.
type BatchError []RecordError

func (e BatchError) Error() string {
	parts := make([]string, len(e))
	for i, re := range e {
		parts[i] = re.Error()
	}
	return fmt.Sprintf("%d record(s) failed: %s", len(e), strings.Join(parts, "; "))
}

// Unwrap exposes every record failure to errors.Is and errors.As.
func (e BatchError) Unwrap() []error {
	errs := make([]error, len(e))
	for i, re := range e {
		errs[i] = re
	}
	return errs
}

// IsConflict checks if an error is a duplicate key error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
