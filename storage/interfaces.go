package storage

import (
	"context"

	"github.com/shepsii/dbproxies/core"
)

// Mode selects the kind of backend transaction to open.
type Mode int

const (
	// ReadOnly transactions serve read operations.
	ReadOnly Mode = iota
	// ReadWrite transactions serve create, update and erase operations.
	ReadWrite
)

// Outcome is the completion of one per-record backend call.
type Outcome struct {
	// Data is the logical row as written.
	Data core.Data
	// Changes holds the modified fields and their values for updates.
	Changes map[string]any
	// ID is set when the backend assigned the record identifier.
	ID any
	// Err is the backend-native failure, if any.
	Err error
}

// Completion receives the outcome of one per-record call. Backends invoke
// it exactly once per call, in whatever order their statements complete.
type Completion func(Outcome)

// ReadCompletion receives the decoded rows of a query, or the query failure.
type ReadCompletion func(rows []core.Data, err error)

// Query holds the read parameters of an operation.
type Query struct {
	// ID requests a single record by primary key when non-nil.
	ID      any
	Filters []core.Filter
	Sorters []core.Sorter
	// Page is 1-based; zero means the read is not paged.
	Page  int
	Start int
	Limit int
}

// ByID reports whether the query is a single-id lookup.
func (q *Query) ByID() bool {
	return q.ID != nil
}

// Paged reports whether a page parameter is present.
func (q *Query) Paged() bool {
	return q.Page > 0
}

// Tx is one backend transaction scoped to a single operation. Calls are
// issued in batch order from one goroutine; completions may arrive in any
// order and must not be assumed to follow issue order.
type Tx interface {
	// Create inserts a new record. Duplicate keys fail with a ConflictError.
	Create(ctx context.Context, rec *core.Record, done Completion)

	// Update writes the record's changes.
	Update(ctx context.Context, rec *core.Record, done Completion)

	// Erase removes the record by primary key.
	Erase(ctx context.Context, rec *core.Record, done Completion)

	// Read runs a query and delivers decoded rows.
	Read(ctx context.Context, q *Query, done ReadCompletion)

	// Commit makes the transaction's writes durable.
	Commit() error

	// Rollback discards the transaction's writes.
	Rollback() error
}

// Backend is one storage engine bound to one model's schema.
// Implementations must be thread-safe.
type Backend interface {
	// Kind names the engine ("sql", "objectstore").
	Kind() string

	// Schema returns the bound schema.
	Schema() *Schema

	// Begin opens a transaction, lazily creating the table or store first.
	Begin(ctx context.Context, mode Mode) (Tx, error)

	// Drop removes the table or store and resets lazy creation.
	Drop(ctx context.Context) error
}

// Factory binds a backend to a schema.
type Factory func(schema *Schema) (Backend, error)
