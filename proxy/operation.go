package proxy

import (
	"context"
	"slices"
	"sync"

	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
)

// Action is the CRUD verb of an Operation.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
)

// IsWrite reports whether the action needs a read-write transaction.
func (a Action) IsWrite() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDestroy
}

// State is the lifecycle state of an Operation.
type State int

const (
	StatePending State = iota
	StateStarted
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStarted:
		return "started"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// Callback receives a finalized Operation.
type Callback func(op *Operation)

// Consumer processes the Result handed to an Operation. A non-nil error
// rejects the result and raises the proxy's exception event.
type Consumer func(result *Result) error

// RecordCreator builds a record from a decoded row.
type RecordCreator func(model *core.Model, data core.Data) *core.Record

// Operation is one CRUD request: a record batch or query parameters, a
// lifecycle and exactly one completion.
type Operation struct {
	action   Action
	records  []*core.Record
	query    storage.Query
	callback Callback
	consumer Consumer
	creator  RecordCreator

	mu        sync.Mutex
	state     State
	result    *Result
	exception error
	done      chan struct{}
}

// OperationOption configures an Operation.
type OperationOption func(*Operation)

// WithRecords sets the record batch of a write operation.
func WithRecords(records ...*core.Record) OperationOption {
	return func(op *Operation) {
		op.records = append(op.records, records...)
	}
}

// WithID requests a single record by id.
func WithID(id any) OperationOption {
	return func(op *Operation) {
		op.query.ID = id
	}
}

// WithFilters adds read filters.
func WithFilters(filters ...core.Filter) OperationOption {
	return func(op *Operation) {
		op.query.Filters = append(op.query.Filters, filters...)
	}
}

// WithSorters adds read sorters, applied in order.
func WithSorters(sorters ...core.Sorter) OperationOption {
	return func(op *Operation) {
		op.query.Sorters = append(op.query.Sorters, sorters...)
	}
}

// WithPage sets pagination. Page is 1-based; start and limit select the
// window of the sorted result.
func WithPage(page, start, limit int) OperationOption {
	return func(op *Operation) {
		op.query.Page = page
		op.query.Start = start
		op.query.Limit = limit
	}
}

// WithCallback sets the operation's own completion callback.
func WithCallback(cb Callback) OperationOption {
	return func(op *Operation) {
		op.callback = cb
	}
}

// WithConsumer sets the result consumer.
func WithConsumer(c Consumer) OperationOption {
	return func(op *Operation) {
		op.consumer = c
	}
}

// WithRecordCreator sets how read operations build records.
// Default is core.LoadRecord.
func WithRecordCreator(creator RecordCreator) OperationOption {
	return func(op *Operation) {
		op.creator = creator
	}
}

// NewOperation creates a pending operation.
func NewOperation(action Action, opts ...OperationOption) *Operation {
	op := &Operation{
		action:  action,
		creator: core.LoadRecord,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(op)
	}
	if op.creator == nil {
		op.creator = core.LoadRecord
	}
	return op
}

// Action returns the operation's verb.
func (op *Operation) Action() Action {
	return op.action
}

// Records returns the record batch.
func (op *Operation) Records() []*core.Record {
	return slices.Clone(op.records)
}

// Query returns a copy of the read parameters.
func (op *Operation) Query() storage.Query {
	q := op.query
	q.Filters = slices.Clone(q.Filters)
	q.Sorters = slices.Clone(q.Sorters)
	return q
}

// State returns the lifecycle state.
func (op *Operation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// IsComplete reports whether the operation has been finalized.
func (op *Operation) IsComplete() bool {
	return op.State() == StateCompleted
}

// Result returns the result, or nil before completion.
func (op *Operation) Result() *Result {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.result
}

// Exception returns the error payload: a storage.BatchError for per-record
// write failures, or the single transaction-level error.
func (op *Operation) Exception() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.exception
}

// Success reports whether the operation completed without an exception.
func (op *Operation) Success() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state == StateCompleted && op.exception == nil && op.result != nil && op.result.Success
}

// Done returns a channel closed once the operation is finalized and its
// callbacks have returned.
func (op *Operation) Done() <-chan struct{} {
	return op.done
}

// Wait blocks until the operation is finalized or ctx is done.
func (op *Operation) Wait(ctx context.Context) error {
	select {
	case <-op.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (op *Operation) start() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != StatePending {
		return ErrOperationStarted
	}
	op.state = StateStarted
	return nil
}

// process hands the result to the operation and runs its consumer.
func (op *Operation) process(result *Result) error {
	op.mu.Lock()
	op.result = result
	consumer := op.consumer
	op.mu.Unlock()

	if consumer == nil {
		return nil
	}
	return consumer(result)
}

func (op *Operation) complete(exception error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.exception = exception
	op.state = StateCompleted
}

func (op *Operation) release() {
	close(op.done)
}
