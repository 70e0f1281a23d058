package proxy

import (
	"sync"

	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
)

// slot is the completion state of one record of the batch.
type slot struct {
	record  *core.Record
	outcome storage.Outcome
	skipped bool
	done    bool
}

// txContext is the per-operation state carried from dispatch to
// finalization. It is created for one Operation and dropped once that
// Operation is finalized.
type txContext struct {
	op     *Operation
	tx     storage.Tx
	schema *storage.Schema

	mu       sync.Mutex
	slots    []slot
	executed int
	rows     []core.Data
	readErr  error
	closed   bool
}

func newTxContext(op *Operation, tx storage.Tx, schema *storage.Schema, records []*core.Record) *txContext {
	slots := make([]slot, len(records))
	for i, rec := range records {
		slots[i].record = rec
	}
	return &txContext{
		op:     op,
		tx:     tx,
		schema: schema,
		slots:  slots,
	}
}

func (c *txContext) total() int {
	return len(c.slots)
}

// complete counts the outcome of record i. It returns false for a
// duplicate or late completion, which must not advance the barrier.
func (c *txContext) complete(i int, out storage.Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.slots[i].done {
		return false
	}
	c.slots[i].outcome = out
	c.slots[i].done = true
	c.executed++
	return true
}

// skip counts record i as executed without a backend call.
func (c *txContext) skip(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.slots[i].done {
		return false
	}
	c.slots[i].skipped = true
	c.slots[i].done = true
	c.executed++
	return true
}

// completeRead records the query outcome.
func (c *txContext) completeRead(rows []core.Data, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.executed > 0 {
		return false
	}
	c.rows = rows
	c.readErr = err
	c.executed++
	return true
}

// close stops accepting completions and returns the slots for
// finalization.
func (c *txContext) close() []slot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return c.slots
}

func (c *txContext) readOutcome() ([]core.Data, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows, c.readErr
}
