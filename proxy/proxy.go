package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/shepsii/dbproxies/cloud"
	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
)

// ExceptionHandler observes exception events: a result rejected by an
// operation's consumer, or an operation finalized with an exception.
type ExceptionHandler func(op *Operation, err error)

// Proxy executes Operations for one model against one backend.
type Proxy struct {
	backend     storage.Backend
	pool        *ants.Pool
	ownsPool    bool
	queue       cloud.Queue
	onException ExceptionHandler
	logger      *slog.Logger

	wg sync.WaitGroup
}

// maxScheduleDelay caps the backoff between submits to a saturated pool.
const maxScheduleDelay = 50 * time.Millisecond

// Option configures a Proxy.
type Option func(*Proxy) error

// WithPoolSize sets the worker pool size for concurrent operations.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Proxy) error {
		if size < 1 {
			size = 1
		}

		// Release old pool
		if p.pool != nil && p.ownsPool {
			p.pool.Release()
		}

		pool, err := ants.NewPool(size, ants.WithNonblocking(true))
		if err != nil {
			return err
		}
		p.pool = pool
		p.ownsPool = true
		return nil
	}
}

// WithPool runs operations on a shared pool. The proxy does not release it.
// A nonblocking pool lets a saturated submit honor its context; a blocking
// pool makes the verb methods wait for a free worker.
func WithPool(pool *ants.Pool) Option {
	return func(p *Proxy) error {
		if pool == nil {
			return nil
		}
		if p.pool != nil && p.ownsPool {
			p.pool.Release()
		}
		p.pool = pool
		p.ownsPool = false
		return nil
	}
}

// WithCloud enqueues change notifications for committed mutations.
func WithCloud(queue cloud.Queue) Option {
	return func(p *Proxy) error {
		p.queue = queue
		return nil
	}
}

// WithExceptionHandler sets the exception event handler.
func WithExceptionHandler(h ExceptionHandler) Option {
	return func(p *Proxy) error {
		p.onException = h
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// New creates a proxy bound to backend.
func New(backend storage.Backend, opts ...Option) (*Proxy, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		backend:  backend,
		pool:     pool,
		ownsPool: true,
		logger:   slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Backend returns the bound backend.
func (p *Proxy) Backend() storage.Backend {
	return p.backend
}

// Schema returns the schema of the bound backend.
func (p *Proxy) Schema() *storage.Schema {
	return p.backend.Schema()
}

// Create persists the phantom records of op. Completion is reported
// through the operation's own callback.
func (p *Proxy) Create(ctx context.Context, op *Operation) error {
	return p.submit(ctx, op, ActionCreate, nil)
}

// Read runs the query of op and calls cb once it is finalized.
func (p *Proxy) Read(ctx context.Context, op *Operation, cb Callback) error {
	return p.submit(ctx, op, ActionRead, cb)
}

// Update writes the modified fields of the records of op and calls cb once
// it is finalized.
func (p *Proxy) Update(ctx context.Context, op *Operation, cb Callback) error {
	return p.submit(ctx, op, ActionUpdate, cb)
}

// Erase removes the records of op and calls cb once it is finalized.
func (p *Proxy) Erase(ctx context.Context, op *Operation, cb Callback) error {
	return p.submit(ctx, op, ActionDestroy, cb)
}

// Execute runs op by its action and blocks until it is finalized.
func (p *Proxy) Execute(ctx context.Context, op *Operation) (*Result, error) {
	if op == nil {
		return nil, ErrOperationRequired
	}
	if err := p.submit(ctx, op, op.Action(), nil); err != nil {
		return nil, err
	}
	if err := op.Wait(ctx); err != nil {
		return nil, err
	}
	return op.Result(), op.Exception()
}

// Drop deletes the model's table or store. The next operation creates it
// again.
func (p *Proxy) Drop(ctx context.Context) error {
	return p.backend.Drop(ctx)
}

// Release waits for in-flight operations and releases the worker pool if
// the proxy owns it. The proxy should not be used after calling Release.
func (p *Proxy) Release() {
	p.wg.Wait()
	if p.pool != nil && p.ownsPool {
		p.pool.Release()
	}
}

// submit marks op started and schedules it on the pool.
func (p *Proxy) submit(ctx context.Context, op *Operation, verb Action, cb Callback) error {
	if op == nil {
		return ErrOperationRequired
	}
	if err := op.start(); err != nil {
		return err
	}
	if op.Action() != verb {
		p.finalize(op, cb, failedResult(), fmt.Errorf("%w: %s operation passed to %s", ErrInvalidAction, op.Action(), verb))
		return nil
	}

	p.wg.Add(1)
	err := p.schedule(ctx, func() {
		defer p.wg.Done()
		p.run(ctx, op, cb)
	})
	if err != nil {
		p.wg.Done()
		p.logger.Error("error scheduling operation", "action", verb, "err", err)
		p.finalize(op, cb, failedResult(), transactionError(err))
	}
	return nil
}

// schedule submits task to the pool, retrying with backoff while the pool
// is saturated until ctx is done.
func (p *Proxy) schedule(ctx context.Context, task func()) error {
	delay := time.Millisecond
	for {
		err := p.pool.Submit(task)
		if !errors.Is(err, ants.ErrPoolOverload) {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", storage.ErrCanceled, ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, maxScheduleDelay)
	}
}

func (p *Proxy) run(ctx context.Context, op *Operation, cb Callback) {
	if op.Action() == ActionRead {
		p.read(ctx, op, cb)
		return
	}
	p.write(ctx, op, cb)
}

func (p *Proxy) write(ctx context.Context, op *Operation, cb Callback) {
	tx, err := p.backend.Begin(ctx, storage.ReadWrite)
	if err != nil {
		p.logger.Error("transaction error", "action", op.Action(), "err", err)
		p.finalize(op, cb, failedResult(), transactionError(err))
		return
	}

	tc := newTxContext(op, tx, p.backend.Schema(), op.records)
	barrier := NewBarrier(tc.total())

	var verb func(context.Context, *core.Record, storage.Completion)
	switch op.Action() {
	case ActionCreate:
		verb = tx.Create
	case ActionUpdate:
		verb = tx.Update
	default:
		verb = tx.Erase
	}

	for i, rec := range op.records {
		if ctx.Err() != nil {
			break
		}
		if op.Action() == ActionCreate && !rec.IsPhantom() {
			if tc.skip(i) {
				barrier.Done()
			}
			continue
		}
		verb(ctx, rec, func(out storage.Outcome) {
			if !tc.complete(i, out) {
				p.logger.Warn("ignoring repeated completion", "action", op.Action(), "id", rec.ID())
				return
			}
			if out.Err != nil {
				p.logger.Error(string(op.Action())+" error", "id", rec.ID(), "err", out.Err)
			}
			barrier.Done()
		})
	}

	if err := p.settle(ctx, barrier, tx); err != nil {
		tc.close()
		p.finalize(op, cb, failedResult(), err)
		return
	}

	p.finishWrite(ctx, op, cb, tc)
}

// settle waits for every completion and ends the transaction: commit on
// success, rollback on cancellation.
func (p *Proxy) settle(ctx context.Context, barrier *Barrier, tx storage.Tx) error {
	err := barrier.Wait(ctx)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", storage.ErrCanceled, ctx.Err())
	}
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			p.logger.Error("rollback error", "err", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		p.logger.Error("transaction error", "err", err)
		tx.Rollback()
		return transactionError(err)
	}
	return nil
}

func (p *Proxy) finishWrite(ctx context.Context, op *Operation, cb Callback, tc *txContext) {
	slots := tc.close()
	result := &Result{
		Success: true,
		Records: make([]*core.Record, 0, len(slots)),
		Total:   len(slots),
	}
	var changes []cloud.Change
	now := time.Now().UTC()

	for _, s := range slots {
		if s.skipped {
			continue
		}
		rec := s.record
		if s.outcome.Err != nil {
			result.Errors = append(result.Errors, storage.RecordError{RecordID: rec.ID(), Err: s.outcome.Err})
			continue
		}
		if s.outcome.ID != nil {
			rec.SetID(s.outcome.ID)
		}
		changes = append(changes, p.changesFor(op.Action(), rec, s.outcome, now)...)
		if op.Action() == ActionDestroy {
			rec.MarkErased()
		} else {
			rec.Commit()
		}
		result.Records = append(result.Records, rec)
	}
	result.Count = len(result.Records)

	if p.queue != nil && len(changes) > 0 {
		if err := p.queue.Enqueue(context.WithoutCancel(ctx), changes...); err != nil {
			p.logger.Warn("error queueing cloud changes", "count", len(changes), "err", err)
		}
	}

	var exception error
	if len(result.Errors) > 0 {
		exception = storage.BatchError(result.Errors)
	}
	p.finalize(op, cb, result, exception)
}

func (p *Proxy) changesFor(action Action, rec *core.Record, out storage.Outcome, at time.Time) []cloud.Change {
	model := p.Schema().Model.ShortName()
	switch action {
	case ActionCreate:
		return []cloud.Change{{
			Model:    model,
			RecordID: rec.ID(),
			Type:     cloud.ChangeCreate,
			Fields:   p.persistedFields(rec),
			At:       at,
		}}
	case ActionUpdate:
		keys := make([]string, 0, len(out.Changes))
		for k := range out.Changes {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		changes := make([]cloud.Change, 0, len(keys))
		for _, k := range keys {
			changes = append(changes, cloud.Change{
				Model:    model,
				RecordID: rec.ID(),
				Type:     cloud.ChangeUpdate,
				Field:    k,
				Value:    out.Changes[k],
				At:       at,
			})
		}
		return changes
	default:
		return []cloud.Change{{
			Model:    model,
			RecordID: rec.ID(),
			Type:     cloud.ChangeDelete,
			At:       at,
		}}
	}
}

// persistedFields returns the record as it decodes from storage.
func (p *Proxy) persistedFields(rec *core.Record) map[string]any {
	s := p.Schema()
	row, err := s.Encode(rec.Data())
	if err == nil {
		var data core.Data
		if data, err = s.Decode(row); err == nil {
			return data
		}
	}
	p.logger.Warn("error decoding created record", "id", rec.ID(), "err", err)
	return rec.Data()
}

func (p *Proxy) read(ctx context.Context, op *Operation, cb Callback) {
	tx, err := p.backend.Begin(ctx, storage.ReadOnly)
	if err != nil {
		p.logger.Error("transaction error", "action", op.Action(), "err", err)
		p.finalize(op, cb, failedResult(), transactionError(err))
		return
	}

	tc := newTxContext(op, tx, p.backend.Schema(), nil)
	barrier := NewBarrier(1)
	q := op.Query()
	tx.Read(ctx, &q, func(rows []core.Data, err error) {
		if !tc.completeRead(rows, err) {
			p.logger.Warn("ignoring repeated read completion")
			return
		}
		barrier.Done()
	})

	if err := barrier.Wait(ctx); err != nil {
		tc.close()
		tx.Rollback()
		p.finalize(op, cb, failedResult(), err)
		return
	}
	rows, readErr := tc.readOutcome()
	tc.close()

	if readErr != nil {
		p.logger.Error("query error", "model", tc.schema.Name, "err", readErr)
		tx.Rollback()
		p.finalize(op, cb, failedResult(), readErr)
		return
	}
	if err := tx.Commit(); err != nil {
		p.logger.Error("transaction error", "err", err)
		p.finalize(op, cb, failedResult(), transactionError(err))
		return
	}

	model := tc.schema.Model
	result := &Result{
		Success: true,
		Records: make([]*core.Record, 0, len(rows)),
	}
	for _, row := range rows {
		result.Records = append(result.Records, op.creator(model, row))
	}
	result.Total = len(result.Records)
	result.Count = len(result.Records)
	p.finalize(op, cb, result, nil)
}

// finalize hands the result to op, raises exception events and runs the
// callbacks. It is the only place an operation completes.
//
// Callbacks run on their own goroutine so the pool worker is free before
// they start; a callback may submit follow-up operations.
func (p *Proxy) finalize(op *Operation, cb Callback, result *Result, exception error) {
	if err := op.process(result); err != nil {
		p.logger.Warn("operation result rejected", "action", op.Action(), "err", err)
		p.raise(op, err)
	}
	op.complete(exception)
	if exception != nil {
		p.raise(op, exception)
	}

	if op.callback == nil && cb == nil {
		op.release()
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer op.release()
		if op.callback != nil {
			op.callback(op)
		}
		if cb != nil {
			cb(op)
		}
	}()
}

func (p *Proxy) raise(op *Operation, err error) {
	if p.onException != nil {
		p.onException(op, err)
	}
}

// transactionError marks err as a transaction-level failure.
func transactionError(err error) error {
	if errors.Is(err, storage.ErrTransactionFailed) || errors.Is(err, storage.ErrCanceled) {
		return err
	}
	return fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
}
