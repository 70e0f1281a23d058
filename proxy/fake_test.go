package proxy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
)

var errBoom = errors.New("boom")

// fakeBackend completes calls from goroutines, later records first, so
// completion order never matches issue order.
type fakeBackend struct {
	schema *storage.Schema

	failIDs   map[any]error
	beginErr  error
	commitErr error
	rows      []core.Data
	readErr   error
	repeat    bool
	hold      chan struct{}

	commits   atomic.Int32
	rollbacks atomic.Int32
	drops     atomic.Int32
	wg        sync.WaitGroup
}

func (b *fakeBackend) Kind() string            { return "fake" }
func (b *fakeBackend) Schema() *storage.Schema { return b.schema }

func (b *fakeBackend) Begin(ctx context.Context, mode storage.Mode) (storage.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	return &fakeTx{backend: b}, nil
}

func (b *fakeBackend) Drop(ctx context.Context) error {
	b.drops.Add(1)
	return nil
}

type fakeTx struct {
	backend *fakeBackend
	issued  atomic.Int32
}

func (t *fakeTx) complete(rec *core.Record, out storage.Outcome, done storage.Completion) {
	b := t.backend
	n := t.issued.Add(1)
	if err, ok := b.failIDs[rec.ID()]; ok {
		out = storage.Outcome{Err: err}
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if b.hold != nil {
			<-b.hold
		}
		time.Sleep(time.Duration(10-n%10) * time.Millisecond)
		done(out)
		if b.repeat {
			done(out)
		}
	}()
}

func (t *fakeTx) Create(ctx context.Context, rec *core.Record, done storage.Completion) {
	t.complete(rec, storage.Outcome{Data: rec.Data()}, done)
}

func (t *fakeTx) Update(ctx context.Context, rec *core.Record, done storage.Completion) {
	changes := make(map[string]any)
	for _, name := range rec.Modified() {
		changes[name] = rec.Get(name)
	}
	t.complete(rec, storage.Outcome{Data: rec.Data(), Changes: changes}, done)
}

func (t *fakeTx) Erase(ctx context.Context, rec *core.Record, done storage.Completion) {
	t.complete(rec, storage.Outcome{Data: rec.Data()}, done)
}

func (t *fakeTx) Read(ctx context.Context, q *storage.Query, done storage.ReadCompletion) {
	b := t.backend
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if b.hold != nil {
			<-b.hold
		}
		if b.readErr != nil {
			done(nil, b.readErr)
			return
		}
		done(b.rows, nil)
	}()
}

func (t *fakeTx) Commit() error {
	t.backend.commits.Add(1)
	return t.backend.commitErr
}

func (t *fakeTx) Rollback() error {
	t.backend.rollbacks.Add(1)
	return nil
}
