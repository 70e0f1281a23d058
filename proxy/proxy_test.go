package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shepsii/dbproxies/cloud"
	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itemModel() *core.Model {
	return &core.Model{
		Name: "Shop.model.Item",
		Fields: []core.Field{
			{Name: "id", Type: core.FieldTypeString},
			{Name: "name", Type: core.FieldTypeString},
			{Name: "qty", Type: core.FieldTypeInt},
		},
	}
}

func newFake(t *testing.T) *fakeBackend {
	t.Helper()
	s, err := storage.DeriveSchema(itemModel())
	require.NoError(t, err)
	return &fakeBackend{schema: s, failIDs: map[any]error{}}
}

func newTestProxy(t *testing.T, b storage.Backend, opts ...Option) *Proxy {
	t.Helper()
	p, err := New(b, append([]Option{WithPoolSize(4)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func items(n int) []*core.Record {
	recs := make([]*core.Record, n)
	for i := range recs {
		recs[i] = core.NewRecord(itemModel(), core.Data{
			"id":   fmt.Sprintf("item-%d", i),
			"name": fmt.Sprintf("Item %d", i),
			"qty":  i,
		})
	}
	return recs
}

// countingCallback returns a callback and a counter of its invocations.
func countingCallback() (Callback, *atomic.Int32) {
	var n atomic.Int32
	return func(op *Operation) { n.Add(1) }, &n
}

func wait(t *testing.T, op *Operation) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, op.Wait(ctx))
}

func TestNew_RequiresBackend(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrBackendRequired)
}

func TestProxy_PartialFailure(t *testing.T) {
	fake := newFake(t)
	fake.failIDs["item-1"] = errBoom
	fake.failIDs["item-3"] = errBoom
	p := newTestProxy(t, fake)

	recs := items(5)
	cb, calls := countingCallback()
	op := NewOperation(ActionCreate, WithRecords(recs...), WithCallback(cb))
	require.NoError(t, p.Create(context.Background(), op))
	wait(t, op)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StateCompleted, op.State())
	assert.Equal(t, int32(1), fake.commits.Load())

	var batch storage.BatchError
	require.ErrorAs(t, op.Exception(), &batch)
	require.Len(t, batch, 2)
	assert.Equal(t, "item-1", batch[0].RecordID)
	assert.Equal(t, "item-3", batch[1].RecordID)
	assert.ErrorIs(t, op.Exception(), errBoom)

	result := op.Result()
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 3, result.Count)
	assert.Len(t, result.Records, 3)
	assert.Len(t, result.Errors, 2)

	for i, rec := range recs {
		failed := i == 1 || i == 3
		assert.Equal(t, failed, rec.IsPhantom(), "record %d", i)
	}
}

func TestProxy_EmptyBatch(t *testing.T) {
	for _, action := range []Action{ActionCreate, ActionUpdate, ActionDestroy} {
		t.Run(string(action), func(t *testing.T) {
			fake := newFake(t)
			p := newTestProxy(t, fake)

			cb, calls := countingCallback()
			op := NewOperation(action, WithCallback(cb))
			result, err := p.Execute(context.Background(), op)
			require.NoError(t, err)

			assert.Equal(t, int32(1), calls.Load())
			assert.True(t, result.Success)
			assert.Zero(t, result.Total)
			assert.Zero(t, result.Count)
			assert.Equal(t, int32(1), fake.commits.Load())
		})
	}
}

func TestProxy_BeginFailure(t *testing.T) {
	fake := newFake(t)
	fake.beginErr = storage.ErrStorageClosed
	p := newTestProxy(t, fake)

	opCb, opCalls := countingCallback()
	verbCb, verbCalls := countingCallback()
	op := NewOperation(ActionUpdate, WithRecords(items(2)...), WithCallback(opCb))
	require.NoError(t, p.Update(context.Background(), op, verbCb))
	wait(t, op)

	assert.Equal(t, int32(1), opCalls.Load())
	assert.Equal(t, int32(1), verbCalls.Load())
	assert.ErrorIs(t, op.Exception(), storage.ErrTransactionFailed)
	assert.ErrorIs(t, op.Exception(), storage.ErrStorageClosed)
	assert.False(t, op.Result().Success)
	assert.False(t, op.Success())
}

func TestProxy_CommitFailure(t *testing.T) {
	fake := newFake(t)
	fake.commitErr = errors.New("disk full")
	p := newTestProxy(t, fake)

	recs := items(3)
	cb, calls := countingCallback()
	op := NewOperation(ActionCreate, WithRecords(recs...), WithCallback(cb))
	require.NoError(t, p.Create(context.Background(), op))
	wait(t, op)

	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, op.Exception(), storage.ErrTransactionFailed)
	assert.False(t, op.Result().Success)
	for _, rec := range recs {
		assert.True(t, rec.IsPhantom())
	}
}

func TestProxy_Cancel(t *testing.T) {
	fake := newFake(t)
	fake.hold = make(chan struct{})
	p := newTestProxy(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	recs := items(3)
	cb, calls := countingCallback()
	op := NewOperation(ActionCreate, WithRecords(recs...), WithCallback(cb))
	require.NoError(t, p.Create(ctx, op))

	cancel()
	wait(t, op)

	assert.ErrorIs(t, op.Exception(), storage.ErrCanceled)
	assert.ErrorIs(t, op.Exception(), context.Canceled)
	assert.Equal(t, int32(1), fake.rollbacks.Load())
	assert.Zero(t, fake.commits.Load())

	// late completions are ignored
	close(fake.hold)
	fake.wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
	for _, rec := range recs {
		assert.True(t, rec.IsPhantom())
	}
}

func TestProxy_RepeatedCompletions(t *testing.T) {
	fake := newFake(t)
	fake.repeat = true
	p := newTestProxy(t, fake)

	cb, calls := countingCallback()
	op := NewOperation(ActionDestroy, WithRecords(items(4)...))
	require.NoError(t, p.Erase(context.Background(), op, cb))
	wait(t, op)
	fake.wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 4, op.Result().Count)
	for _, rec := range op.Result().Records {
		assert.True(t, rec.IsErased())
	}
}

func TestProxy_CreateSkipsPersisted(t *testing.T) {
	fake := newFake(t)
	p := newTestProxy(t, fake)

	recs := items(2)
	loaded := core.LoadRecord(itemModel(), core.Data{"id": "existing", "name": "x"})
	op := NewOperation(ActionCreate, WithRecords(recs[0], loaded, recs[1]))
	result, err := p.Execute(context.Background(), op)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Count)
	assert.NotContains(t, result.Records, loaded)
}

func TestProxy_Read(t *testing.T) {
	fake := newFake(t)
	fake.rows = []core.Data{
		{"id": "a", "name": "A", "qty": int64(1)},
		{"id": "b", "name": "B", "qty": int64(2)},
	}
	p := newTestProxy(t, fake)

	var created int
	cb, calls := countingCallback()
	op := NewOperation(ActionRead,
		WithFilters(core.Filter{Property: "name", Value: "A"}),
		WithRecordCreator(func(model *core.Model, data core.Data) *core.Record {
			created++
			return core.LoadRecord(model, data)
		}),
	)
	require.NoError(t, p.Read(context.Background(), op, cb))
	wait(t, op)

	assert.Equal(t, int32(1), calls.Load())
	require.NoError(t, op.Exception())
	result := op.Result()
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, 2, created)
	assert.Equal(t, "b", result.Records[1].ID())
	assert.False(t, result.Records[0].IsPhantom())
}

func TestProxy_ReadFailure(t *testing.T) {
	fake := newFake(t)
	fake.readErr = &storage.QueryError{Statement: "SELECT", Err: errBoom}
	p := newTestProxy(t, fake)

	var events atomic.Int32
	p2 := newTestProxy(t, fake, WithExceptionHandler(func(op *Operation, err error) { events.Add(1) }))

	for _, px := range []*Proxy{p, p2} {
		op := NewOperation(ActionRead)
		result, err := px.Execute(context.Background(), op)
		require.Error(t, err)
		var qerr *storage.QueryError
		assert.ErrorAs(t, err, &qerr)
		assert.False(t, result.Success)
		assert.Zero(t, result.Total)
		assert.Zero(t, result.Count)
		assert.Empty(t, result.Records)
	}
	assert.Equal(t, int32(1), events.Load())
}

func TestProxy_ConsumerRejection(t *testing.T) {
	fake := newFake(t)
	var raised []error
	p := newTestProxy(t, fake, WithExceptionHandler(func(op *Operation, err error) {
		raised = append(raised, err)
	}))

	rejected := errors.New("rejected")
	op := NewOperation(ActionCreate,
		WithRecords(items(1)...),
		WithConsumer(func(r *Result) error { return rejected }),
	)
	_, err := p.Execute(context.Background(), op)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.ErrorIs(t, raised[0], rejected)
}

func TestProxy_OperationMisuse(t *testing.T) {
	fake := newFake(t)
	p := newTestProxy(t, fake)
	ctx := context.Background()

	assert.ErrorIs(t, p.Create(ctx, nil), ErrOperationRequired)

	op := NewOperation(ActionRead)
	require.NoError(t, p.Read(ctx, op, nil))
	wait(t, op)
	assert.ErrorIs(t, p.Read(ctx, op, nil), ErrOperationStarted)

	cb, calls := countingCallback()
	wrong := NewOperation(ActionRead)
	require.NoError(t, p.Update(ctx, wrong, cb))
	wait(t, wrong)
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, wrong.Exception(), ErrInvalidAction)
}

func TestProxy_CloudChanges(t *testing.T) {
	fake := newFake(t)
	fake.failIDs["item-1"] = errBoom
	queue := cloud.NewMemoryQueue()
	p := newTestProxy(t, fake, WithCloud(queue))
	ctx := context.Background()

	recs := items(2)
	_, err := p.Execute(ctx, NewOperation(ActionCreate, WithRecords(recs...)))
	require.Error(t, err)

	recs[0].Set("qty", 9)
	recs[0].Set("name", "Renamed")
	_, err = p.Execute(ctx, NewOperation(ActionUpdate, WithRecords(recs[0])))
	require.NoError(t, err)

	_, err = p.Execute(ctx, NewOperation(ActionDestroy, WithRecords(recs[0])))
	require.NoError(t, err)

	changes, err := queue.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, changes, 4)

	assert.Equal(t, cloud.ChangeCreate, changes[0].Type)
	assert.Equal(t, "Item", changes[0].Model)
	assert.Equal(t, "item-0", changes[0].RecordID)
	assert.Equal(t, "Item 0", changes[0].Fields["name"])
	assert.Equal(t, int64(0), changes[0].Fields["qty"])

	assert.Equal(t, cloud.ChangeUpdate, changes[1].Type)
	assert.Equal(t, "name", changes[1].Field)
	assert.Equal(t, "Renamed", changes[1].Value)
	assert.Equal(t, "qty", changes[2].Field)
	assert.Equal(t, 9, changes[2].Value)

	assert.Equal(t, cloud.ChangeDelete, changes[3].Type)
}

func TestProxy_Drop(t *testing.T) {
	fake := newFake(t)
	p := newTestProxy(t, fake)
	require.NoError(t, p.Drop(context.Background()))
	assert.Equal(t, int32(1), fake.drops.Load())
}

func TestProxy_ChainedOperationFromCallback(t *testing.T) {
	fake := newFake(t)
	fake.rows = []core.Data{{"id": "a", "name": "Apple", "qty": int64(1)}}
	p := newTestProxy(t, fake, WithPoolSize(1))

	chained := make(chan error, 1)
	op := NewOperation(ActionCreate, WithRecords(items(2)...), WithCallback(func(op *Operation) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		result, err := p.Execute(ctx, NewOperation(ActionRead))
		if err == nil && result.Count != 1 {
			err = fmt.Errorf("read %d records", result.Count)
		}
		chained <- err
	}))
	require.NoError(t, p.Create(context.Background(), op))

	select {
	case err := <-chained:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("read issued from a callback did not complete")
	}
	wait(t, op)
	assert.True(t, op.Success())
}

func TestProxy_SaturatedPoolHonorsContext(t *testing.T) {
	fake := newFake(t)
	fake.hold = make(chan struct{})
	p := newTestProxy(t, fake, WithPoolSize(1))

	busy := NewOperation(ActionCreate, WithRecords(items(1)...))
	require.NoError(t, p.Create(context.Background(), busy))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	cb, calls := countingCallback()
	op := NewOperation(ActionRead)
	require.NoError(t, p.Read(ctx, op, cb))
	wait(t, op)

	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, op.Success())
	assert.ErrorIs(t, op.Exception(), storage.ErrCanceled)
	assert.ErrorIs(t, op.Exception(), context.DeadlineExceeded)

	close(fake.hold)
	wait(t, busy)
	assert.True(t, busy.Success())
}
