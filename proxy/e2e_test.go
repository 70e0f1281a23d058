package proxy

import (
	"context"
	"testing"

	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
	"github.com/shepsii/dbproxies/storage/badger"
	"github.com/shepsii/dbproxies/storage/relational"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendCase struct {
	name string
	open func(t *testing.T, s *storage.Schema) storage.Backend
}

func backendCases() []backendCase {
	return []backendCase{
		{
			name: relational.Kind,
			open: func(t *testing.T, s *storage.Schema) storage.Backend {
				d, err := relational.DialectFor(relational.SQLite)
				require.NoError(t, err)
				conn, err := relational.NewConnection(d, ":memory:")
				require.NoError(t, err)
				t.Cleanup(func() { conn.Close() })
				store, err := relational.New(conn, s)
				require.NoError(t, err)
				return store
			},
		},
		{
			name: badger.Kind,
			open: func(t *testing.T, s *storage.Schema) storage.Backend {
				store, conn, err := badger.NewMemoryStore(s)
				require.NoError(t, err)
				t.Cleanup(func() { conn.Close() })
				return store
			},
		},
	}
}

func TestEndToEnd(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			schema, err := storage.DeriveSchema(itemModel(), storage.WithIndices("name"))
			require.NoError(t, err)
			p := newTestProxy(t, bc.open(t, schema))

			existing := core.NewRecord(itemModel(), core.Data{"id": "a", "name": "Apple", "qty": 1})
			_, err = p.Execute(ctx, NewOperation(ActionCreate, WithRecords(existing)))
			require.NoError(t, err)

			dup := core.NewRecord(itemModel(), core.Data{"id": "a", "name": "Again"})
			b := core.NewRecord(itemModel(), core.Data{"id": "b", "name": "Banana"})
			c := core.NewRecord(itemModel(), core.Data{"id": "c", "name": "Cherry"})
			b.Set("qty", 5)
			c.Set("qty", 7)
			require.True(t, b.IsDirty())

			cb, calls := countingCallback()
			op := NewOperation(ActionCreate, WithRecords(dup, b, c), WithCallback(cb))
			require.NoError(t, p.Create(ctx, op))
			wait(t, op)

			assert.Equal(t, int32(1), calls.Load())
			result := op.Result()
			assert.True(t, result.Success)
			assert.Equal(t, 3, result.Total)
			assert.Equal(t, 2, result.Count)

			var batch storage.BatchError
			require.ErrorAs(t, op.Exception(), &batch)
			require.Len(t, batch, 1)
			assert.Equal(t, "a", batch[0].RecordID)
			assert.True(t, storage.IsConflict(batch[0].Err))

			assert.True(t, dup.IsPhantom())
			for _, rec := range []*core.Record{b, c} {
				assert.False(t, rec.IsPhantom())
				assert.False(t, rec.IsDirty())
			}

			// read by index-backed equality, sorted and paged
			read := NewOperation(ActionRead,
				WithFilters(core.Filter{Property: "name", Value: "Banana"}),
			)
			result, err = p.Execute(ctx, read)
			require.NoError(t, err)
			require.Equal(t, 1, result.Count)
			assert.Equal(t, int64(5), result.Records[0].Get("qty"))

			read = NewOperation(ActionRead,
				WithSorters(core.Sorter{Property: "qty", Direction: core.Descending}),
				WithPage(1, 0, 2),
			)
			result, err = p.Execute(ctx, read)
			require.NoError(t, err)
			require.Len(t, result.Records, 2)
			assert.Equal(t, "c", result.Records[0].ID())
			assert.Equal(t, "b", result.Records[1].ID())

			// update then read back by id
			b.Set("name", "Blueberry")
			result, err = p.Execute(ctx, NewOperation(ActionUpdate, WithRecords(b)))
			require.NoError(t, err)
			assert.Equal(t, 1, result.Count)
			assert.False(t, b.IsDirty())

			result, err = p.Execute(ctx, NewOperation(ActionRead, WithID("b")))
			require.NoError(t, err)
			require.Len(t, result.Records, 1)
			assert.Equal(t, "Blueberry", result.Records[0].Get("name"))

			// erase
			result, err = p.Execute(ctx, NewOperation(ActionDestroy, WithRecords(existing, c)))
			require.NoError(t, err)
			assert.Equal(t, 2, result.Count)
			assert.True(t, existing.IsErased())

			result, err = p.Execute(ctx, NewOperation(ActionRead))
			require.NoError(t, err)
			require.Len(t, result.Records, 1)
			assert.Equal(t, "b", result.Records[0].ID())

			// drop empties storage; the next operation recreates it
			require.NoError(t, p.Drop(ctx))
			result, err = p.Execute(ctx, NewOperation(ActionRead))
			require.NoError(t, err)
			assert.Zero(t, result.Total)
		})
	}
}

func TestEndToEnd_SubstringFilter(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			schema, err := storage.DeriveSchema(itemModel())
			require.NoError(t, err)
			p := newTestProxy(t, bc.open(t, schema))

			_, err = p.Execute(ctx, NewOperation(ActionCreate, WithRecords(items(3)...)))
			require.NoError(t, err)

			op := NewOperation(ActionRead, WithFilters(core.Filter{Property: "name", Value: "em 1", AnyMatch: true}))
			result, err := p.Execute(ctx, op)
			if bc.name == badger.Kind {
				assert.ErrorIs(t, err, storage.ErrUnsupportedQuery)
				assert.False(t, result.Success)
				return
			}
			require.NoError(t, err)
			require.Len(t, result.Records, 1)
			assert.Equal(t, "item-1", result.Records[0].ID())
		})
	}
}
