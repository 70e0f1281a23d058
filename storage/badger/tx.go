package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
)

// tx wraps one badger transaction for the duration of an operation.
type tx struct {
	store *Store
	txn   *badger.Txn
}

func (t *tx) schema() *storage.Schema {
	return t.store.schema
}

// Create implements storage.Tx. An existing key fails with a ConflictError.
func (t *tx) Create(ctx context.Context, rec *core.Record, done storage.Completion) {
	if err := ctx.Err(); err != nil {
		done(storage.Outcome{Err: err})
		return
	}
	s := t.schema()
	row, idKey, err := t.encode(rec)
	if err != nil {
		done(storage.Outcome{Err: err})
		return
	}

	key := makeRecordKey(s.Name, idKey)
	if _, err := t.txn.Get(key); err == nil {
		err := &storage.ConflictError{Store: s.Name, Key: fmt.Sprint(rec.ID())}
		t.store.logger.Error("insert failed", "store", s.Name, "id", rec.ID(), "err", err)
		done(storage.Outcome{Err: err})
		return
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		done(storage.Outcome{Err: err})
		return
	}

	if err := t.put(row, idKey, nil); err != nil {
		t.store.logger.Error("insert failed", "store", s.Name, "id", rec.ID(), "err", err)
		done(storage.Outcome{Err: err})
		return
	}
	done(storage.Outcome{Data: rec.Data()})
}

// Update implements storage.Tx. The whole row is replaced; modification
// tracking only decides which fields are reported as changed.
func (t *tx) Update(ctx context.Context, rec *core.Record, done storage.Completion) {
	if err := ctx.Err(); err != nil {
		done(storage.Outcome{Err: err})
		return
	}
	s := t.schema()
	row, idKey, err := t.encode(rec)
	if err != nil {
		done(storage.Outcome{Err: err})
		return
	}

	old, err := t.get(idKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		done(storage.Outcome{Err: err})
		return
	}
	if err := t.put(row, idKey, old); err != nil {
		t.store.logger.Error("update failed", "store", s.Name, "id", rec.ID(), "err", err)
		done(storage.Outcome{Err: err})
		return
	}

	data := rec.Data()
	changes := make(map[string]any)
	for _, name := range rec.Modified() {
		if _, ok := s.Column(name); ok || (s.ImplicitEnabled() && !s.IsExplicit(name)) {
			changes[name] = data[name]
		}
	}
	done(storage.Outcome{Data: data, Changes: changes})
}

// Erase implements storage.Tx. Erasing a missing key succeeds.
func (t *tx) Erase(ctx context.Context, rec *core.Record, done storage.Completion) {
	if err := ctx.Err(); err != nil {
		done(storage.Outcome{Err: err})
		return
	}
	s := t.schema()
	id, err := s.EncodeValue(s.PrimaryKey, rec.ID())
	if err != nil {
		done(storage.Outcome{Err: err})
		return
	}
	idKey, err := makeIDKey(id)
	if err != nil {
		done(storage.Outcome{Err: err})
		return
	}

	old, err := t.get(idKey)
	if errors.Is(err, storage.ErrNotFound) {
		done(storage.Outcome{Data: rec.Data()})
		return
	}
	if err == nil {
		err = t.deleteIndexEntries(old, idKey)
	}
	if err == nil {
		err = t.txn.Delete(makeRecordKey(s.Name, idKey))
	}
	if err != nil {
		t.store.logger.Error("delete failed", "store", s.Name, "id", rec.ID(), "err", err)
		done(storage.Outcome{Err: err})
		return
	}
	done(storage.Outcome{Data: rec.Data()})
}

// Read implements storage.Tx. A single filter on an indexed property is
// served from that index; anything else scans the whole store. Sorting,
// remaining filters and the start/limit window are applied in memory.
func (t *tx) Read(ctx context.Context, q *storage.Query, done storage.ReadCompletion) {
	if err := ctx.Err(); err != nil {
		done(nil, err)
		return
	}
	s := t.schema()

	if q.ByID() {
		rows, err := t.readByID(q.ID)
		done(rows, err)
		return
	}

	filters := make([]core.Filter, 0, len(q.Filters))
	raw := make([]any, 0, len(q.Filters))
	for _, f := range q.Filters {
		if f.Property == "" {
			continue
		}
		if f.AnyMatch {
			done(nil, fmt.Errorf("%w: substring filter on %q", storage.ErrUnsupportedQuery, f.Property))
			return
		}
		v, err := s.Normalize(f.Property, f.Value)
		if err != nil {
			done(nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err))
			return
		}
		filters = append(filters, core.Filter{Property: f.Property, Value: v})
		raw = append(raw, f.Value)
	}

	var (
		candidates []core.Data
		err        error
	)
	if len(filters) == 1 && s.HasIndex(filters[0].Property) {
		t.store.indexReads.Add(1)
		candidates, err = t.indexLookup(filters[0].Property, raw[0], filters[0])
		filters = nil
	} else {
		t.store.fullScans.Add(1)
		candidates, err = t.scan(ctx)
	}
	if err != nil {
		done(nil, &storage.QueryError{Err: err})
		return
	}

	start, limit := q.Window()
	done(storage.ApplyQuery(candidates, filters, q.Sorters, start, limit), nil)
}

// Commit implements storage.Tx.
func (t *tx) Commit() error {
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", storage.ErrTransactionFailed, err)
	}
	return nil
}

// Rollback implements storage.Tx.
func (t *tx) Rollback() error {
	t.txn.Discard()
	return nil
}

func (t *tx) encode(rec *core.Record) (storage.Row, []byte, error) {
	s := t.schema()
	row, err := s.Encode(rec.Data())
	if err != nil {
		return nil, nil, err
	}
	idKey, err := makeIDKey(row[s.PrimaryKey])
	if err != nil {
		return nil, nil, err
	}
	return row, idKey, nil
}

// put writes the row and replaces the index entries of old, if any.
func (t *tx) put(row storage.Row, idKey []byte, old storage.Row) error {
	s := t.schema()
	if old != nil {
		if err := t.deleteIndexEntries(old, idKey); err != nil {
			return err
		}
	}
	value, err := storage.MarshalRow(row)
	if err != nil {
		return err
	}
	if err := t.txn.Set(makeRecordKey(s.Name, idKey), value); err != nil {
		return err
	}
	for _, field := range s.Indices {
		hash, err := hashIndexValue(row[field])
		if err != nil {
			return err
		}
		if err := t.txn.Set(makeIndexKey(s.Name, field, hash, idKey), idKey); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) deleteIndexEntries(row storage.Row, idKey []byte) error {
	s := t.schema()
	for _, field := range s.Indices {
		hash, err := hashIndexValue(row[field])
		if err != nil {
			return err
		}
		if err := t.txn.Delete(makeIndexKey(s.Name, field, hash, idKey)); err != nil {
			return err
		}
	}
	return nil
}

// get reads the encoded row stored under idKey.
func (t *tx) get(idKey []byte) (storage.Row, error) {
	item, err := t.txn.Get(makeRecordKey(t.schema().Name, idKey))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	var row storage.Row
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		row, unmarshalErr = storage.UnmarshalRow(val)
		return unmarshalErr
	})
	return row, err
}

func (t *tx) readByID(id any) ([]core.Data, error) {
	s := t.schema()
	enc, err := s.EncodeValue(s.PrimaryKey, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}
	idKey, err := makeIDKey(enc)
	if err != nil {
		return nil, err
	}
	row, err := t.get(idKey)
	if errors.Is(err, storage.ErrNotFound) {
		return []core.Data{}, nil
	}
	if err != nil {
		return nil, &storage.QueryError{Err: err}
	}
	data, err := s.Decode(row)
	if err != nil {
		return nil, &storage.QueryError{Err: err}
	}
	return []core.Data{data}, nil
}

// indexLookup retrieves the rows whose indexed field equals value. Hash
// collisions are removed by checking each hit against the filter.
func (t *tx) indexLookup(field string, value any, check core.Filter) ([]core.Data, error) {
	s := t.schema()
	enc, err := s.EncodeValue(field, value)
	if err != nil {
		return nil, err
	}
	hash, err := hashIndexValue(enc)
	if err != nil {
		return nil, err
	}

	var idKeys [][]byte
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeIndexValuePrefix(s.Name, field, hash)
	iter := t.txn.NewIterator(opts)
	for iter.Rewind(); iter.Valid(); iter.Next() {
		idKey, err := iter.Item().ValueCopy(nil)
		if err != nil {
			iter.Close()
			return nil, err
		}
		idKeys = append(idKeys, idKey)
	}
	iter.Close()

	out := make([]core.Data, 0, len(idKeys))
	for _, idKey := range idKeys {
		row, err := t.get(idKey)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		data, err := s.Decode(row)
		if err != nil {
			return nil, err
		}
		if check.Match(data) {
			out = append(out, data)
		}
	}
	return out, nil
}

// scan decodes every record of the store in key order.
func (t *tx) scan(ctx context.Context) ([]core.Data, error) {
	s := t.schema()
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeRecordPrefix(s.Name)
	iter := t.txn.NewIterator(opts)
	defer iter.Close()

	out := make([]core.Data, 0)
	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var row storage.Row
		err := iter.Item().Value(func(val []byte) error {
			var unmarshalErr error
			row, unmarshalErr = storage.UnmarshalRow(val)
			return unmarshalErr
		})
		if err != nil {
			return nil, err
		}
		data, err := s.Decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}
