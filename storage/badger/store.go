package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/shepsii/dbproxies/storage"
)

// Kind is the backend kind reported by object stores.
const Kind = "objectstore"

// Stats counts how reads were served.
type Stats struct {
	IndexReads uint64
	FullScans  uint64
}

// Store is the object-store backend for one model: records keyed by the id
// property plus single-field secondary indices, all under one key prefix.
type Store struct {
	conn   *Connection
	schema *storage.Schema
	logger *slog.Logger

	mu      sync.Mutex
	open    bool
	version int64

	indexReads atomic.Uint64
	fullScans  atomic.Uint64
}

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewStore binds an object store to a schema. The store is opened, and
// created or upgraded, by the first transaction.
func NewStore(conn *Connection, schema *storage.Schema, opts ...Option) (*Store, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: nil connection", storage.ErrStorageClosed)
	}
	if schema == nil {
		return nil, fmt.Errorf("%w: nil schema", storage.ErrInvalidSchema)
	}
	s := &Store{
		conn:   conn,
		schema: schema,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Factory returns a storage.Factory binding stores to conn.
func Factory(conn *Connection, opts ...Option) storage.Factory {
	return func(schema *storage.Schema) (storage.Backend, error) {
		return NewStore(conn, schema, opts...)
	}
}

// Kind implements storage.Backend.
func (s *Store) Kind() string {
	return Kind
}

// Schema implements storage.Backend.
func (s *Store) Schema() *storage.Schema {
	return s.schema
}

// Stats returns the read counters.
func (s *Store) Stats() Stats {
	return Stats{
		IndexReads: s.indexReads.Load(),
		FullScans:  s.fullScans.Load(),
	}
}

// Version returns the layout version of the open store, or zero before
// the first transaction.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Begin implements storage.Backend.
func (s *Store) Begin(ctx context.Context, mode storage.Mode) (storage.Tx, error) {
	backend, err := s.conn.Backend()
	if err != nil {
		return nil, err
	}
	if err := s.ensureOpen(backend); err != nil {
		return nil, err
	}
	return &tx{
		store: s,
		txn:   backend.db.NewTransaction(mode == storage.ReadWrite),
	}, nil
}

// Drop implements storage.Backend. It deletes every record, index entry
// and the layout of the store; the next transaction creates it again.
func (s *Store) Drop(ctx context.Context) error {
	backend, err := s.conn.Backend()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = backend.db.DropPrefix(
		makeRecordPrefix(s.schema.Name),
		makeIndexPrefix(s.schema.Name),
		makeMetaKey(s.schema.Name),
	)
	if err != nil {
		return fmt.Errorf("delete store %s: %w", s.schema.Name, err)
	}
	s.open = false
	s.version = 0
	s.logger.Info("deleted store", "store", s.schema.Name)
	return nil
}

// layout is the persisted description of a store.
type layout struct {
	version    int64
	idProperty string
	indices    []string
}

func (l layout) row() storage.Row {
	return storage.Row{
		"version":    l.version,
		"idProperty": l.idProperty,
		"indices":    strings.Join(l.indices, ","),
	}
}

func layoutFromRow(row storage.Row) layout {
	l := layout{}
	l.version, _ = row["version"].(int64)
	l.idProperty, _ = row["idProperty"].(string)
	if idx, _ := row["indices"].(string); idx != "" {
		l.indices = strings.Split(idx, ",")
	}
	return l
}

// ensureOpen creates the store on first use and upgrades it when the
// persisted layout differs from the schema.
func (s *Store) ensureOpen(backend *Backend) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}

	current, found, err := s.loadLayout(backend)
	if err != nil {
		return fmt.Errorf("%w: open store %s: %w", storage.ErrTransactionFailed, s.schema.Name, err)
	}

	want := layout{
		version:    1,
		idProperty: s.schema.PrimaryKey,
		indices:    slices.Clone(s.schema.Indices),
	}
	slices.Sort(want.indices)

	switch {
	case !found:
		if err := s.saveLayout(backend, want); err != nil {
			return fmt.Errorf("%w: create store %s: %w", storage.ErrTransactionFailed, s.schema.Name, err)
		}
		s.logger.Debug("created store", "store", s.schema.Name)
	case current.idProperty != want.idProperty || !slices.Equal(current.indices, want.indices):
		want.version = current.version + 1
		if err := s.upgrade(backend, current, want); err != nil {
			return fmt.Errorf("%w: upgrade store %s: %w", storage.ErrTransactionFailed, s.schema.Name, err)
		}
		s.logger.Info("upgraded store", "store", s.schema.Name, "version", want.version)
	default:
		want = current
	}

	s.open = true
	s.version = want.version
	return nil
}

func (s *Store) loadLayout(backend *Backend) (layout, bool, error) {
	var (
		l     layout
		found bool
	)
	err := backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeMetaKey(s.schema.Name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			row, err := storage.UnmarshalRow(val)
			if err != nil {
				return err
			}
			l = layoutFromRow(row)
			found = true
			return nil
		})
	}, false)
	return l, found, err
}

func (s *Store) saveLayout(backend *Backend, l layout) error {
	value, err := storage.MarshalRow(l.row())
	if err != nil {
		return err
	}
	return backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeMetaKey(s.schema.Name), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// upgrade rekeys records when the id property changed and rebuilds every
// index entry for the new index list.
func (s *Store) upgrade(backend *Backend, from, to layout) error {
	var rows []storage.Row
	err := backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeRecordPrefix(s.schema.Name)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				row, err := storage.UnmarshalRow(val)
				if err != nil {
					return err
				}
				rows = append(rows, row)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return err
	}

	prefixes := [][]byte{makeIndexPrefix(s.schema.Name)}
	if from.idProperty != to.idProperty {
		prefixes = append(prefixes, makeRecordPrefix(s.schema.Name))
	}
	if err := backend.db.DropPrefix(prefixes...); err != nil {
		return err
	}

	wb := backend.db.NewWriteBatch()
	defer wb.Cancel()

	for _, row := range rows {
		idKey, err := makeIDKey(row[to.idProperty])
		if err != nil {
			s.logger.Warn("dropping record without id during upgrade", "store", s.schema.Name, "idProperty", to.idProperty)
			continue
		}
		if from.idProperty != to.idProperty {
			value, err := storage.MarshalRow(row)
			if err != nil {
				return err
			}
			if err := wb.Set(makeRecordKey(s.schema.Name, idKey), value); err != nil {
				return err
			}
		}
		for _, field := range to.indices {
			hash, err := hashIndexValue(row[field])
			if err != nil {
				return err
			}
			if err := wb.Set(makeIndexKey(s.schema.Name, field, hash, idKey), idKey); err != nil {
				return err
			}
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	return s.saveLayout(backend, to)
}
