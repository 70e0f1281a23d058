package relational

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shepsii/dbproxies/storage"
)

// Kind is the backend kind reported by relational stores.
const Kind = "sql"

// DBTX is the statement surface shared by *sql.DB, *sql.Conn and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store is the relational backend for one model: one table whose columns
// are the schema's persisted columns.
type Store struct {
	conn   *Connection
	schema *storage.Schema
	logger *slog.Logger

	mu         sync.Mutex
	tableReady bool
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

// New binds a relational store to a schema. The table is created lazily by
// the first transaction.
func New(conn *Connection, schema *storage.Schema, opts ...Option) (*Store, error) {
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
		return New(conn, schema, opts...)
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

// Begin implements storage.Backend.
func (s *Store) Begin(ctx context.Context, mode storage.Mode) (storage.Tx, error) {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, db); err != nil {
		return nil, err
	}

	if s.conn.Dialect().Transactional() {
		sqlTx, err := db.BeginTx(ctx, txOptions(mode))
		if err != nil {
			return nil, fmt.Errorf("%w: begin: %w", storage.ErrTransactionFailed, err)
		}
		return &tx{store: s, q: sqlTx, sqlTx: sqlTx}, nil
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", storage.ErrTransactionFailed, err)
	}
	return &tx{store: s, q: conn, conn: conn}, nil
}

// txOptions maps a storage mode onto database/sql transaction options.
func txOptions(mode storage.Mode) *sql.TxOptions {
	return &sql.TxOptions{ReadOnly: mode == storage.ReadOnly}
}

// Drop implements storage.Backend. The next transaction recreates the table.
func (s *Store) Drop(ctx context.Context) error {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := db.ExecContext(ctx, dropTableSQL(s.schema)); err != nil {
		return fmt.Errorf("drop table %s: %w", s.schema.Name, err)
	}
	s.tableReady = false
	s.logger.Info("dropped table", "table", s.schema.Name)
	return nil
}

// ensureTable runs CREATE TABLE IF NOT EXISTS once per store.
func (s *Store) ensureTable(ctx context.Context, db DBTX) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tableReady {
		return nil
	}
	if _, err := db.ExecContext(ctx, createTableSQL(s.schema, s.conn.Dialect())); err != nil {
		return fmt.Errorf("%w: create table %s: %w", storage.ErrTransactionFailed, s.schema.Name, err)
	}
	s.tableReady = true
	s.logger.Debug("table ready", "table", s.schema.Name)
	return nil
}
