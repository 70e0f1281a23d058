package relational

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/shepsii/dbproxies/storage"
)

// Connection lazily opens and caches one *sql.DB for every store bound to
// it. It is the process-wide storage handle of the relational backend.
type Connection struct {
	dialect Dialect
	dsn     string
	logger  *slog.Logger

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection) error

// WithConnectionLogger sets a custom logger.
// Default is slog.Default().
func WithConnectionLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewConnection creates a connection provider. Nothing is opened until the
// first call to DB.
func NewConnection(dialect Dialect, dsn string, opts ...ConnectionOption) (*Connection, error) {
	if dialect == nil {
		return nil, fmt.Errorf("%w: nil dialect", ErrUnknownDialect)
	}
	c := &Connection{
		dialect: dialect,
		dsn:     dsn,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Dialect returns the connection's dialect.
func (c *Connection) Dialect() Dialect {
	return c.dialect
}

// Supported reports whether the dialect's driver is compiled in.
func (c *Connection) Supported() bool {
	return slices.Contains(sql.Drivers(), c.dialect.DriverName())
}

// DB returns the shared handle, opening it on first use.
func (c *Connection) DB(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, storage.ErrStorageClosed
	}
	if c.db != nil {
		return c.db, nil
	}
	if !c.Supported() {
		return nil, fmt.Errorf("%w: %s", ErrDriverUnavailable, c.dialect.DriverName())
	}

	db, err := sql.Open(c.dialect.DriverName(), c.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.dialect.Name(), err)
	}
	// a single local writer; in-memory databases also live on one connection
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", c.dialect.Name(), err)
	}

	c.logger.Debug("opened sql connection", "dialect", c.dialect.Name())
	c.db = db
	return db, nil
}

// Close closes the shared handle. The connection cannot be reopened.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
