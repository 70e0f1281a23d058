package badger

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/shepsii/dbproxies/storage"
)

const (
	defaultSequenceBandwidth = 100
)

// Backend wraps a BadgerDB instance and provides low-level operations.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, inMemory bool, logger *slog.Logger) (*Backend, error) {
	var opts badger.Options

	if logger == nil {
		logger = slog.Default()
	}

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// Ensure directory exists
		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(filePath, 0755); err != nil {
					return nil, err
				}
				info, err = os.Stat(filePath)
				if err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", filePath)
		}
		opts = badger.DefaultOptions(filePath)
	}

	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Backend{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// WithTx executes a function within a BadgerDB transaction.
// If isWrite is true, creates a read-write transaction.
// The transaction is automatically discarded if fn returns an error.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// GetSequence returns a BadgerDB sequence for generating sequential IDs.
func (b *Backend) GetSequence(name string) (*badger.Sequence, error) {
	return b.db.GetSequence([]byte(name), defaultSequenceBandwidth)
}

// Connection lazily opens one Backend shared by every store bound to it.
type Connection struct {
	path     string
	inMemory bool
	logger   *slog.Logger

	mu      sync.Mutex
	backend *Backend
	closed  bool
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

// NewConnection creates a connection provider for the database at path,
// or an in-memory database. Nothing is opened until the first call to
// Backend.
func NewConnection(path string, inMemory bool, opts ...ConnectionOption) (*Connection, error) {
	if path == "" && !inMemory {
		return nil, fmt.Errorf("%w: object store path is required", storage.ErrInvalidSchema)
	}
	c := &Connection{
		path:     path,
		inMemory: inMemory,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Backend returns the shared backend, opening it on first use.
func (c *Connection) Backend() (*Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, storage.ErrStorageClosed
	}
	if c.backend != nil {
		return c.backend, nil
	}

	backend, err := OpenBackend(c.path, c.inMemory, c.logger)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	c.logger.Debug("opened object store", "path", c.path, "inMemory", c.inMemory)
	c.backend = backend
	return backend, nil
}

// Supported reports whether the object store can be used. BadgerDB is
// compiled in, so only a closed connection is unsupported.
func (c *Connection) Supported() bool {
	return !c.IsClosed()
}

// Close closes the shared backend. The connection cannot be reopened.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.backend == nil {
		return nil
	}
	err := c.backend.Close()
	c.backend = nil
	return err
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
