// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package dbproxies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/panjf2000/ants/v2"
	"github.com/shepsii/dbproxies/cloud"
	"github.com/shepsii/dbproxies/cloud/dynamo"
	"github.com/shepsii/dbproxies/config"
	"github.com/shepsii/dbproxies/proxy"
	"github.com/shepsii/dbproxies/storage"
	"github.com/shepsii/dbproxies/storage/badger"
	"github.com/shepsii/dbproxies/storage/relational"
)

var (
	// ErrUnknownModel is returned when no proxy is bound for a model name.
	ErrUnknownModel = errors.New("unknown model")

	// ErrCloudDisabled is returned by change operations when cloud is off.
	ErrCloudDisabled = errors.New("cloud changes are disabled")

	// ErrNoSink is returned by Sync when no DynamoDB table is configured.
	ErrNoSink = errors.New("no change sink configured")
)

// Database opens the configured storage connections and binds one Proxy
// per declared model.
type Database struct {
	cfg      *config.Config
	sqlConn  *relational.Connection
	objConn  *badger.Connection
	registry *proxy.Registry
	pool     *ants.Pool
	queue    cloud.Queue
	proxies  map[string]*proxy.Proxy
	models   []string
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	logger *slog.Logger
	queue  cloud.Queue
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
	}
}

// WithQueue overrides the queue receiving cloud changes.
func WithQueue(queue cloud.Queue) DatabaseOption {
	return func(o *databaseOptions) {
		o.queue = queue
	}
}

// Open validates cfg, creates the connection providers and binds a proxy
// for every model. Connections are opened lazily by the first operation.
func Open(cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Apply options
	options := &databaseOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	db := &Database{
		cfg:      cfg,
		registry: proxy.NewRegistry(options.logger),
		proxies:  make(map[string]*proxy.Proxy),
		logger:   options.logger,
	}

	if err := db.openConnections(); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Cloud {
		switch {
		case options.queue != nil:
			db.queue = options.queue
		case db.objConn != nil:
			db.queue = badger.NewChangeQueue(db.objConn)
		default:
			db.queue = cloud.NewMemoryQueue()
		}
	}

	// Default pool size
	poolSize := cfg.PoolSize
	if poolSize < 1 {
		poolSize = max(runtime.NumCPU()/2, 1)
	}
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true))
	if err != nil {
		db.Close()
		return nil, err
	}
	db.pool = pool

	for _, mc := range cfg.Models {
		if err := db.bind(mc); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func (db *Database) openConnections() error {
	cfg := db.cfg

	dialect, err := relational.DialectFor(cfg.SQL.Driver)
	if err != nil {
		return err
	}
	db.sqlConn, err = relational.NewConnection(dialect, cfg.SQL.DSN, relational.WithConnectionLogger(db.logger))
	if err != nil {
		return err
	}
	err = db.registry.Register(proxy.Candidate{
		Name:      config.BackendSQL,
		Supported: db.sqlConn.Supported,
		Factory: db.derive(config.BackendSQL, func(s *storage.Schema) (storage.Backend, error) {
			return relational.New(db.sqlConn, s, relational.WithLogger(db.logger))
		}),
	})
	if err != nil {
		return err
	}

	if !cfg.ObjectStore.Enabled() {
		return nil
	}
	db.objConn, err = badger.NewConnection(cfg.ObjectStore.Path, cfg.ObjectStore.InMemory, badger.WithConnectionLogger(db.logger))
	if err != nil {
		return err
	}
	return db.registry.Register(proxy.Candidate{
		Name:      config.BackendObjectStore,
		Supported: db.objConn.Supported,
		Factory: db.derive(config.BackendObjectStore, func(s *storage.Schema) (storage.Backend, error) {
			return badger.NewStore(db.objConn, s, badger.WithLogger(db.logger))
		}),
	})
}

// derive returns a factory that re-derives the model's schema with the
// options of the named backend before opening it.
func (db *Database) derive(backend string, open storage.Factory) storage.Factory {
	return func(seed *storage.Schema) (storage.Backend, error) {
		mc, _ := db.cfg.Model(seed.Model.Name)
		schema, err := storage.DeriveSchema(seed.Model, db.cfg.SchemaOptions(mc, backend)...)
		if err != nil {
			return nil, err
		}
		return open(schema)
	}
}

func (db *Database) bind(mc config.ModelConfig) error {
	model, err := mc.ToModel()
	if err != nil {
		return err
	}
	seed, err := storage.DeriveSchema(model)
	if err != nil {
		return err
	}

	candidates := []string{db.cfg.Backend}
	if db.cfg.Backend == config.BackendDynamic {
		candidates = db.cfg.Proxies
	}
	backend, name, err := db.registry.Resolve(seed, candidates...)
	if err != nil {
		return fmt.Errorf("model %s: %w", model.Name, err)
	}

	opts := []proxy.Option{
		proxy.WithPool(db.pool),
		proxy.WithLogger(db.logger.With("model", model.ShortName())),
	}
	if db.queue != nil {
		opts = append(opts, proxy.WithCloud(db.queue))
	}
	p, err := proxy.New(backend, opts...)
	if err != nil {
		return err
	}

	db.proxies[model.Name] = p
	db.proxies[model.ShortName()] = p
	db.models = append(db.models, model.Name)
	db.logger.Debug("bound proxy", "model", model.Name, "backend", name, "store", backend.Schema().Name)
	return nil
}

// Proxy returns the proxy bound for a model, by full or short name.
func (db *Database) Proxy(name string) (*proxy.Proxy, error) {
	p, ok := db.proxies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return p, nil
}

// Models returns the full names of the bound models in declaration order.
func (db *Database) Models() []string {
	out := make([]string, len(db.models))
	copy(out, db.models)
	return out
}

// Changes returns the source of queued cloud changes.
func (db *Database) Changes() (cloud.Source, error) {
	src, ok := db.queue.(cloud.Source)
	if !ok {
		return nil, ErrCloudDisabled
	}
	return src, nil
}

// Forward drains up to limit queued changes to pub.
func (db *Database) Forward(ctx context.Context, pub cloud.Publisher, limit int) (int, error) {
	src, err := db.Changes()
	if err != nil {
		return 0, err
	}
	return cloud.Forward(ctx, src, pub, limit)
}

// Sync forwards up to limit queued changes to the configured DynamoDB table.
func (db *Database) Sync(ctx context.Context, limit int) (int, error) {
	settings := db.cfg.Dynamo
	if settings.Table == "" {
		return 0, ErrNoSink
	}
	client, err := dynamo.NewClient(ctx, dynamo.Settings{
		Region:    settings.Region,
		Table:     settings.Table,
		Endpoint:  settings.Endpoint,
		AccessKey: settings.AccessKey,
		SecretKey: settings.SecretKey,
	})
	if err != nil {
		return 0, err
	}
	sink, err := dynamo.NewSink(client, settings.Table, dynamo.WithLogger(db.logger))
	if err != nil {
		return 0, err
	}
	pub, err := cloud.NewRetryingPublisher(sink, settings.MaxRetries, settings.RetryDelay, db.logger)
	if err != nil {
		return 0, err
	}
	return db.Forward(ctx, pub, limit)
}

// Close waits for in-flight operations, then releases the pool and closes
// the change queue and connections.
func (db *Database) Close() error {
	seen := make(map[*proxy.Proxy]bool, len(db.proxies))
	for _, p := range db.proxies {
		if !seen[p] {
			seen[p] = true
			p.Release()
		}
	}
	if db.pool != nil {
		db.pool.Release()
	}

	var errs []error
	if q, ok := db.queue.(interface{ Close() error }); ok {
		if err := q.Close(); err != nil {
			db.logger.Error("error closing change queue", "err", err)
			errs = append(errs, err)
		}
	}
	if db.objConn != nil {
		if err := db.objConn.Close(); err != nil {
			db.logger.Error("error closing object store", "err", err)
			errs = append(errs, err)
		}
	}
	if db.sqlConn != nil {
		if err := db.sqlConn.Close(); err != nil {
			db.logger.Error("error closing sql connection", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
