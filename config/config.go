// Package config loads the YAML description of proxies and models.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendSQL         = "sql"
	BackendObjectStore = "objectstore"
	BackendDynamic     = "dynamic"
)

// ErrInvalidConfig indicates a configuration that failed validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the configuration of a Database.
type Config struct {
	// Backend selects the storage engine: sql, objectstore or dynamic.
	// Default: sql
	Backend string `yaml:"backend"`

	// Proxies is the ordered candidate list of the dynamic backend.
	// Default: [sql, objectstore]
	Proxies []string `yaml:"proxies"`

	// Cloud enables change notifications for committed mutations.
	Cloud bool `yaml:"cloud"`

	// ImplicitFields enables capture of undeclared fields into one column.
	ImplicitFields bool `yaml:"implicitFields"`

	// ImplicitFieldsColName names the implicit column.
	// Default: implicit
	ImplicitFieldsColName string `yaml:"implicitFieldsColName"`

	// DefaultDateFormat is "time", "timestamp" or a Go time layout.
	// Default: time
	DefaultDateFormat string `yaml:"defaultDateFormat"`

	// PoolSize is the number of operations run concurrently. Zero selects
	// the proxy default.
	PoolSize int `yaml:"poolSize"`

	SQL         SQLConfig         `yaml:"sql"`
	ObjectStore ObjectStoreConfig `yaml:"objectstore"`
	Dynamo      DynamoConfig      `yaml:"dynamo"`
	Models      []ModelConfig     `yaml:"models"`
}

// SQLConfig configures the relational backend.
type SQLConfig struct {
	// Driver is the dialect: sqlite or duckdb.
	// Default: sqlite
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ObjectStoreConfig configures the object-store backend.
type ObjectStoreConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
}

// Enabled reports whether an object store location is configured.
func (c ObjectStoreConfig) Enabled() bool {
	return c.InMemory || c.Path != ""
}

// DynamoConfig configures forwarding of cloud changes to DynamoDB.
// Forwarding is disabled without a table.
type DynamoConfig struct {
	Region    string `yaml:"region"`
	Table     string `yaml:"table"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`

	// MaxRetries is the number of publish attempts per batch.
	// Default: 3
	MaxRetries int `yaml:"maxRetries"`
	// RetryDelay is the base delay of the exponential backoff.
	// Default: 1s
	RetryDelay time.Duration `yaml:"retryDelay"`
}

// ModelConfig declares one model.
type ModelConfig struct {
	Name       string `yaml:"name"`
	IDProperty string `yaml:"idProperty"`
	// Table overrides the relational table name.
	Table string `yaml:"table"`
	// DBName overrides the object store name.
	DBName  string        `yaml:"dbName"`
	Indices []string      `yaml:"indices"`
	Fields  []FieldConfig `yaml:"fields"`
}

// FieldConfig declares one model field.
type FieldConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// Persist defaults to true.
	Persist    *bool  `yaml:"persist"`
	DateFormat string `yaml:"dateFormat"`
}

// DefaultConfig returns a Config for an in-memory SQLite database with no
// models.
func DefaultConfig() *Config {
	return &Config{
		Backend:               BackendSQL,
		Proxies:               []string{BackendSQL, BackendObjectStore},
		ImplicitFieldsColName: storage.DefaultImplicitColumn,
		DefaultDateFormat:     storage.DateFormatTime,
		SQL: SQLConfig{
			Driver: "sqlite",
			DSN:    ":memory:",
		},
		Dynamo: DynamoConfig{
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
	}
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a YAML config over DefaultConfig and validates it. Unknown
// keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is valid and complete.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQL, BackendObjectStore:
	case BackendDynamic:
		if len(c.Proxies) == 0 {
			return fmt.Errorf("%w: dynamic backend needs at least one proxy", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.Backend == BackendObjectStore && !c.ObjectStore.Enabled() {
		return fmt.Errorf("%w: objectstore needs a path or inMemory", ErrInvalidConfig)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("%w: poolSize must not be negative", ErrInvalidConfig)
	}
	if c.Dynamo.MaxRetries <= 0 {
		return fmt.Errorf("%w: dynamo.maxRetries must be greater than 0", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Models))
	short := make(map[string]string, len(c.Models))
	for _, m := range c.Models {
		if seen[m.Name] {
			return fmt.Errorf("%w: duplicate model %q", ErrInvalidConfig, m.Name)
		}
		seen[m.Name] = true
		// short names double as table and store names
		name := (&core.Model{Name: m.Name}).ShortName()
		if other, ok := short[name]; ok {
			return fmt.Errorf("%w: models %q and %q share the short name %q", ErrInvalidConfig, other, m.Name, name)
		}
		short[name] = m.Name
		if _, err := m.ToModel(); err != nil {
			return fmt.Errorf("%w: model %q: %w", ErrInvalidConfig, m.Name, err)
		}
	}
	return nil
}

// Model returns the model declaration with the given full or short name.
func (c *Config) Model(name string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	for _, m := range c.Models {
		model := core.Model{Name: m.Name}
		if model.ShortName() == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// ToModel builds the model metadata.
func (m ModelConfig) ToModel() (*core.Model, error) {
	model := &core.Model{
		Name:       m.Name,
		IDProperty: m.IDProperty,
		Fields:     make([]core.Field, 0, len(m.Fields)),
	}
	for _, f := range m.Fields {
		t, err := core.ParseFieldType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		model.Fields = append(model.Fields, core.Field{
			Name:       f.Name,
			Type:       t,
			Transient:  f.Persist != nil && !*f.Persist,
			DateFormat: f.DateFormat,
		})
	}
	if err := core.ValidateModel(model); err != nil {
		return nil, err
	}
	return model, nil
}

// SchemaOptions returns the schema derivation options for a model bound to
// the named backend.
func (c *Config) SchemaOptions(m ModelConfig, backend string) []storage.SchemaOption {
	opts := []storage.SchemaOption{
		storage.WithDefaultDateFormat(c.DefaultDateFormat),
	}
	if c.ImplicitFields {
		opts = append(opts, storage.WithImplicitFields(c.ImplicitFieldsColName))
	}
	switch backend {
	case BackendObjectStore:
		opts = append(opts, storage.WithName(m.DBName), storage.WithIndices(m.Indices...))
	default:
		opts = append(opts, storage.WithName(m.Table))
	}
	return opts
}
