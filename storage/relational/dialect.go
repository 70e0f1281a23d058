package relational

import (
	"fmt"
	"strings"

	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
)

// Dialect captures the differences between SQL engines.
type Dialect interface {
	// Name is the dialect name used in configuration.
	Name() string
	// DriverName is the database/sql driver the dialect opens.
	DriverName() string
	// ColumnType renders the DDL type of a column.
	ColumnType(c storage.Column) string
	// LimitClause renders pagination for a paged read.
	LimitClause(start, limit int) string
	// Transactional reports whether a failed statement leaves the
	// surrounding transaction usable. Dialects that cannot recover run
	// each statement in autocommit instead.
	Transactional() bool
}

// Dialect names.
const (
	SQLite = "sqlite"
	DuckDB = "duckdb"
)

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case SQLite, "sqlite3", "":
		return sqliteDialect{}, nil
	case DuckDB:
		return duckdbDialect{}, nil
	}
	return nil, fmt.Errorf("%w: unknown sql dialect %q", ErrUnknownDialect, name)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return SQLite }
func (sqliteDialect) DriverName() string { return "sqlite" }

func (sqliteDialect) ColumnType(c storage.Column) string {
	return c.StorageType
}

func (sqliteDialect) LimitClause(start, limit int) string {
	return fmt.Sprintf("LIMIT %d, %d", start, limit)
}

func (sqliteDialect) Transactional() bool { return true }

// duckdbDialect maps the logical storage types onto DuckDB's strict types
// and stores dates in their numeric encoding.
type duckdbDialect struct{}

func (duckdbDialect) Name() string       { return DuckDB }
func (duckdbDialect) DriverName() string { return "duckdb" }

func (duckdbDialect) ColumnType(c storage.Column) string {
	if c.Type == core.FieldTypeDate {
		switch c.DateFormat {
		case storage.DateFormatTime, "":
			return "BIGINT"
		case storage.DateFormatTimestamp:
			return "DOUBLE"
		}
		return "VARCHAR"
	}
	switch c.StorageType {
	case storage.TypeInteger:
		return "BIGINT"
	case storage.TypeReal:
		return "DOUBLE"
	case storage.TypeNumeric:
		return "BOOLEAN"
	}
	return "VARCHAR"
}

func (duckdbDialect) LimitClause(start, limit int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, start)
}

func (duckdbDialect) Transactional() bool { return false }
