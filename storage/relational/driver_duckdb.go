//go:build duckdb

package relational

import (
	_ "github.com/duckdb/duckdb-go/v2"
)
