package relational

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shepsii/dbproxies/storage"
)

var (
	// ErrUnknownDialect indicates a dialect name with no implementation.
	ErrUnknownDialect = errors.New("unknown sql dialect")

	// ErrDriverUnavailable indicates the dialect's driver is not compiled in.
	ErrDriverUnavailable = errors.New("sql driver not available")
)

// conflictMarkers are lower-cased fragments of driver messages reporting
// primary key or unique violations.
var conflictMarkers = []string{
	"unique constraint",
	"constraint failed: unique",
	"primary key constraint",
	"duplicate key",
	"constraint error",
}

// mapExecError turns a driver error from a write into the storage taxonomy.
func mapExecError(table string, id any, err error) error {
	msg := strings.ToLower(err.Error())
	for _, m := range conflictMarkers {
		if strings.Contains(msg, m) {
			return &storage.ConflictError{Store: table, Key: fmt.Sprint(id), Err: err}
		}
	}
	return err
}
