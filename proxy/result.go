package proxy

import (
	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
)

// Result is the uniform outcome of an Operation.
//
// Success reports whether the transaction and, for reads, the query
// succeeded; it is independent of per-record write errors. For writes Total
// is the batch size and Count the number of records that succeeded. For
// reads both are the number of returned records.
type Result struct {
	Success bool
	Records []*core.Record
	Total   int
	Count   int
	Errors  []storage.RecordError
}

func failedResult() *Result {
	return &Result{Records: []*core.Record{}}
}
