package storage

import (
	"github.com/shepsii/dbproxies/core"
)

// ApplyQuery runs the in-memory read pipeline used by engines that cannot
// push a query down: sort, then skip start rows, then collect rows passing
// every filter until limit rows are gathered. A limit of zero or less
// collects every remaining match.
func ApplyQuery(rows []core.Data, filters []core.Filter, sorters []core.Sorter, start, limit int) []core.Data {
	core.SortData(rows, sorters)

	if start < 0 {
		start = 0
	}
	if start >= len(rows) {
		return []core.Data{}
	}

	out := make([]core.Data, 0)
	for _, row := range rows[start:] {
		if limit > 0 && len(out) >= limit {
			break
		}
		if matchAll(row, filters) {
			out = append(out, row)
		}
	}
	return out
}

func matchAll(row core.Data, filters []core.Filter) bool {
	for _, f := range filters {
		if !f.Match(row) {
			return false
		}
	}
	return true
}

// Window returns the start and limit a paged query applies. Unpaged
// queries read everything.
func (q *Query) Window() (start, limit int) {
	if !q.Paged() {
		return 0, 0
	}
	return q.Start, q.Limit
}
