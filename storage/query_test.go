package storage

import (
	"testing"

	"github.com/shepsii/dbproxies/core"
	"github.com/stretchr/testify/assert"
)

func ids(rows []core.Data) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r["id"]
	}
	return out
}

func sample() []core.Data {
	return []core.Data{
		{"id": int64(1), "status": "open", "prio": int64(3)},
		{"id": int64(2), "status": "closed", "prio": int64(1)},
		{"id": int64(3), "status": "open", "prio": int64(2)},
		{"id": int64(4), "status": "open", "prio": int64(5)},
		{"id": int64(5), "status": "closed", "prio": int64(4)},
	}
}

func TestApplyQuery(t *testing.T) {
	byPrio := []core.Sorter{{Property: "prio", Direction: core.Descending}}
	open := []core.Filter{{Property: "status", Value: "open"}}

	tests := []struct {
		name    string
		filters []core.Filter
		sorters []core.Sorter
		start   int
		limit   int
		want    []any
	}{
		{"everything", nil, nil, 0, 0, []any{int64(1), int64(2), int64(3), int64(4), int64(5)}},
		{"sorted", nil, byPrio, 0, 0, []any{int64(4), int64(5), int64(1), int64(3), int64(2)}},
		{"filtered", open, nil, 0, 0, []any{int64(1), int64(3), int64(4)}},
		{"limit counts matches", open, byPrio, 0, 2, []any{int64(4), int64(1)}},
		// start skips sorted candidates before filtering
		{"start before filter", open, byPrio, 2, 0, []any{int64(1), int64(3)}},
		{"start past end", nil, nil, 9, 0, []any{}},
		{"substring", []core.Filter{{Property: "status", Value: "LOS", AnyMatch: true}}, nil, 0, 0, []any{int64(2), int64(5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyQuery(sample(), tt.filters, tt.sorters, tt.start, tt.limit)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestQuery_Window(t *testing.T) {
	q := &Query{Start: 5, Limit: 10}
	start, limit := q.Window()
	assert.Zero(t, start)
	assert.Zero(t, limit)

	q.Page = 1
	start, limit = q.Window()
	assert.Equal(t, 5, start)
	assert.Equal(t, 10, limit)
	assert.False(t, q.ByID())
}
