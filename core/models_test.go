package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskModel() *Model {
	return &Model{
		Name: "App.model.Task",
		Fields: []Field{
			{Name: "id", Type: FieldTypeString},
			{Name: "title", Type: FieldTypeString},
			{Name: "count", Type: FieldTypeInt},
		},
	}
}

func TestModelShortName(t *testing.T) {
	assert.Equal(t, "Task", taskModel().ShortName())
	assert.Equal(t, "Plain", (&Model{Name: "Plain"}).ShortName())
}

func TestNewRecordAssignsStringID(t *testing.T) {
	rec := NewRecord(taskModel(), Data{"title": "write tests"})

	assert.True(t, rec.IsPhantom())
	id, ok := rec.ID().(string)
	require.True(t, ok)
	assert.Len(t, id, 36)
	assert.False(t, rec.IsDirty())
}

func TestNewRecordKeepsIntegerIDUnset(t *testing.T) {
	model := &Model{Name: "Counter", Fields: []Field{{Name: "id", Type: FieldTypeInt}}}
	rec := NewRecord(model, nil)
	assert.Nil(t, rec.ID())
}

func TestRecordModificationTracking(t *testing.T) {
	rec := LoadRecord(taskModel(), Data{"id": "a", "title": "old", "count": int64(1)})
	assert.False(t, rec.IsPhantom())

	rec.Set("title", "old")
	assert.Empty(t, rec.Modified(), "setting the same value is not a modification")

	rec.Set("title", "new")
	rec.Set("count", int64(2))
	assert.Equal(t, []string{"count", "title"}, rec.Modified())

	rec.Set("title", "old")
	assert.Equal(t, []string{"count"}, rec.Modified(), "restoring the committed value clears the modification")

	rec.Commit()
	assert.Empty(t, rec.Modified())
	assert.Equal(t, int64(2), rec.Get("count"))
}

func TestRecordCommitClearsPhantom(t *testing.T) {
	rec := NewRecord(taskModel(), Data{"id": "x"})
	rec.Set("title", "hello")
	require.True(t, rec.IsDirty())

	rec.Commit()
	assert.False(t, rec.IsPhantom())
	assert.False(t, rec.IsDirty())
}

func TestRecordDataIsCopy(t *testing.T) {
	rec := LoadRecord(taskModel(), Data{"id": "a"})
	d := rec.Data()
	d["title"] = "mutated"
	assert.False(t, rec.Has("title"))
}

func TestFilterMatch(t *testing.T) {
	data := Data{"status": "Open", "count": int64(3)}

	assert.True(t, Filter{Property: "status", Value: "Open"}.Match(data))
	assert.False(t, Filter{Property: "status", Value: "open"}.Match(data))
	assert.True(t, Filter{Property: "status", Value: "pe", AnyMatch: true}.Match(data))
	assert.True(t, Filter{Property: "count", Value: 3.0}.Match(data))
	assert.True(t, Filter{}.Match(data))
	assert.False(t, Filter{Property: "missing", Value: "x", AnyMatch: true}.Match(data))
}

func TestSortData(t *testing.T) {
	now := time.Now()
	rows := []Data{
		{"id": "a", "rank": int64(2), "at": now},
		{"id": "b", "rank": int64(1), "at": now.Add(time.Second)},
		{"id": "c", "rank": int64(2), "at": now.Add(-time.Second)},
		{"id": "d"},
	}

	SortData(rows, []Sorter{{Property: "rank", Direction: Descending}, {Property: "at"}})

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r["id"].(string)
	}
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids)
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, 0, CompareValues(int64(3), 3.0))
	assert.Equal(t, -1, CompareValues(nil, "a"))
	assert.Equal(t, 1, CompareValues("b", "a"))
	assert.Equal(t, -1, CompareValues(false, true))
}
