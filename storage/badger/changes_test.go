package badger

import (
	"context"
	"testing"
	"time"

	"github.com/shepsii/dbproxies/cloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeQueue(t *testing.T) {
	conn, err := NewConnection("", true)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	q := NewChangeQueue(conn)
	defer q.Close()

	at := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, q.Enqueue(ctx,
		cloud.Change{Model: "Note", RecordID: "a", Type: cloud.ChangeCreate, At: at,
			Fields: map[string]any{"status": "open", "priority": int64(2)}},
		cloud.Change{Model: "Note", RecordID: "a", Type: cloud.ChangeUpdate, Field: "status", Value: "closed", At: at},
	))
	require.NoError(t, q.Enqueue(ctx, cloud.Change{Model: "Counter", RecordID: int64(7), Type: cloud.ChangeDelete}))

	pending, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	assert.NotZero(t, pending[0].Seq)
	assert.Less(t, pending[0].Seq, pending[1].Seq)
	assert.Less(t, pending[1].Seq, pending[2].Seq)

	assert.Equal(t, cloud.ChangeCreate, pending[0].Type)
	assert.Equal(t, "a", pending[0].RecordID)
	assert.Equal(t, at, pending[0].At)
	assert.Equal(t, map[string]any{"status": "open", "priority": int64(2)}, pending[0].Fields)

	assert.Equal(t, "status", pending[1].Field)
	assert.Equal(t, "closed", pending[1].Value)

	assert.Equal(t, "Counter", pending[2].Model)
	assert.Equal(t, int64(7), pending[2].RecordID)
	assert.False(t, pending[2].At.IsZero())

	first, err := q.Pending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, pending[0].Seq, first[0].Seq)

	require.NoError(t, q.Ack(ctx, pending[0].Seq, pending[1].Seq))
	rest, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, pending[2].Seq, rest[0].Seq)
}

func TestChangeQueue_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	conn, err := NewConnection(dir, false)
	require.NoError(t, err)
	q := NewChangeQueue(conn)
	require.NoError(t, q.Enqueue(ctx, cloud.Change{Model: "Note", RecordID: "a", Type: cloud.ChangeCreate}))
	require.NoError(t, q.Close())
	require.NoError(t, conn.Close())

	conn, err = NewConnection(dir, false)
	require.NoError(t, err)
	defer conn.Close()
	q = NewChangeQueue(conn)
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, cloud.Change{Model: "Note", RecordID: "b", Type: cloud.ChangeCreate}))

	pending, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].RecordID)
	assert.Equal(t, "b", pending[1].RecordID)
	assert.Less(t, pending[0].Seq, pending[1].Seq)
}
