package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/shepsii/dbproxies/cloud"
	"github.com/shepsii/dbproxies/storage"
)

// ChangeQueue persists cloud change notifications in the object store so
// they survive restarts until forwarded.
type ChangeQueue struct {
	conn *Connection

	mu  sync.Mutex
	seq *badger.Sequence
}

var (
	_ cloud.Queue  = (*ChangeQueue)(nil)
	_ cloud.Source = (*ChangeQueue)(nil)
)

// NewChangeQueue creates a change queue on conn.
func NewChangeQueue(conn *Connection) *ChangeQueue {
	return &ChangeQueue{conn: conn}
}

// Enqueue implements cloud.Queue. All changes are written in one
// transaction.
func (q *ChangeQueue) Enqueue(ctx context.Context, changes ...cloud.Change) error {
	if len(changes) == 0 {
		return nil
	}
	backend, err := q.conn.Backend()
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.seq == nil {
		if q.seq, err = backend.GetSequence(changeIDSeq); err != nil {
			return err
		}
	}
	seq := q.seq

	return backend.WithTx(func(tx *badger.Txn) error {
		for _, c := range changes {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := seq.Next()
			if err != nil {
				return err
			}
			// Skip 0
			if id == 0 {
				id, err = seq.Next()
				if err != nil {
					return err
				}
			}
			c.Seq = id
			if c.At.IsZero() {
				c.At = time.Now().UTC()
			}
			value, err := marshalChange(c)
			if err != nil {
				return err
			}
			if err := tx.Set(makeChangeKey(id), value); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// Close releases the unused part of the sequence lease. It must run before
// the connection closes.
func (q *ChangeQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.seq == nil {
		return nil
	}
	err := q.seq.Release()
	q.seq = nil
	return err
}

// Pending implements cloud.Source. Changes come back in enqueue order.
func (q *ChangeQueue) Pending(ctx context.Context, limit int) ([]cloud.Change, error) {
	backend, err := q.conn.Backend()
	if err != nil {
		return nil, err
	}
	var out []cloud.Change
	err = backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(changePrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			key := item.Key()
			if len(key) != len(opts.Prefix)+8 {
				continue
			}
			seq := binary.BigEndian.Uint64(key[len(opts.Prefix):])
			err := item.Value(func(val []byte) error {
				c, err := unmarshalChange(val)
				if err != nil {
					return err
				}
				c.Seq = seq
				out = append(out, c)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return out, err
}

// Ack implements cloud.Source.
func (q *ChangeQueue) Ack(ctx context.Context, seqs ...uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	backend, err := q.conn.Backend()
	if err != nil {
		return err
	}
	return backend.WithTx(func(tx *badger.Txn) error {
		for _, seq := range seqs {
			if err := tx.Delete(makeChangeKey(seq)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

func marshalChange(c cloud.Change) ([]byte, error) {
	row := storage.Row{
		"model":    c.Model,
		"recordId": c.RecordID,
		"type":     string(c.Type),
		"at":       c.At.UnixMilli(),
	}
	if c.Field != "" {
		row["field"] = c.Field
		value, err := json.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: change value: %w", storage.ErrSerializationFailed, err)
		}
		row["value"] = string(value)
	}
	if c.Fields != nil {
		fields, err := json.Marshal(c.Fields)
		if err != nil {
			return nil, fmt.Errorf("%w: change fields: %w", storage.ErrSerializationFailed, err)
		}
		row["fields"] = string(fields)
	}
	return storage.MarshalRow(row)
}

func unmarshalChange(data []byte) (cloud.Change, error) {
	row, err := storage.UnmarshalRow(data)
	if err != nil {
		return cloud.Change{}, err
	}
	c := cloud.Change{RecordID: row["recordId"]}
	c.Model, _ = row["model"].(string)
	c.Field, _ = row["field"].(string)
	if t, ok := row["type"].(string); ok {
		c.Type = cloud.ChangeType(t)
	}
	if at, ok := row["at"].(int64); ok {
		c.At = time.UnixMilli(at).UTC()
	}
	if raw, ok := row["value"].(string); ok {
		if c.Value, err = decodeChangeJSON(raw); err != nil {
			return cloud.Change{}, err
		}
	}
	if raw, ok := row["fields"].(string); ok {
		v, err := decodeChangeJSON(raw)
		if err != nil {
			return cloud.Change{}, err
		}
		c.Fields, _ = v.(map[string]any)
	}
	return c, nil
}

func decodeChangeJSON(raw string) (any, error) {
	v, err := storage.DecodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: change payload: %w", storage.ErrSerializationFailed, err)
	}
	return v, nil
}
