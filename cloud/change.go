// Package cloud carries change notifications for committed mutations to an
// external synchronization layer.
//
// A Proxy with a Queue enqueues one Change per created or erased record and
// one Change per modified field of an updated record, after the backend
// transaction commits. Queues that also implement Source can be drained to a
// Publisher such as the DynamoDB sink in cloud/dynamo.
package cloud

import (
	"context"
	"errors"
	"time"
)

// ChangeType classifies a change notification.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ErrQueueClosed indicates a queue that no longer accepts changes.
var ErrQueueClosed = errors.New("change queue closed")

// Change is one committed mutation of one record.
type Change struct {
	// Seq orders changes within a queue; assigned on enqueue.
	Seq      uint64     `json:"seq" dynamodbav:"seq"`
	Model    string     `json:"model" dynamodbav:"model"`
	RecordID any        `json:"recordId" dynamodbav:"recordId"`
	Type     ChangeType `json:"type" dynamodbav:"type"`
	// Fields holds the persisted row of a created record.
	Fields map[string]any `json:"fields,omitempty" dynamodbav:"fields,omitempty"`
	// Field and Value describe one modified field of an updated record.
	Field string    `json:"field,omitempty" dynamodbav:"field,omitempty"`
	Value any       `json:"value,omitempty" dynamodbav:"value,omitempty"`
	At    time.Time `json:"at" dynamodbav:"at,unixtime"`
}

// Queue accepts change notifications.
type Queue interface {
	Enqueue(ctx context.Context, changes ...Change) error
}

// Source hands out queued changes in sequence order until acknowledged.
type Source interface {
	Pending(ctx context.Context, limit int) ([]Change, error)
	Ack(ctx context.Context, seqs ...uint64) error
}

// Publisher delivers changes to a remote system.
type Publisher interface {
	Publish(ctx context.Context, changes ...Change) error
}

// Forward drains up to limit pending changes from src to dst and
// acknowledges them once published. It returns the number forwarded.
func Forward(ctx context.Context, src Source, dst Publisher, limit int) (int, error) {
	changes, err := src.Pending(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}
	if err := dst.Publish(ctx, changes...); err != nil {
		return 0, err
	}
	seqs := make([]uint64, len(changes))
	for i, c := range changes {
		seqs[i] = c.Seq
	}
	if err := src.Ack(ctx, seqs...); err != nil {
		return 0, err
	}
	return len(changes), nil
}
