// Package store contains the database layer for snapops.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue defines the interface for the durable execution queue.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics.
type Queue interface {
	// Enqueue adds a new execution to the queue.
	Enqueue(ctx context.Context, tx DBTransaction, executionID uuid.UUID, payload json.RawMessage, visibleAfter time.Time) (int64, error)

	// DequeueBatch claims up to 'limit' available executions atomically.
	// Returns nil slice if queue is empty.
	DequeueBatch(ctx context.Context, agencyIDs []uuid.UUID, limit int) ([]QueueItem, error)

	// Complete removes a finished execution from the queue.
	Complete(ctx context.Context, tx DBTransaction, executionID uuid.UUID) error

	// Fail retries the execution with backoff; once retries are exhausted the
	// execution is marked FAILED with errMsg and dropped from the queue.
	Fail(ctx context.Context, tx DBTransaction, executionID uuid.UUID, errMsg string) error

	// SetVisibleAfter extends the visibility timeout (heartbeat).
	SetVisibleAfter(ctx context.Context, tx DBTransaction, executionID uuid.UUID, visibleAfter time.Time) error

	// Count tracks count of items in queue.
	Count(ctx context.Context) (int64, error)
}

// QueueItem represents a dequeued execution from the queue.
type QueueItem struct {
	ExecutionID uuid.UUID
	Payload     json.RawMessage
}
