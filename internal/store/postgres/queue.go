package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"snapops/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Default retry policy
const (
	MaxRetries        = 5
	VisibilityTimeout = 5 * time.Minute
)

// Enqueue adds an execution to the execution_queue.
func (s *Store) Enqueue(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, payload json.RawMessage, visibleAfter time.Time) (int64, error) {
	if visibleAfter.IsZero() {
		visibleAfter = time.Now()
	}

	query := `
		INSERT INTO execution_queue (execution_id, agency_id, payload, visible_after)
		SELECT $1, agency_id, $2, $3
		FROM executions
		WHERE id = $1
		RETURNING id
	`

	executor := s.getExecutor(tx)

	var id int64
	err := executor.QueryRowContext(ctx, query, executionID, payload, visibleAfter).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue execution %s: %w", executionID, err)
	}

	return id, nil
}

// DequeueBatch claims up to 'limit' available executions atomically using
// SELECT ... FOR UPDATE SKIP LOCKED. Returns nil slice if none are visible.
func (s *Store) DequeueBatch(ctx context.Context, agencyIDs []uuid.UUID, limit int) ([]store.QueueItem, error) {
	if limit <= 0 {
		limit = 1
	}

	// Start a transaction for the batch dequeue operation
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Build WHERE clause and args
	args := []interface{}{limit}
	whereClause := "WHERE visible_after <= NOW()"

	if len(agencyIDs) > 0 {
		whereClause += " AND agency_id = ANY($2)"
		args = append(args, pq.Array(agencyIDs))
	}

	selectQuery := fmt.Sprintf(`
		SELECT id, execution_id, payload
		FROM execution_queue
		%s
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, whereClause)

	rows, err := tx.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("batch dequeue query failed: %w", err)
	}
	defer rows.Close()

	var items []store.QueueItem
	var queueIDs []int64

	for rows.Next() {
		var queueID int64
		var item store.QueueItem
		if err := rows.Scan(&queueID, &item.ExecutionID, &item.Payload); err != nil {
			return nil, fmt.Errorf("batch dequeue scan failed: %w", err)
		}
		items = append(items, item)
		queueIDs = append(queueIDs, queueID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch dequeue rows error: %w", err)
	}

	// Empty queue
	if len(items) == 0 {
		return nil, nil
	}

	// Bulk update visibility timeout and attempt count for all claimed items
	_, err = tx.ExecContext(ctx, `
		UPDATE execution_queue
		SET visible_after = NOW() + ($1 * INTERVAL '1 second'), attempt = attempt + 1
		WHERE id = ANY($2)
	`, VisibilityTimeout.Seconds(), pq.Array(queueIDs))
	if err != nil {
		return nil, fmt.Errorf("batch visibility update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return items, nil
}

// Complete removes a finished execution from the queue.
func (s *Store) Complete(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, "DELETE FROM execution_queue WHERE execution_id = $1", executionID)
	return err
}

// Fail handles a failed execution with retries. Once the retry budget is
// spent the execution itself is marked FAILED and dropped from the queue.
func (s *Store) Fail(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, errMsg string) error {
	executor := s.getExecutor(tx)

	// Check current attempts
	var attempt int
	err := executor.QueryRowContext(ctx, "SELECT attempt FROM execution_queue WHERE execution_id = $1", executionID).Scan(&attempt)

	isFatal := false
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Not found in queue -> treat as fatal/already gone
			isFatal = true
		} else {
			// Return actual DB error to avoid accidentally retrying
			return err
		}
	} else if attempt > MaxRetries {
		isFatal = true
	}

	if !isFatal {
		// RETRY: Exponential Backoff (10s * 2^attempt)
		backoff := time.Duration(10*(1<<attempt)) * time.Second
		_, err = executor.ExecContext(ctx, `
			UPDATE execution_queue
			SET visible_after = NOW() + ($1 * INTERVAL '1 second')
			WHERE execution_id = $2
		`, backoff.Seconds(), executionID)
		return err
	}

	// permanent failure
	_, err = executor.ExecContext(ctx, "DELETE FROM execution_queue WHERE execution_id = $1", executionID)
	if err != nil {
		return fmt.Errorf("failed to delete failed execution from queue: %w", err)
	}

	_, err = executor.ExecContext(ctx, `
		UPDATE executions
		SET status = $1, end_time = NOW()
		WHERE id = $2 AND status NOT IN ('DONE', 'FAILURE', 'FAILED')
	`, store.ExecutionStatusFailed, executionID)
	if err != nil {
		return err
	}

	if errMsg != "" {
		_, err = executor.ExecContext(ctx, `
			UPDATE account_executions
			SET status = $1, message = $2, end_time = NOW()
			WHERE execution_id = $3 AND status IN ('STARTED', 'IN_PROGRESS')
		`, store.ExecutionStatusFailure, errMsg, executionID)
	}
	return err
}

// SetVisibleAfter extends the heartbeat.
func (s *Store) SetVisibleAfter(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, visibleAfter time.Time) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		UPDATE execution_queue
		SET visible_after = $1
		WHERE execution_id = $2
	`, visibleAfter, executionID)
	return err
}

// Count returns the number of items currently in the queue.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM execution_queue").Scan(&count)
	return count, err
}
