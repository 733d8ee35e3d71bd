package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"snapops/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const executionColumns = "id, agency_id, job_id, type, triggered_by, configuration, status, start_time, end_time"

func (s *Store) CreateExecution(ctx context.Context, tx store.DBTransaction, execution *store.Execution) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		INSERT INTO executions (id, agency_id, job_id, type, triggered_by, configuration, status, start_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		execution.ID, execution.AgencyID, execution.JobID, execution.Type,
		execution.TriggeredBy, execution.Configuration, execution.Status, execution.StartTime,
	)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *Store) GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	query := "SELECT " + executionColumns + " FROM executions WHERE id = $1"

	var e store.Execution
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.AgencyID, &e.JobID, &e.Type, &e.TriggeredBy,
		&e.Configuration, &e.Status, &e.StartTime, &e.EndTime,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) UpdateExecutionStatus(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.ExecutionStatus, endTime *time.Time) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		UPDATE executions SET status = $1, end_time = COALESCE($2, end_time) WHERE id = $3`,
		status, endTime, id,
	)
	return err
}

func (s *Store) UpdateExecutionConfiguration(ctx context.Context, tx store.DBTransaction, id uuid.UUID, cfg store.Configuration) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, "UPDATE executions SET configuration = $1 WHERE id = $2", cfg, id)
	return err
}

func (s *Store) ListExecutions(ctx context.Context, agencyID uuid.UUID, f store.ExecutionListFilter) ([]store.Execution, error) {
	args := []interface{}{agencyID}
	var clauses []string
	if f.Status != nil {
		args = append(args, *f.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Type != nil {
		args = append(args, *f.Type)
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.JobID != nil {
		args = append(args, *f.JobID)
		clauses = append(clauses, fmt.Sprintf("job_id = $%d", len(args)))
	}

	where := "WHERE agency_id = $1"
	if len(clauses) > 0 {
		where += " AND " + strings.Join(clauses, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	limitIdx := len(args)
	args = append(args, f.Offset)
	offsetIdx := len(args)

	query := fmt.Sprintf(
		"SELECT %s FROM executions %s ORDER BY start_time DESC LIMIT $%d OFFSET $%d",
		executionColumns, where, limitIdx, offsetIdx,
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []store.Execution
	for rows.Next() {
		var e store.Execution
		err := rows.Scan(
			&e.ID, &e.AgencyID, &e.JobID, &e.Type, &e.TriggeredBy,
			&e.Configuration, &e.Status, &e.StartTime, &e.EndTime,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateAccountExecutions(ctx context.Context, tx store.DBTransaction, items []*store.AccountExecution) error {
	if len(items) == 0 {
		return nil
	}
	executor := s.getExecutor(tx)

	values := make([]string, 0, len(items))
	args := make([]interface{}, 0, len(items)*5)
	for i, item := range items {
		base := i * 5
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5))
		args = append(args, item.ID, item.ExecutionID, item.AccountID, item.Type, item.Status)
	}

	query := "INSERT INTO account_executions (id, execution_id, account_id, type, status) VALUES " +
		strings.Join(values, ", ")

	if _, err := executor.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("bulk create account executions: %w", err)
	}
	return nil
}

const accountExecutionColumns = "id, execution_id, account_id, type, status, message, result, start_time, end_time"

func scanAccountExecution(row interface{ Scan(...interface{}) error }) (*store.AccountExecution, error) {
	var ae store.AccountExecution
	err := row.Scan(
		&ae.ID, &ae.ExecutionID, &ae.AccountID, &ae.Type, &ae.Status,
		&ae.Message, &ae.Result, &ae.StartTime, &ae.EndTime,
	)
	if err != nil {
		return nil, err
	}
	return &ae, nil
}

func (s *Store) GetAccountExecution(ctx context.Context, id uuid.UUID) (*store.AccountExecution, error) {
	query := "SELECT " + accountExecutionColumns + " FROM account_executions WHERE id = $1"
	return scanAccountExecution(s.db.QueryRowContext(ctx, query, id))
}

// ClaimAccountExecution moves the work item to IN_PROGRESS in a single atomic
// UPDATE. The partial unique index uniq_account_execution_in_progress rejects
// the claim when another work item for the account already runs; the
// violation resolves to ErrAlreadyInProgress with the conflicting execution's
// ID so callers can name it in the work item's message. The status guard
// keeps a terminal row (finished or reaped) from moving back to IN_PROGRESS;
// an interrupted IN_PROGRESS row may be re-claimed on queue redelivery.
func (s *Store) ClaimAccountExecution(ctx context.Context, id, accountID uuid.UUID) (uuid.UUID, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE account_executions
		SET status = $1, start_time = COALESCE(start_time, NOW())
		WHERE id = $2 AND status = ANY($3)`,
		store.ExecutionStatusInProgress, id,
		pq.Array([]string{
			string(store.ExecutionStatusStarted),
			string(store.ExecutionStatusInProgress),
		}),
	)
	if err == nil {
		n, err := res.RowsAffected()
		if err != nil {
			return uuid.Nil, err
		}
		if n == 0 {
			return uuid.Nil, store.ErrClaimLost
		}
		return uuid.Nil, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		var conflict uuid.UUID
		lookupErr := s.db.QueryRowContext(ctx, `
			SELECT execution_id FROM account_executions
			WHERE account_id = $1 AND status = $2 AND id <> $3
			LIMIT 1`,
			accountID, store.ExecutionStatusInProgress, id,
		).Scan(&conflict)
		if lookupErr != nil && !errors.Is(lookupErr, sql.ErrNoRows) {
			return uuid.Nil, lookupErr
		}
		return conflict, store.ErrAlreadyInProgress
	}

	return uuid.Nil, fmt.Errorf("claim account execution %s: %w", id, err)
}

func (s *Store) FinishAccountExecution(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.ExecutionStatus, message string, result store.Configuration) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		UPDATE account_executions
		SET status = $1, message = $2, result = $3, end_time = NOW()
		WHERE id = $4`,
		status, message, result, id,
	)
	return err
}

func (s *Store) FailAccountExecutionIfRunning(ctx context.Context, tx store.DBTransaction, id uuid.UUID, message string) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		UPDATE account_executions
		SET status = $1, message = $2, end_time = NOW()
		WHERE id = $3 AND status = ANY($4)`,
		store.ExecutionStatusFailure, message, id,
		pq.Array([]string{
			string(store.ExecutionStatusStarted),
			string(store.ExecutionStatusInProgress),
		}),
	)
	return err
}

func (s *Store) ListAccountExecutions(ctx context.Context, executionID uuid.UUID) ([]store.AccountExecution, error) {
	query := "SELECT " + accountExecutionColumns + " FROM account_executions WHERE execution_id = $1 ORDER BY id"
	return s.listAccountExecutions(ctx, query, executionID)
}

func (s *Store) ListAccountExecutionsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]store.AccountExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT " + accountExecutionColumns + " FROM account_executions WHERE account_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3"
	return s.listAccountExecutions(ctx, query, accountID, limit, offset)
}

func (s *Store) listAccountExecutions(ctx context.Context, query string, args ...interface{}) ([]store.AccountExecution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AccountExecution
	for rows.Next() {
		ae, err := scanAccountExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ae)
	}
	return out, rows.Err()
}

func (s *Store) CountAccountExecutionStatuses(ctx context.Context, executionID uuid.UUID) (map[store.ExecutionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM account_executions
		WHERE execution_id = $1 GROUP BY status`,
		executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[store.ExecutionStatus]int)
	for rows.Next() {
		var status store.ExecutionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Store) SumResultCounters(ctx context.Context, accountID uuid.UUID, opType store.OperationType, key string) (int64, error) {
	var sum sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM((result->>$1)::BIGINT) FROM account_executions
		WHERE account_id = $2 AND type = $3 AND status = $4`,
		key, accountID, opType, store.ExecutionStatusDone,
	).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum.Int64, nil
}

func (s *Store) ReapStaleAccountExecutions(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE account_executions
		SET status = $1, message = $2, end_time = NOW()
		WHERE status = $3 AND start_time < $4`,
		store.ExecutionStatusFailure, "reaped after deadline",
		store.ExecutionStatusInProgress, olderThan,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
