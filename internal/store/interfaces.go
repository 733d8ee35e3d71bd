package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows us to pass either a connection pool or an active transaction to
// the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// AccountStore handles managed accounts and their counters.
type AccountStore interface {
	// GetAccount returns an account by its ID.
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)

	// ListAccountIDs returns the IDs of all agency accounts matching the
	// filter. An empty filter matches every account of the agency.
	ListAccountIDs(ctx context.Context, agencyID uuid.UUID, f AccountFilter) ([]uuid.UUID, error)

	// ListAccountsWithStats returns agency accounts matching the filter
	// together with their stats rows, nil Stats when the account has none.
	ListAccountsWithStats(ctx context.Context, agencyID uuid.UUID, f AccountFilter) ([]AccountWithStats, error)

	// ListAccountsByWorkflow returns all accounts attached to a workflow.
	ListAccountsByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]Account, error)

	// ListAccountsByStatus returns all accounts currently in the status.
	ListAccountsByStatus(ctx context.Context, status AccountStatus) ([]Account, error)

	// UpdateAccountStatus writes the status field only. Callers wanting an
	// audit trail go through the audit decorator instead of calling this
	// directly.
	UpdateAccountStatus(ctx context.Context, tx DBTransaction, id uuid.UUID, status AccountStatus) error

	// UpdateAccountTags replaces the tag set.
	UpdateAccountTags(ctx context.Context, tx DBTransaction, id uuid.UUID, tags []string) error

	// ClearProxy nulls the proxy assignment. Idempotent.
	ClearProxy(ctx context.Context, tx DBTransaction, id uuid.UUID) error

	// ClearWorkflow nulls the workflow assignment. Idempotent.
	ClearWorkflow(ctx context.Context, tx DBTransaction, id uuid.UUID) error

	// GetAccountStats returns the counters row, or sql.ErrNoRows.
	GetAccountStats(ctx context.Context, accountID uuid.UUID) (*AccountStats, error)

	// UpsertAccountStats writes the computed execution counters, inserting
	// the row on first computation. Columns this system does not compute are
	// left untouched on update.
	UpsertAccountStats(ctx context.Context, tx DBTransaction, stats *AccountStats) error
}

// StatusLogStore persists the append-only account status audit trail.
type StatusLogStore interface {
	// InsertStatusLog appends one transition record.
	InsertStatusLog(ctx context.Context, tx DBTransaction, log *AccountStatusLog) error

	// EarliestTransitionTo returns the timestamp of the oldest transition of
	// the account into the given status, or sql.ErrNoRows.
	EarliestTransitionTo(ctx context.Context, accountID uuid.UUID, status AccountStatus) (time.Time, error)
}

// JobStore handles job definitions.
type JobStore interface {
	// GetJobByID returns a job by its ID.
	GetJobByID(ctx context.Context, id uuid.UUID) (*Job, error)
}

// SubscriptionStore handles agency subscriptions.
type SubscriptionStore interface {
	// GetSubscriptionByAgency returns the agency's subscription, or
	// sql.ErrNoRows when none exists.
	GetSubscriptionByAgency(ctx context.Context, agencyID uuid.UUID) (*Subscription, error)

	// ExpireSubscription persists the EXPIRED status.
	ExpireSubscription(ctx context.Context, id uuid.UUID) error
}

// ExecutionStore handles executions and their per-account work items.
type ExecutionStore interface {
	// CreateExecution inserts the initial state of a new execution.
	CreateExecution(ctx context.Context, tx DBTransaction, execution *Execution) error

	// GetExecutionByID returns an execution by its ID.
	GetExecutionByID(ctx context.Context, id uuid.UUID) (*Execution, error)

	// UpdateExecutionStatus sets the status and, when endTime is non-nil,
	// the end time.
	UpdateExecutionStatus(ctx context.Context, tx DBTransaction, id uuid.UUID, status ExecutionStatus, endTime *time.Time) error

	// UpdateExecutionConfiguration rewrites the configuration snapshot
	// (used to store derived values such as leads_per_account).
	UpdateExecutionConfiguration(ctx context.Context, tx DBTransaction, id uuid.UUID, cfg Configuration) error

	// ListExecutions returns agency executions, newest first.
	ListExecutions(ctx context.Context, agencyID uuid.UUID, f ExecutionListFilter) ([]Execution, error)

	// CreateAccountExecutions bulk-inserts work items, all STARTED.
	CreateAccountExecutions(ctx context.Context, tx DBTransaction, items []*AccountExecution) error

	// GetAccountExecution returns one work item by ID.
	GetAccountExecution(ctx context.Context, id uuid.UUID) (*AccountExecution, error)

	// ClaimAccountExecution atomically moves the work item to IN_PROGRESS.
	// When another work item for the same account already holds IN_PROGRESS
	// the claim fails with ErrAlreadyInProgress and the conflicting
	// execution's ID is returned.
	ClaimAccountExecution(ctx context.Context, id, accountID uuid.UUID) (conflict uuid.UUID, err error)

	// FinishAccountExecution records the terminal status, message, raw
	// result and end time of a work item.
	FinishAccountExecution(ctx context.Context, tx DBTransaction, id uuid.UUID, status ExecutionStatus, message string, result Configuration) error

	// FailAccountExecutionIfRunning marks the work item FAILURE with the
	// message unless it already reached a terminal status.
	FailAccountExecutionIfRunning(ctx context.Context, tx DBTransaction, id uuid.UUID, message string) error

	// ListAccountExecutions returns the work items of an execution.
	ListAccountExecutions(ctx context.Context, executionID uuid.UUID) ([]AccountExecution, error)

	// ListAccountExecutionsByAccount returns an account's work-item history,
	// newest first.
	ListAccountExecutionsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]AccountExecution, error)

	// CountAccountExecutionStatuses aggregates child statuses per execution.
	CountAccountExecutionStatuses(ctx context.Context, executionID uuid.UUID) (map[ExecutionStatus]int, error)

	// SumResultCounters sums an integer key of the result payloads of DONE
	// work items of the given type for one account.
	SumResultCounters(ctx context.Context, accountID uuid.UUID, opType OperationType, key string) (int64, error)

	// ReapStaleAccountExecutions fails IN_PROGRESS work items whose start
	// time is older than the cutoff, returning how many were reaped.
	ReapStaleAccountExecutions(ctx context.Context, olderThan time.Time) (int64, error)
}

// WorkflowStore handles workflows and their steps.
type WorkflowStore interface {
	// ListWorkflows returns all workflows with steps ordered by day offset.
	ListWorkflows(ctx context.Context) ([]Workflow, error)
}
