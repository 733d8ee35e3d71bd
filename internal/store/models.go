// Package store contains the database layer for snapops.
package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agency represents a tenant in the multi-tenant system.
// All operations must be scoped by AgencyID.
type Agency struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// SubscriptionStatus represents the billing state of an agency.
type SubscriptionStatus string

const (
	SubscriptionAvailable SubscriptionStatus = "AVAILABLE"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
)

// Subscription tracks whether an agency may run executions.
// A subscription whose TurnedOffAt has passed is expired; the transition is
// persisted the first time it is observed.
type Subscription struct {
	ID          uuid.UUID
	AgencyID    uuid.UUID
	Status      SubscriptionStatus
	TurnedOffAt *time.Time
	CreatedAt   time.Time
}

// JobStatus represents the lifecycle of a job definition.
type JobStatus string

const (
	JobStatusActive  JobStatus = "ACTIVE"
	JobStatusStopped JobStatus = "STOPPED"
	JobStatusDeleted JobStatus = "DELETED"
)

// OperationType identifies the per-account action an execution performs.
type OperationType string

const (
	OpQuickAdds            OperationType = "QUICK_ADDS"
	OpQuickAddsTopAccounts OperationType = "QUICK_ADDS_TOP_ACCOUNTS"
	OpCheckConversations   OperationType = "CHECK_CONVERSATIONS"
	OpSendToUser           OperationType = "SEND_TO_USER"
	OpStatusCheck          OperationType = "STATUS_CHECK"
	OpComputeStatistics    OperationType = "COMPUTE_STATISTICS"
	OpGenerateLeads        OperationType = "GENERATE_LEADS"
	OpConsumeLeads         OperationType = "CONSUME_LEADS"
	OpSetBitmoji           OperationType = "SET_BITMOJI"
	OpChangeBitmoji        OperationType = "CHANGE_BITMOJI"
)

// Configuration is the free-form JSONB configuration map carried by jobs and
// snapshotted onto executions at dispatch time.
type Configuration map[string]any

// Value implements driver.Valuer so Configuration can be written as JSONB.
func (c Configuration) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *Configuration) Scan(src any) error {
	if src == nil {
		*c = Configuration{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("configuration: cannot scan %T", src)
	}
	return json.Unmarshal(b, c)
}

// Float reads a numeric configuration value, tolerating the int/float
// ambiguity of decoded JSON. Returns def when the key is absent.
func (c Configuration) Float(key string, def float64) float64 {
	v, ok := c[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return def
		}
		return f
	}
	return def
}

// Int reads an integer configuration value.
func (c Configuration) Int(key string, def int) int {
	return int(c.Float(key, float64(def)))
}

// String reads a string configuration value.
func (c Configuration) String(key, def string) string {
	if s, ok := c[key].(string); ok {
		return s
	}
	return def
}

// Bool reads a boolean configuration value.
func (c Configuration) Bool(key string, def bool) bool {
	if b, ok := c[key].(bool); ok {
		return b
	}
	return def
}

// Has reports whether the key is present.
func (c Configuration) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Job represents a recurring execution definition owned by an agency.
// The Trigger expression is opaque here; the external scheduler interprets it.
type Job struct {
	ID            uuid.UUID
	AgencyID      uuid.UUID
	Name          string
	Trigger       string
	Type          OperationType
	Statuses      []AccountStatus
	Tags          []string
	Sources       []string
	Configuration Configuration
	Status        JobStatus
	CreatedAt     time.Time
}

// ExecutionStatus is shared by executions and account executions.
type ExecutionStatus string

const (
	ExecutionStatusStarted    ExecutionStatus = "STARTED"
	ExecutionStatusInProgress ExecutionStatus = "IN_PROGRESS"
	ExecutionStatusDone       ExecutionStatus = "DONE"
	ExecutionStatusFailure    ExecutionStatus = "FAILURE"
	// ExecutionStatusFailed marks an execution that aborted before any child
	// was dispatched (target resolution or setup error).
	ExecutionStatusFailed ExecutionStatus = "FAILED"

	// Account-execution only statuses.
	ExecutionStatusAlreadyInProgress ExecutionStatus = "EXECUTION_ALREADY_IN_PROGRESS"
	ExecutionStatusRateLimited       ExecutionStatus = "SNAPKAT_API_RATE_LIMIT_EXCEEDED"
)

// Terminal reports whether a work item in this status will never change again.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusDone, ExecutionStatusFailure, ExecutionStatusFailed,
		ExecutionStatusAlreadyInProgress, ExecutionStatusRateLimited:
		return true
	}
	return false
}

// Execution represents one run of a job (or an ad-hoc run) spanning many
// accounts. Configuration is a snapshot copied from the job at dispatch time.
type Execution struct {
	ID            uuid.UUID
	AgencyID      uuid.UUID
	JobID         *uuid.UUID
	Type          OperationType
	TriggeredBy   string
	Configuration Configuration
	Status        ExecutionStatus
	StartTime     time.Time
	EndTime       *time.Time
}

// AccountExecution is one account's slice of an execution, the unit of
// parallel work. At most one IN_PROGRESS row may exist per account; the
// database enforces this with a partial unique index.
type AccountExecution struct {
	ID          uuid.UUID
	ExecutionID uuid.UUID
	AccountID   uuid.UUID
	Type        OperationType
	Status      ExecutionStatus
	Message     string
	Result      Configuration
	StartTime   *time.Time
	EndTime     *time.Time
}

// AccountStatus is the managed account's state machine.
type AccountStatus string

const (
	AccountRecentlyIngested  AccountStatus = "RECENTLY_INGESTED"
	AccountGoodStanding      AccountStatus = "GOOD_STANDING"
	AccountCaptcha           AccountStatus = "CAPTCHA"
	AccountCompromisedLocked AccountStatus = "COMPROMISED_LOCKED"
	AccountIncorrectPassword AccountStatus = "INCORRECT_PASSWORD"
	AccountLocked            AccountStatus = "LOCKED"
	AccountTemporaryLocked   AccountStatus = "TEMPORARY_LOCKED"
	AccountObfuscatedPhone   AccountStatus = "OBFUSCATED_PHONE"
)

// Account is the managed resource executions operate on.
type Account struct {
	ID            uuid.UUID
	AgencyID      uuid.UUID
	Username      string
	Status        AccountStatus
	Tags          []string
	Source        string
	IngestedAt    time.Time
	ProxyID       *uuid.UUID
	WorkflowID    *uuid.UUID
	CredentialsID *uuid.UUID
}

// AccountStats holds the accumulated counters the scorer works from.
// An account without a stats row has never produced metrics.
type AccountStats struct {
	AccountID            uuid.UUID
	RejectedTotal        int64
	QuickAddsSent        int64
	GeneratedLeads       int64
	TotalConversations   int64
	ConversationsCharged int64
	TotalConversions     int64
	UpdatedAt            time.Time
}

// AccountWithStats pairs an account with its stats row, if any.
type AccountWithStats struct {
	Account Account
	Stats   *AccountStats
}

// AccountStatusLog is an append-only record of one status transition.
type AccountStatusLog struct {
	ID        int64
	AccountID uuid.UUID
	OldStatus *AccountStatus
	NewStatus AccountStatus
	ChangedAt time.Time
}

// WorkflowStepType enumerates workflow step actions.
type WorkflowStepType string

const (
	StepChangeStatus WorkflowStepType = "CHANGE_STATUS"
	StepAddTag       WorkflowStepType = "ADD_TAG"
	StepRemoveTag    WorkflowStepType = "REMOVE_TAG"
)

// WorkflowStep is one (day offset, action) pair; the offset counts whole days
// from the account's ingestion date.
type WorkflowStep struct {
	ID          uuid.UUID
	WorkflowID  uuid.UUID
	DayOffset   int
	ActionType  WorkflowStepType
	ActionValue string
}

// Workflow is an ordered day-offset step sequence applied to attached
// accounts once per day.
type Workflow struct {
	ID       uuid.UUID
	AgencyID uuid.UUID
	Name     string
	Steps    []WorkflowStep
}

// AccountFilter narrows account listings; empty slices match everything.
type AccountFilter struct {
	Statuses []AccountStatus
	Tags     []string
	Sources  []string
}

// Empty reports whether the filter matches all accounts of the agency.
func (f AccountFilter) Empty() bool {
	return len(f.Statuses) == 0 && len(f.Tags) == 0 && len(f.Sources) == 0
}

// ExecutionListFilter narrows execution listings.
type ExecutionListFilter struct {
	Status *ExecutionStatus
	Type   *OperationType
	JobID  *uuid.UUID
	Limit  int
	Offset int
}
