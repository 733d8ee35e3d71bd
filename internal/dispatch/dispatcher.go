// Package dispatch turns job definitions and ad-hoc requests into queued
// executions.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"snapops/internal/logger"
	"snapops/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Payload is the queue item body handed to the worker.
type Payload struct {
	ExecutionID uuid.UUID         `json:"execution_id"`
	AccountIDs  []uuid.UUID       `json:"account_ids"`
	Trace       map[string]string `json:"trace,omitempty"`
}

// ErrAccountsRequired is returned when an operation type that cannot resolve
// its own targets is started without an account list.
var ErrAccountsRequired = errors.New("operation requires an explicit account list")

// ValidationError reports a missing or malformed configuration key.
type ValidationError struct {
	Key string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration key %q is required", e.Key)
}

// Deps are the dispatcher's collaborators.
type Deps struct {
	Jobs          store.JobStore
	Subscriptions store.SubscriptionStore
	Accounts      store.AccountStore
	Executions    store.ExecutionStore
	Queue         store.Queue
	Log           *slog.Logger
}

// Dispatcher creates executions and places them on the durable queue.
type Dispatcher struct {
	jobs       store.JobStore
	gate       *SubscriptionGate
	accounts   store.AccountStore
	executions store.ExecutionStore
	queue      store.Queue
	log        *slog.Logger
}

// New builds a dispatcher.
func New(deps Deps) *Dispatcher {
	return &Dispatcher{
		jobs:       deps.Jobs,
		gate:       NewSubscriptionGate(deps.Subscriptions),
		accounts:   deps.Accounts,
		executions: deps.Executions,
		queue:      deps.Queue,
		log:        deps.Log,
	}
}

// scorerResolved reports whether the orchestrator resolves this type's
// targets itself.
func scorerResolved(t store.OperationType) bool {
	return t == store.OpGenerateLeads || t == store.OpQuickAddsTopAccounts
}

// Dispatch runs one scheduled trigger of a job. Inactive jobs and expired
// subscriptions are logged no-ops.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) (*store.Execution, error) {
	log := logger.FromContext(ctx, d.log).With("job_id", jobID)

	job, err := d.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}

	if job.Status != store.JobStatusActive {
		log.Info("skipping dispatch of inactive job", "status", job.Status)
		return nil, nil
	}

	available, err := d.gate.Available(ctx, job.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("check subscription: %w", err)
	}
	if !available {
		log.Info("skipping dispatch, subscription not available", "agency_id", job.AgencyID)
		return nil, nil
	}

	cfg := make(store.Configuration, len(job.Configuration))
	for k, v := range job.Configuration {
		cfg[k] = v
	}

	execution := &store.Execution{
		ID:            uuid.New(),
		AgencyID:      job.AgencyID,
		JobID:         &job.ID,
		Type:          job.Type,
		TriggeredBy:   "scheduler",
		Configuration: cfg,
		Status:        store.ExecutionStatusStarted,
		StartTime:     time.Now().UTC(),
	}
	if err := d.executions.CreateExecution(ctx, nil, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	var accountIDs []uuid.UUID
	if !scorerResolved(job.Type) {
		accountIDs, err = d.accounts.ListAccountIDs(ctx, job.AgencyID, store.AccountFilter{
			Statuses: job.Statuses,
			Tags:     job.Tags,
			Sources:  job.Sources,
		})
		if err != nil {
			return nil, d.failExecution(ctx, execution, fmt.Errorf("resolve accounts: %w", err))
		}
	}

	if err := d.enqueue(ctx, execution.ID, accountIDs); err != nil {
		return nil, d.failExecution(ctx, execution, err)
	}

	log.Info("execution dispatched",
		"execution_id", execution.ID, "type", execution.Type, "accounts", len(accountIDs))
	return execution, nil
}

// StartAdHoc creates and enqueues a one-off execution outside any job.
func (d *Dispatcher) StartAdHoc(ctx context.Context, agencyID uuid.UUID, opType store.OperationType, cfg store.Configuration, accountIDs []uuid.UUID) (*store.Execution, error) {
	if cfg == nil {
		cfg = store.Configuration{}
	}
	if err := validateConfiguration(opType, cfg); err != nil {
		return nil, err
	}
	if !scorerResolved(opType) && len(accountIDs) == 0 {
		return nil, ErrAccountsRequired
	}
	applyDefaults(opType, cfg, len(accountIDs))

	available, err := d.gate.Available(ctx, agencyID)
	if err != nil {
		return nil, fmt.Errorf("check subscription: %w", err)
	}
	if !available {
		return nil, fmt.Errorf("subscription for agency %s is not available", agencyID)
	}

	execution := &store.Execution{
		ID:            uuid.New(),
		AgencyID:      agencyID,
		Type:          opType,
		TriggeredBy:   "api",
		Configuration: cfg,
		Status:        store.ExecutionStatusStarted,
		StartTime:     time.Now().UTC(),
	}
	if err := d.executions.CreateExecution(ctx, nil, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	if err := d.enqueue(ctx, execution.ID, accountIDs); err != nil {
		return nil, d.failExecution(ctx, execution, err)
	}
	return execution, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, executionID uuid.UUID, accountIDs []uuid.UUID) error {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	body, err := json.Marshal(Payload{
		ExecutionID: executionID,
		AccountIDs:  accountIDs,
		Trace:       carrier,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	if _, err := d.queue.Enqueue(ctx, nil, executionID, body, time.Time{}); err != nil {
		return fmt.Errorf("enqueue execution: %w", err)
	}
	return nil
}

// failExecution records a post-creation dispatch failure and returns the
// original cause.
func (d *Dispatcher) failExecution(ctx context.Context, execution *store.Execution, cause error) error {
	now := time.Now().UTC()
	if err := d.executions.UpdateExecutionStatus(ctx, nil, execution.ID, store.ExecutionStatusFailed, &now); err != nil {
		logger.FromContext(ctx, d.log).Error("failed to mark execution FAILED",
			"execution_id", execution.ID, "error", err)
	}
	return cause
}

// requiredKeys lists the configuration every operation type must carry when
// started ad hoc.
var requiredKeys = map[store.OperationType][]string{
	store.OpQuickAdds:            {"requests"},
	store.OpQuickAddsTopAccounts: {"requests"},
	store.OpSendToUser:           {"username"},
	store.OpGenerateLeads: {
		"accounts_number", "target_lead_number",
		"weight_rejecting_rate", "weight_conversation_rate", "weight_conversion_rate",
	},
	store.OpConsumeLeads: {"leads_number"},
}

func validateConfiguration(opType store.OperationType, cfg store.Configuration) error {
	for _, key := range requiredKeys[opType] {
		if !cfg.Has(key) {
			return &ValidationError{Key: key}
		}
	}
	return nil
}

// applyDefaults fills the optional keys the automation side expects.
func applyDefaults(opType store.OperationType, cfg store.Configuration, accounts int) {
	if !cfg.Has("starting_delay") && accounts > 1 {
		cfg["starting_delay"] = float64(3 * (accounts - 1))
	}

	switch opType {
	case store.OpQuickAdds, store.OpQuickAddsTopAccounts:
		setDefault(cfg, "batches", float64(1))
		setDefault(cfg, "batch_delay", float64(10))
		setDefault(cfg, "max_quick_add_pages", float64(10))
		setDefault(cfg, "users_sent_in_request", float64(10))
		setDefault(cfg, "argo_tokens", false)
	}
}

func setDefault(cfg store.Configuration, key string, value any) {
	if !cfg.Has(key) {
		cfg[key] = value
	}
}
