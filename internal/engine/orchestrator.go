// Package engine runs the fan-out/fan-in orchestration of one execution
// across its target accounts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"snapops/internal/automation"
	"snapops/internal/classify"
	"snapops/internal/logger"
	"snapops/internal/scoring"
	"snapops/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StatusWriter persists account status changes. In production this is the
// audit decorator.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, accountID uuid.UUID, status store.AccountStatus) error
}

// Summary reports the terminal state of a finished execution.
type Summary struct {
	ExecutionID uuid.UUID
	FinalStatus store.ExecutionStatus
	EndTime     time.Time
}

// Deps are the orchestrator's collaborators, injected by the composition
// root.
type Deps struct {
	Executions  store.ExecutionStore
	Accounts    store.AccountStore
	Status      StatusWriter
	Classifier  *classify.Classifier
	Client      automation.Client
	Log         *slog.Logger
	Fanout      int
	ItemTimeout time.Duration
}

// Orchestrator drives one execution: resolves targets, fans work items out
// onto a bounded pool, joins the outcomes and finalizes the execution.
type Orchestrator struct {
	executions  store.ExecutionStore
	accounts    store.AccountStore
	status      StatusWriter
	classifier  *classify.Classifier
	client      automation.Client
	log         *slog.Logger
	fanout      int
	itemTimeout time.Duration
	tracer      trace.Tracer
}

// New builds an orchestrator.
func New(deps Deps) *Orchestrator {
	fanout := deps.Fanout
	if fanout <= 0 {
		fanout = 1
	}
	itemTimeout := deps.ItemTimeout
	if itemTimeout <= 0 {
		itemTimeout = 10 * time.Minute
	}
	return &Orchestrator{
		executions:  deps.Executions,
		accounts:    deps.Accounts,
		status:      deps.Status,
		classifier:  deps.Classifier,
		client:      deps.Client,
		log:         deps.Log,
		fanout:      fanout,
		itemTimeout: itemTimeout,
		tracer:      otel.Tracer("snapops-engine"),
	}
}

// Start runs the execution to completion and returns its summary. A non-nil
// error means the execution could not be loaded or finalized and the caller
// should retry; resolution and setup failures are terminal (status FAILED)
// and return a summary instead.
func (o *Orchestrator) Start(ctx context.Context, executionID uuid.UUID, accountIDs []uuid.UUID) (*Summary, error) {
	ctx = logger.WithExecutionID(ctx, executionID.String())
	log := logger.FromContext(ctx, o.log)

	exec, err := o.executions.GetExecutionByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}

	// A redelivered queue item for a finished execution is a no-op.
	if exec.Status.Terminal() {
		log.Info("execution already terminal", "status", exec.Status)
		return &Summary{ExecutionID: exec.ID, FinalStatus: exec.Status}, nil
	}

	if err := o.executions.UpdateExecutionStatus(ctx, nil, exec.ID, store.ExecutionStatusInProgress, nil); err != nil {
		return nil, fmt.Errorf("mark execution in progress: %w", err)
	}

	existing, err := o.executions.ListAccountExecutions(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("list account executions: %w", err)
	}

	var children []*store.AccountExecution
	var settled []ChildOutcome
	if len(existing) > 0 {
		// Redelivered execution: the child set already exists. Items that
		// reached a terminal status keep their recorded outcome and are not
		// run again; only the unfinished ones are dispatched.
		for i := range existing {
			item := existing[i]
			if item.Status.Terminal() {
				settled = append(settled, ChildOutcome{
					AccountExecutionID: item.ID,
					AccountID:          item.AccountID,
					Status:             item.Status,
					Outcome: automation.Outcome{
						Success: item.Status == store.ExecutionStatusDone,
						Message: item.Message,
					},
				})
				continue
			}
			children = append(children, &item)
		}
		log.Info("execution redelivered", "resuming", len(children), "settled", len(settled))
	} else {
		accountIDs, err = o.resolveTargets(ctx, exec, accountIDs)
		if err != nil {
			return o.abort(ctx, exec.ID, fmt.Errorf("resolve targets: %w", err))
		}

		children = make([]*store.AccountExecution, len(accountIDs))
		for i, accountID := range accountIDs {
			children[i] = &store.AccountExecution{
				ID:          uuid.New(),
				ExecutionID: exec.ID,
				AccountID:   accountID,
				Type:        exec.Type,
				Status:      store.ExecutionStatusStarted,
			}
		}
		if err := o.executions.CreateAccountExecutions(ctx, nil, children); err != nil {
			return o.abort(ctx, exec.ID, fmt.Errorf("create account executions: %w", err))
		}
	}

	log.Info("execution fanning out", "type", exec.Type, "accounts", len(children))

	var summary *Summary
	var finalizeErr error
	join := NewJoin(len(children), func(outcomes []ChildOutcome) {
		summary, finalizeErr = o.finalize(ctx, exec.ID, append(settled, outcomes...))
	})

	sem := make(chan struct{}, o.fanout)
	for _, child := range children {
		child := child
		go func() {
			sem <- struct{}{}
			defer func() { <-sem }()

			itemCtx, cancel := context.WithTimeout(ctx, o.itemTimeout)
			defer cancel()
			join.Done(o.RunOne(itemCtx, exec, child))
		}()
	}
	join.Wait()

	if finalizeErr != nil {
		// The execution may still read IN_PROGRESS; surface the error so
		// the queue redelivers and reconciliation can happen.
		log.Error("finalize failed", "error", finalizeErr)
		return nil, finalizeErr
	}
	log.Info("execution finished", "status", summary.FinalStatus)
	return summary, nil
}

// abort records a pre-dispatch failure. The execution is not retried.
func (o *Orchestrator) abort(ctx context.Context, executionID uuid.UUID, cause error) (*Summary, error) {
	logger.FromContext(ctx, o.log).Error("execution aborted before dispatch", "error", cause)
	now := time.Now().UTC()
	if err := o.executions.UpdateExecutionStatus(ctx, nil, executionID, store.ExecutionStatusFailed, &now); err != nil {
		return nil, fmt.Errorf("mark execution failed: %w", err)
	}
	return &Summary{ExecutionID: executionID, FinalStatus: store.ExecutionStatusFailed, EndTime: now}, nil
}

// resolveTargets fills in the account set for the operation types that
// select their own targets. Explicit account lists always win.
func (o *Orchestrator) resolveTargets(ctx context.Context, exec *store.Execution, accountIDs []uuid.UUID) ([]uuid.UUID, error) {
	cfg := exec.Configuration

	switch exec.Type {
	case store.OpGenerateLeads:
		candidates, err := o.accounts.ListAccountsWithStats(ctx, exec.AgencyID, store.AccountFilter{})
		if err != nil {
			return nil, err
		}
		weights := scoring.Weights{
			RejectingRate:    cfg.Float("weight_rejecting_rate", 0),
			ConversationRate: cfg.Float("weight_conversation_rate", 0),
			ConversionRate:   cfg.Float("weight_conversion_rate", 0),
		}
		scored := scoring.Score(candidates, weights, cfg.Int("accounts_number", 0))

		ids := make([]uuid.UUID, len(scored))
		for i, s := range scored {
			ids[i] = s.Account.ID
		}

		perAccount := 0.0
		if len(ids) > 0 {
			perAccount = cfg.Float("target_lead_number", 0) / float64(len(ids))
		}
		cfg["leads_per_account"] = perAccount
		if err := o.executions.UpdateExecutionConfiguration(ctx, nil, exec.ID, cfg); err != nil {
			return nil, err
		}
		return ids, nil

	case store.OpQuickAddsTopAccounts:
		if len(accountIDs) > 0 {
			return accountIDs, nil
		}
		candidates, err := o.accounts.ListAccountsWithStats(ctx, exec.AgencyID, store.AccountFilter{})
		if err != nil {
			return nil, err
		}
		accounts := scoring.Filter(candidates, thresholdsFromConfig(cfg))

		ids := make([]uuid.UUID, len(accounts))
		for i, a := range accounts {
			ids[i] = a.ID
		}

		perAccount := 0.0
		if len(ids) > 0 {
			perAccount = cfg.Float("requests", 0) / float64(len(ids))
		}
		cfg["requests_per_account"] = perAccount
		if err := o.executions.UpdateExecutionConfiguration(ctx, nil, exec.ID, cfg); err != nil {
			return nil, err
		}
		return ids, nil
	}

	return accountIDs, nil
}

func thresholdsFromConfig(cfg store.Configuration) scoring.Thresholds {
	var t scoring.Thresholds
	if cfg.Has("max_rejecting_rate") {
		v := cfg.Float("max_rejecting_rate", 0)
		t.MaxRejectingRate = &v
	}
	if cfg.Has("min_conversation_rate") {
		v := cfg.Float("min_conversation_rate", 0)
		t.MinConversationRate = &v
	}
	if cfg.Has("min_conversion_rate") {
		v := cfg.Float("min_conversion_rate", 0)
		t.MinConversionRate = &v
	}
	return t
}

// RunOne executes a single work item. It never returns a Go error; every
// failure mode, panics included, produces a well-formed outcome.
func (o *Orchestrator) RunOne(ctx context.Context, exec *store.Execution, item *store.AccountExecution) (out ChildOutcome) {
	out = ChildOutcome{AccountExecutionID: item.ID, AccountID: item.AccountID}
	log := logger.FromContext(ctx, o.log).With("account_id", item.AccountID)

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			log.Error("work item panicked", "error", msg)
			out.Status = store.ExecutionStatusFailure
			out.Outcome = automation.Outcome{Success: false, Message: msg, Error: msg}
			if err := o.executions.FailAccountExecutionIfRunning(context.WithoutCancel(ctx), nil, item.ID, msg); err != nil {
				log.Error("failed to record panic outcome", "error", err)
			}
		}
	}()

	ctx, span := o.tracer.Start(ctx, "engine.run_one", trace.WithAttributes(
		attribute.String("execution.id", exec.ID.String()),
		attribute.String("execution.type", string(exec.Type)),
		attribute.String("account.id", item.AccountID.String()),
	))
	defer span.End()

	conflict, err := o.executions.ClaimAccountExecution(ctx, item.ID, item.AccountID)
	if errors.Is(err, store.ErrClaimLost) {
		// The row reached a terminal status under us (reaper, usually).
		// Report what is there; nothing may run without a claim.
		current, lerr := o.executions.GetAccountExecution(ctx, item.ID)
		if lerr != nil {
			return o.failItem(ctx, item, log, fmt.Errorf("claim lost, load work item: %w", lerr))
		}
		log.Info("work item no longer claimable", "status", current.Status)
		out.Status = current.Status
		out.Outcome = automation.Outcome{Success: current.Status == store.ExecutionStatusDone, Message: current.Message}
		return out
	}
	if errors.Is(err, store.ErrAlreadyInProgress) {
		msg := fmt.Sprintf("Execution %s is already in progress for this account", conflict)
		log.Info("work item skipped", "conflicting_execution", conflict)
		if err := o.executions.FinishAccountExecution(ctx, nil, item.ID, store.ExecutionStatusAlreadyInProgress, msg, nil); err != nil {
			return o.failItem(ctx, item, log, err)
		}
		out.Status = store.ExecutionStatusAlreadyInProgress
		out.Outcome = automation.Outcome{Success: false, Message: msg}
		return out
	}
	if err != nil {
		return o.failItem(ctx, item, log, err)
	}

	account, err := o.accounts.GetAccount(ctx, item.AccountID)
	if err != nil {
		return o.failItem(ctx, item, log, fmt.Errorf("load account %s: %w", item.AccountID, err))
	}

	outcome := o.runOperation(ctx, exec, account)

	cl := o.classifier.Classify(account.Status, outcome)
	if cl.AccountStatus != nil {
		if err := o.status.UpdateStatus(ctx, account.ID, *cl.AccountStatus); err != nil {
			log.Error("failed to update account status", "new_status", *cl.AccountStatus, "error", err)
		}
	}
	if cl.ClearProxy {
		if err := o.accounts.ClearProxy(ctx, nil, account.ID); err != nil {
			log.Error("failed to clear proxy", "error", err)
		}
	}
	if cl.ClearWorkflow {
		if err := o.accounts.ClearWorkflow(ctx, nil, account.ID); err != nil {
			log.Error("failed to clear workflow", "error", err)
		}
	}

	var result store.Configuration
	if outcome.Counters != nil {
		result = store.Configuration(outcome.Counters)
	}
	if err := o.executions.FinishAccountExecution(ctx, nil, item.ID, cl.ExecutionStatus, outcome.Message, result); err != nil {
		return o.failItem(ctx, item, log, fmt.Errorf("finish account execution: %w", err))
	}

	out.Status = cl.ExecutionStatus
	out.Outcome = outcome
	return out
}

// failItem records an internal error against the work item. The error text
// rides on the outcome so finalize can fail the parent execution.
func (o *Orchestrator) failItem(ctx context.Context, item *store.AccountExecution, log *slog.Logger, cause error) ChildOutcome {
	log.Error("work item failed", "error", cause)
	if err := o.executions.FailAccountExecutionIfRunning(ctx, nil, item.ID, cause.Error()); err != nil {
		log.Error("failed to record work item failure", "error", err)
	}
	return ChildOutcome{
		AccountExecutionID: item.ID,
		AccountID:          item.AccountID,
		Status:             store.ExecutionStatusFailure,
		Outcome:            automation.Outcome{Success: false, Message: cause.Error(), Error: cause.Error()},
	}
}

// finalize settles the execution after every child has reported. The parent
// fails only when a child outcome carries an internal error; classified
// automation failures stay on the child.
func (o *Orchestrator) finalize(ctx context.Context, executionID uuid.UUID, outcomes []ChildOutcome) (*Summary, error) {
	if _, err := o.executions.GetExecutionByID(ctx, executionID); err != nil {
		return nil, fmt.Errorf("finalize: load execution %s: %w", executionID, err)
	}

	status := store.ExecutionStatusDone
	for _, oc := range outcomes {
		if oc.Outcome.Error == "" {
			continue
		}
		status = store.ExecutionStatusFailure
		if !oc.Status.Terminal() {
			if err := o.executions.FailAccountExecutionIfRunning(ctx, nil, oc.AccountExecutionID, oc.Outcome.Error); err != nil {
				logger.FromContext(ctx, o.log).Error("finalize: failed to settle work item",
					"account_execution_id", oc.AccountExecutionID, "error", err)
			}
		}
	}

	now := time.Now().UTC()
	if err := o.executions.UpdateExecutionStatus(ctx, nil, executionID, status, &now); err != nil {
		return nil, fmt.Errorf("finalize: update execution status: %w", err)
	}
	return &Summary{ExecutionID: executionID, FinalStatus: status, EndTime: now}, nil
}
