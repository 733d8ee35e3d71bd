// Package workflow applies day-offset account workflows and the daily
// unlock of stale temporary locks.
package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"snapops/internal/logger"
	"snapops/internal/store"

	"github.com/google/uuid"
)

// unlockAfter is how long an account stays TEMPORARY_LOCKED before the daily
// sweep reverts it to GOOD_STANDING.
const unlockAfter = 20 * 24 * time.Hour

// SubscriptionChecker gates workflow application per agency.
type SubscriptionChecker interface {
	Available(ctx context.Context, agencyID uuid.UUID) (bool, error)
}

// StatusWriter persists account status changes through the audit trail.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, accountID uuid.UUID, status store.AccountStatus) error
}

// Runner walks every workflow once per day and applies the steps whose day
// offset matches each attached account's age exactly.
type Runner struct {
	workflows store.WorkflowStore
	accounts  store.AccountStore
	logs      store.StatusLogStore
	status    StatusWriter
	gate      SubscriptionChecker
	log       *slog.Logger
}

// Deps are the runner's collaborators.
type Deps struct {
	Workflows store.WorkflowStore
	Accounts  store.AccountStore
	Logs      store.StatusLogStore
	Status    StatusWriter
	Gate      SubscriptionChecker
	Log       *slog.Logger
}

// New builds a runner.
func New(deps Deps) *Runner {
	return &Runner{
		workflows: deps.Workflows,
		accounts:  deps.Accounts,
		logs:      deps.Logs,
		status:    deps.Status,
		gate:      deps.Gate,
		log:       deps.Log,
	}
}

// Run applies every workflow. A failure to load the workflow list aborts the
// run; per-workflow, per-account and per-step failures are logged and
// isolated.
func (r *Runner) Run(ctx context.Context) error {
	workflows, err := r.workflows.ListWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}

	log := logger.FromContext(ctx, r.log)
	for _, wf := range workflows {
		if err := r.runWorkflow(ctx, &wf); err != nil {
			log.Error("workflow run failed", "workflow_id", wf.ID, "error", err)
		}
	}
	return nil
}

func (r *Runner) runWorkflow(ctx context.Context, wf *store.Workflow) error {
	available, err := r.gate.Available(ctx, wf.AgencyID)
	if err != nil {
		return fmt.Errorf("check subscription: %w", err)
	}
	if !available {
		return nil
	}

	accounts, err := r.accounts.ListAccountsByWorkflow(ctx, wf.ID)
	if err != nil {
		return fmt.Errorf("list workflow accounts: %w", err)
	}

	log := logger.FromContext(ctx, r.log).With("workflow_id", wf.ID)
	for _, account := range accounts {
		age := daysSinceIngestion(account.IngestedAt)
		for _, step := range wf.Steps {
			if step.DayOffset != age {
				continue
			}
			if err := r.applyStep(ctx, &account, step); err != nil {
				log.Error("workflow step failed",
					"account_id", account.ID, "step_id", step.ID, "action", step.ActionType, "error", err)
			}
		}
	}
	return nil
}

// daysSinceIngestion counts whole UTC days since the account was ingested.
func daysSinceIngestion(ingestedAt time.Time) int {
	return int(time.Since(ingestedAt.UTC()).Hours() / 24)
}

func (r *Runner) applyStep(ctx context.Context, account *store.Account, step store.WorkflowStep) error {
	switch step.ActionType {
	case store.StepChangeStatus:
		return r.status.UpdateStatus(ctx, account.ID, store.AccountStatus(step.ActionValue))

	case store.StepAddTag:
		for _, tag := range account.Tags {
			if tag == step.ActionValue {
				return nil
			}
		}
		account.Tags = append(account.Tags, step.ActionValue)
		return r.accounts.UpdateAccountTags(ctx, nil, account.ID, account.Tags)

	case store.StepRemoveTag:
		tags := account.Tags[:0:0]
		for _, tag := range account.Tags {
			if tag != step.ActionValue {
				tags = append(tags, tag)
			}
		}
		if len(tags) == len(account.Tags) {
			return nil
		}
		account.Tags = tags
		return r.accounts.UpdateAccountTags(ctx, nil, account.ID, tags)
	}
	return fmt.Errorf("unknown workflow step action %q", step.ActionType)
}

// UnlockStaleAccounts reverts accounts that have sat in TEMPORARY_LOCKED for
// at least twenty days back to GOOD_STANDING. Runs once per day.
func (r *Runner) UnlockStaleAccounts(ctx context.Context) error {
	accounts, err := r.accounts.ListAccountsByStatus(ctx, store.AccountTemporaryLocked)
	if err != nil {
		return fmt.Errorf("list locked accounts: %w", err)
	}

	log := logger.FromContext(ctx, r.log)
	cutoff := time.Now().Add(-unlockAfter)
	unlocked := 0
	for _, account := range accounts {
		lockedAt, err := r.logs.EarliestTransitionTo(ctx, account.ID, store.AccountTemporaryLocked)
		if errors.Is(err, sql.ErrNoRows) {
			// No recorded transition, nothing to measure the age against.
			continue
		}
		if err != nil {
			log.Error("failed to load lock transition", "account_id", account.ID, "error", err)
			continue
		}
		if lockedAt.After(cutoff) {
			continue
		}
		if err := r.status.UpdateStatus(ctx, account.ID, store.AccountGoodStanding); err != nil {
			log.Error("failed to unlock account", "account_id", account.ID, "error", err)
			continue
		}
		unlocked++
	}

	if unlocked > 0 {
		log.Info("unlocked stale accounts", "count", unlocked)
	}
	return nil
}
