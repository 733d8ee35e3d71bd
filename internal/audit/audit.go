// Package audit decorates account status writes with an append-only
// transition log.
package audit

import (
	"context"
	"log/slog"
	"time"

	"snapops/internal/logger"
	"snapops/internal/store"

	"github.com/google/uuid"
)

// AccountStore is the slice of the account store the decorator needs.
type AccountStore interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*store.Account, error)
	UpdateAccountStatus(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.AccountStatus) error
}

// Logger records status transitions, comparing old and new values before the
// write and appending a log row after it. The log insert is best effort; a
// failed insert never blocks the status change.
type Logger struct {
	accounts AccountStore
	logs     store.StatusLogStore
	log      *slog.Logger
}

// NewLogger builds the decorator.
func NewLogger(accounts AccountStore, logs store.StatusLogStore, log *slog.Logger) *Logger {
	return &Logger{accounts: accounts, logs: logs, log: log}
}

// UpdateStatus persists the account's new status and, when it actually
// changed, one transition record.
func (l *Logger) UpdateStatus(ctx context.Context, accountID uuid.UUID, newStatus store.AccountStatus) error {
	account, err := l.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	oldStatus := account.Status
	if err := l.accounts.UpdateAccountStatus(ctx, nil, accountID, newStatus); err != nil {
		return err
	}

	if oldStatus == newStatus {
		return nil
	}

	old := oldStatus
	entry := &store.AccountStatusLog{
		AccountID: accountID,
		OldStatus: &old,
		NewStatus: newStatus,
		ChangedAt: time.Now().UTC(),
	}
	if err := l.logs.InsertStatusLog(ctx, nil, entry); err != nil {
		logger.FromContext(ctx, l.log).Warn("failed to record status transition",
			"account_id", accountID,
			"old_status", oldStatus,
			"new_status", newStatus,
			"error", err,
		)
	}
	return nil
}
