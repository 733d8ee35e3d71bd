package postgres

import (
	"context"
	"time"

	"snapops/internal/store"

	"github.com/google/uuid"
)

func (s *Store) InsertStatusLog(ctx context.Context, tx store.DBTransaction, log *store.AccountStatusLog) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		INSERT INTO account_status_logs (account_id, old_status, new_status, changed_at)
		VALUES ($1, $2, $3, $4)`,
		log.AccountID, log.OldStatus, log.NewStatus, log.ChangedAt,
	)
	return err
}

func (s *Store) EarliestTransitionTo(ctx context.Context, accountID uuid.UUID, status store.AccountStatus) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT changed_at FROM account_status_logs
		WHERE account_id = $1 AND new_status = $2
		ORDER BY changed_at ASC
		LIMIT 1`,
		accountID, status,
	).Scan(&at)
	return at, err
}
