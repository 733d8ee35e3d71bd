package postgres

import (
	"context"

	"snapops/internal/store"

	"github.com/google/uuid"
)

func (s *Store) GetSubscriptionByAgency(ctx context.Context, agencyID uuid.UUID) (*store.Subscription, error) {
	query := `
		SELECT id, agency_id, status, turned_off_at, created_at
		FROM subscriptions WHERE agency_id = $1`

	var sub store.Subscription
	err := s.db.QueryRowContext(ctx, query, agencyID).Scan(
		&sub.ID, &sub.AgencyID, &sub.Status, &sub.TurnedOffAt, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) ExpireSubscription(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET status = $1 WHERE id = $2",
		store.SubscriptionExpired, id,
	)
	return err
}
