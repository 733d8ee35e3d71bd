package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"snapops/internal/store"

	"github.com/google/uuid"
)

// SubscriptionGate decides whether an agency may run executions. A
// subscription past its turn-off time transitions to EXPIRED, persisted the
// first time the expiry is observed.
type SubscriptionGate struct {
	subscriptions store.SubscriptionStore
}

// NewSubscriptionGate builds a gate.
func NewSubscriptionGate(subscriptions store.SubscriptionStore) *SubscriptionGate {
	return &SubscriptionGate{subscriptions: subscriptions}
}

// Available reports whether the agency's subscription currently permits
// executions. An agency without a subscription is not available.
func (g *SubscriptionGate) Available(ctx context.Context, agencyID uuid.UUID) (bool, error) {
	sub, err := g.subscriptions.GetSubscriptionByAgency(ctx, agencyID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if sub.Status == store.SubscriptionExpired {
		return false, nil
	}
	if sub.TurnedOffAt != nil && sub.TurnedOffAt.Before(time.Now()) {
		if err := g.subscriptions.ExpireSubscription(ctx, sub.ID); err != nil {
			return false, fmt.Errorf("expire subscription %s: %w", sub.ID, err)
		}
		return false, nil
	}
	return true, nil
}
