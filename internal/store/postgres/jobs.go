package postgres

import (
	"context"

	"snapops/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	query := `
		SELECT id, agency_id, name, trigger_expr, type, statuses, tags, sources,
		       configuration, status, created_at
		FROM jobs WHERE id = $1`

	var j store.Job
	var statuses, tags, sources pq.StringArray
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&j.ID, &j.AgencyID, &j.Name, &j.Trigger, &j.Type,
		&statuses, &tags, &sources, &j.Configuration, &j.Status, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Statuses = make([]store.AccountStatus, len(statuses))
	for i, st := range statuses {
		j.Statuses[i] = store.AccountStatus(st)
	}
	j.Tags = tags
	j.Sources = sources
	return &j, nil
}
