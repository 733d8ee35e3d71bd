package postgres

import (
	"context"
	"fmt"

	"snapops/internal/store"
)

func (s *Store) ListWorkflows(ctx context.Context) ([]store.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, agency_id, name FROM workflows ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []store.Workflow
	index := make(map[string]int)
	for rows.Next() {
		var w store.Workflow
		if err := rows.Scan(&w.ID, &w.AgencyID, &w.Name); err != nil {
			return nil, err
		}
		index[w.ID.String()] = len(workflows)
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stepRows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, day_offset, action_type, action_value
		FROM workflow_steps ORDER BY workflow_id, day_offset, id`)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	defer stepRows.Close()

	for stepRows.Next() {
		var st store.WorkflowStep
		if err := stepRows.Scan(&st.ID, &st.WorkflowID, &st.DayOffset, &st.ActionType, &st.ActionValue); err != nil {
			return nil, err
		}
		if i, ok := index[st.WorkflowID.String()]; ok {
			workflows[i].Steps = append(workflows[i].Steps, st)
		}
	}
	return workflows, stepRows.Err()
}
