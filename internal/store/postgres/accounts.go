package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"snapops/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const accountColumns = "id, agency_id, username, status, tags, source, ingested_at, proxy_id, workflow_id, credentials_id"

func scanAccount(row interface{ Scan(...interface{}) error }) (*store.Account, error) {
	var a store.Account
	var tags pq.StringArray
	err := row.Scan(
		&a.ID, &a.AgencyID, &a.Username, &a.Status, &tags, &a.Source,
		&a.IngestedAt, &a.ProxyID, &a.WorkflowID, &a.CredentialsID,
	)
	if err != nil {
		return nil, err
	}
	a.Tags = tags
	return &a, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*store.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts WHERE id = $1"
	return scanAccount(s.db.QueryRowContext(ctx, query, id))
}

// accountFilterClause builds the WHERE fragment for an AccountFilter.
// Arguments are appended to args starting at the next positional index.
func accountFilterClause(f store.AccountFilter, args []interface{}) (string, []interface{}) {
	var clauses []string
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(f.Tags) > 0 {
		args = append(args, pq.Array(f.Tags))
		clauses = append(clauses, fmt.Sprintf("tags @> $%d", len(args)))
	}
	if len(f.Sources) > 0 {
		args = append(args, pq.Array(f.Sources))
		clauses = append(clauses, fmt.Sprintf("source = ANY($%d)", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListAccountIDs(ctx context.Context, agencyID uuid.UUID, f store.AccountFilter) ([]uuid.UUID, error) {
	args := []interface{}{agencyID}
	clause, args := accountFilterClause(f, args)
	query := "SELECT id FROM accounts WHERE agency_id = $1" + clause + " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListAccountsWithStats(ctx context.Context, agencyID uuid.UUID, f store.AccountFilter) ([]store.AccountWithStats, error) {
	args := []interface{}{agencyID}
	clause, args := accountFilterClause(f, args)
	query := `
		SELECT a.id, a.agency_id, a.username, a.status, a.tags, a.source,
		       a.ingested_at, a.proxy_id, a.workflow_id, a.credentials_id,
		       s.account_id, s.rejected_total, s.quick_adds_sent, s.generated_leads,
		       s.total_conversations, s.conversations_charged, s.total_conversions, s.updated_at
		FROM accounts a
		LEFT JOIN account_stats s ON s.account_id = a.id
		WHERE a.agency_id = $1` + clause + " ORDER BY a.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts with stats: %w", err)
	}
	defer rows.Close()

	var out []store.AccountWithStats
	for rows.Next() {
		var a store.Account
		var tags pq.StringArray
		var statsID *uuid.UUID
		var rejected, sent, generated, conversations, charged, conversions sql.NullInt64
		var updatedAt sql.NullTime

		err := rows.Scan(
			&a.ID, &a.AgencyID, &a.Username, &a.Status, &tags, &a.Source,
			&a.IngestedAt, &a.ProxyID, &a.WorkflowID, &a.CredentialsID,
			&statsID, &rejected, &sent, &generated,
			&conversations, &charged, &conversions, &updatedAt,
		)
		if err != nil {
			return nil, err
		}
		a.Tags = tags

		item := store.AccountWithStats{Account: a}
		if statsID != nil {
			item.Stats = &store.AccountStats{
				AccountID:            *statsID,
				RejectedTotal:        rejected.Int64,
				QuickAddsSent:        sent.Int64,
				GeneratedLeads:       generated.Int64,
				TotalConversations:   conversations.Int64,
				ConversationsCharged: charged.Int64,
				TotalConversions:     conversions.Int64,
				UpdatedAt:            updatedAt.Time,
			}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) ListAccountsByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]store.Account, error) {
	return s.listAccounts(ctx, "SELECT "+accountColumns+" FROM accounts WHERE workflow_id = $1 ORDER BY id", workflowID)
}

func (s *Store) ListAccountsByStatus(ctx context.Context, status store.AccountStatus) ([]store.Account, error) {
	return s.listAccounts(ctx, "SELECT "+accountColumns+" FROM accounts WHERE status = $1 ORDER BY id", status)
}

func (s *Store) listAccounts(ctx context.Context, query string, args ...interface{}) ([]store.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []store.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *Store) UpdateAccountStatus(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.AccountStatus) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, "UPDATE accounts SET status = $1 WHERE id = $2", status, id)
	return err
}

func (s *Store) UpdateAccountTags(ctx context.Context, tx store.DBTransaction, id uuid.UUID, tags []string) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, "UPDATE accounts SET tags = $1 WHERE id = $2", pq.Array(tags), id)
	return err
}

func (s *Store) ClearProxy(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, "UPDATE accounts SET proxy_id = NULL WHERE id = $1", id)
	return err
}

func (s *Store) ClearWorkflow(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, "UPDATE accounts SET workflow_id = NULL WHERE id = $1", id)
	return err
}

func (s *Store) GetAccountStats(ctx context.Context, accountID uuid.UUID) (*store.AccountStats, error) {
	query := `
		SELECT account_id, rejected_total, quick_adds_sent, generated_leads,
		       total_conversations, conversations_charged, total_conversions, updated_at
		FROM account_stats WHERE account_id = $1`

	var st store.AccountStats
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&st.AccountID, &st.RejectedTotal, &st.QuickAddsSent, &st.GeneratedLeads,
		&st.TotalConversations, &st.ConversationsCharged, &st.TotalConversions, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) UpsertAccountStats(ctx context.Context, tx store.DBTransaction, stats *store.AccountStats) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		INSERT INTO account_stats (account_id, rejected_total, quick_adds_sent, generated_leads, total_conversations, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			rejected_total = EXCLUDED.rejected_total,
			quick_adds_sent = EXCLUDED.quick_adds_sent,
			generated_leads = EXCLUDED.generated_leads,
			total_conversations = EXCLUDED.total_conversations,
			updated_at = NOW()`,
		stats.AccountID, stats.RejectedTotal, stats.QuickAddsSent,
		stats.GeneratedLeads, stats.TotalConversations,
	)
	if err != nil {
		return fmt.Errorf("upsert account stats: %w", err)
	}
	return nil
}
