package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"snapops/internal/automation"
	"snapops/internal/store"

	"github.com/google/uuid"
)

// fakeExecutions is an in-memory ExecutionStore good enough to drive the
// orchestrator's state machine.
type fakeExecutions struct {
	mu         sync.Mutex
	executions map[uuid.UUID]*store.Execution
	items      map[uuid.UUID]*store.AccountExecution
	sums       map[string]int64

	createItemsErr error
	updateCfgErr   error
	getErr         error
}

func newFakeExecutions() *fakeExecutions {
	return &fakeExecutions{
		executions: make(map[uuid.UUID]*store.Execution),
		items:      make(map[uuid.UUID]*store.AccountExecution),
		sums:       make(map[string]int64),
	}
}

func (f *fakeExecutions) CreateExecution(_ context.Context, _ store.DBTransaction, e *store.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.executions[e.ID] = &cp
	return nil
}

func (f *fakeExecutions) GetExecutionByID(_ context.Context, id uuid.UUID) (*store.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	e, ok := f.executions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExecutions) UpdateExecutionStatus(_ context.Context, _ store.DBTransaction, id uuid.UUID, status store.ExecutionStatus, endTime *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.executions[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.Status = status
	if endTime != nil {
		e.EndTime = endTime
	}
	return nil
}

func (f *fakeExecutions) UpdateExecutionConfiguration(_ context.Context, _ store.DBTransaction, id uuid.UUID, cfg store.Configuration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateCfgErr != nil {
		return f.updateCfgErr
	}
	e, ok := f.executions[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.Configuration = cfg
	return nil
}

func (f *fakeExecutions) ListExecutions(_ context.Context, _ uuid.UUID, _ store.ExecutionListFilter) ([]store.Execution, error) {
	return nil, nil
}

func (f *fakeExecutions) CreateAccountExecutions(_ context.Context, _ store.DBTransaction, items []*store.AccountExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createItemsErr != nil {
		return f.createItemsErr
	}
	for _, item := range items {
		cp := *item
		f.items[item.ID] = &cp
	}
	return nil
}

func (f *fakeExecutions) GetAccountExecution(_ context.Context, id uuid.UUID) (*store.AccountExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *item
	return &cp, nil
}

func (f *fakeExecutions) ClaimAccountExecution(_ context.Context, id, accountID uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.items {
		if other.ID != id && other.AccountID == accountID && other.Status == store.ExecutionStatusInProgress {
			return other.ExecutionID, store.ErrAlreadyInProgress
		}
	}
	item, ok := f.items[id]
	if !ok {
		return uuid.Nil, sql.ErrNoRows
	}
	if item.Status.Terminal() {
		return uuid.Nil, store.ErrClaimLost
	}
	item.Status = store.ExecutionStatusInProgress
	now := time.Now()
	item.StartTime = &now
	return uuid.Nil, nil
}

func (f *fakeExecutions) FinishAccountExecution(_ context.Context, _ store.DBTransaction, id uuid.UUID, status store.ExecutionStatus, message string, result store.Configuration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.Status = status
	item.Message = message
	item.Result = result
	now := time.Now()
	item.EndTime = &now
	return nil
}

func (f *fakeExecutions) FailAccountExecutionIfRunning(_ context.Context, _ store.DBTransaction, id uuid.UUID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	if item.Status.Terminal() {
		return nil
	}
	item.Status = store.ExecutionStatusFailure
	item.Message = message
	now := time.Now()
	item.EndTime = &now
	return nil
}

func (f *fakeExecutions) ListAccountExecutions(_ context.Context, executionID uuid.UUID) ([]store.AccountExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AccountExecution
	for _, item := range f.items {
		if item.ExecutionID == executionID {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (f *fakeExecutions) ListAccountExecutionsByAccount(_ context.Context, _ uuid.UUID, _, _ int) ([]store.AccountExecution, error) {
	return nil, nil
}

func (f *fakeExecutions) CountAccountExecutionStatuses(_ context.Context, executionID uuid.UUID) (map[store.ExecutionStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[store.ExecutionStatus]int)
	for _, item := range f.items {
		if item.ExecutionID == executionID {
			counts[item.Status]++
		}
	}
	return counts, nil
}

func (f *fakeExecutions) SumResultCounters(_ context.Context, accountID uuid.UUID, opType store.OperationType, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sums[fmt.Sprintf("%s/%s/%s", accountID, opType, key)], nil
}

func (f *fakeExecutions) ReapStaleAccountExecutions(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, item := range f.items {
		if item.Status == store.ExecutionStatusInProgress && item.StartTime != nil && item.StartTime.Before(olderThan) {
			item.Status = store.ExecutionStatusFailure
			item.Message = "reaped after deadline"
			n++
		}
	}
	return n, nil
}

// itemsFor returns the execution's work items keyed by account.
func (f *fakeExecutions) itemsFor(executionID uuid.UUID) map[uuid.UUID]*store.AccountExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]*store.AccountExecution)
	for _, item := range f.items {
		if item.ExecutionID == executionID {
			cp := *item
			out[item.AccountID] = &cp
		}
	}
	return out
}

// fakeAccounts is an in-memory AccountStore.
type fakeAccounts struct {
	mu            sync.Mutex
	accounts      map[uuid.UUID]*store.Account
	withStats     []store.AccountWithStats
	stats         map[uuid.UUID]*store.AccountStats
	listErr       error
	upsertErr     error
	clearedProxy  []uuid.UUID
	clearedFlow   []uuid.UUID
	statusUpdates map[uuid.UUID]store.AccountStatus
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		accounts:      make(map[uuid.UUID]*store.Account),
		stats:         make(map[uuid.UUID]*store.AccountStats),
		statusUpdates: make(map[uuid.UUID]store.AccountStatus),
	}
}

func (f *fakeAccounts) add(a store.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := a
	f.accounts[a.ID] = &cp
}

func (f *fakeAccounts) GetAccount(_ context.Context, id uuid.UUID) (*store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) ListAccountIDs(_ context.Context, _ uuid.UUID, _ store.AccountFilter) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id := range f.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeAccounts) ListAccountsWithStats(_ context.Context, _ uuid.UUID, _ store.AccountFilter) ([]store.AccountWithStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.withStats, nil
}

func (f *fakeAccounts) ListAccountsByWorkflow(_ context.Context, _ uuid.UUID) ([]store.Account, error) {
	return nil, nil
}

func (f *fakeAccounts) ListAccountsByStatus(_ context.Context, _ store.AccountStatus) ([]store.Account, error) {
	return nil, nil
}

func (f *fakeAccounts) UpdateAccountStatus(_ context.Context, _ store.DBTransaction, id uuid.UUID, status store.AccountStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		a.Status = status
	}
	f.statusUpdates[id] = status
	return nil
}

func (f *fakeAccounts) UpdateAccountTags(_ context.Context, _ store.DBTransaction, id uuid.UUID, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		a.Tags = tags
	}
	return nil
}

func (f *fakeAccounts) ClearProxy(_ context.Context, _ store.DBTransaction, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearedProxy = append(f.clearedProxy, id)
	return nil
}

func (f *fakeAccounts) ClearWorkflow(_ context.Context, _ store.DBTransaction, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearedFlow = append(f.clearedFlow, id)
	return nil
}

func (f *fakeAccounts) GetAccountStats(_ context.Context, accountID uuid.UUID) (*store.AccountStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stats[accountID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *st
	return &cp, nil
}

func (f *fakeAccounts) UpsertAccountStats(_ context.Context, _ store.DBTransaction, stats *store.AccountStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	cp := *stats
	f.stats[stats.AccountID] = &cp
	return nil
}

// fakeStatusWriter stands in for the audit decorator.
type fakeStatusWriter struct {
	accounts *fakeAccounts
}

func (f *fakeStatusWriter) UpdateStatus(ctx context.Context, accountID uuid.UUID, status store.AccountStatus) error {
	return f.accounts.UpdateAccountStatus(ctx, nil, accountID, status)
}

// fakeClient returns canned outcomes and records which accounts it was
// invoked for.
type fakeClient struct {
	mu       sync.Mutex
	outcomes map[uuid.UUID]automation.Outcome
	calls    []uuid.UUID
	panicFor uuid.UUID
}

func newFakeClient() *fakeClient {
	return &fakeClient{outcomes: make(map[uuid.UUID]automation.Outcome)}
}

func (f *fakeClient) invoke(account *store.Account) automation.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, account.ID)
	shouldPanic := f.panicFor == account.ID && account.ID != uuid.Nil
	out, ok := f.outcomes[account.ID]
	f.mu.Unlock()

	if shouldPanic {
		panic("automation client exploded")
	}
	if !ok {
		return automation.Outcome{Success: true, Message: "ok"}
	}
	return out
}

func (f *fakeClient) calledFor(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == id {
			return true
		}
	}
	return false
}

func (f *fakeClient) QuickAdds(_ context.Context, a *store.Account, _ store.Configuration) automation.Outcome {
	return f.invoke(a)
}
func (f *fakeClient) CheckConversations(_ context.Context, a *store.Account, _ store.Configuration) automation.Outcome {
	return f.invoke(a)
}
func (f *fakeClient) SendToUser(_ context.Context, a *store.Account, _ store.Configuration) automation.Outcome {
	return f.invoke(a)
}
func (f *fakeClient) StatusCheck(_ context.Context, a *store.Account, _ store.Configuration) automation.Outcome {
	return f.invoke(a)
}
func (f *fakeClient) GenerateLeads(_ context.Context, a *store.Account, _ store.Configuration) automation.Outcome {
	return f.invoke(a)
}
func (f *fakeClient) ConsumeLeads(_ context.Context, a *store.Account, _ store.Configuration) automation.Outcome {
	return f.invoke(a)
}
func (f *fakeClient) SetBitmoji(_ context.Context, a *store.Account, _ store.Configuration) automation.Outcome {
	return f.invoke(a)
}
func (f *fakeClient) ChangeBitmoji(_ context.Context, a *store.Account, _ store.Configuration) automation.Outcome {
	return f.invoke(a)
}
