package handlers

import (
	"context"
	"errors"

	"snapops/internal/store"

	"github.com/google/uuid"
)

// Mock Store
type mockStore struct {
	pingErr error

	getExecutionResp *store.Execution
	getExecutionErr  error

	listExecutionsResp []store.Execution
	listExecutionsErr  error
	capturedAgencyID   uuid.UUID
	capturedFilter     store.ExecutionListFilter

	countStatusesResp map[store.ExecutionStatus]int
	countStatusesErr  error

	listByAccountResp []store.AccountExecution
	listByAccountErr  error
	capturedLimit     int
	capturedOffset    int
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStore) GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	if m.getExecutionErr != nil {
		return nil, m.getExecutionErr
	}
	if m.getExecutionResp == nil {
		return nil, errors.New("not found")
	}
	return m.getExecutionResp, nil
}

func (m *mockStore) ListExecutions(ctx context.Context, agencyID uuid.UUID, f store.ExecutionListFilter) ([]store.Execution, error) {
	m.capturedAgencyID = agencyID
	m.capturedFilter = f
	return m.listExecutionsResp, m.listExecutionsErr
}

func (m *mockStore) CountAccountExecutionStatuses(ctx context.Context, executionID uuid.UUID) (map[store.ExecutionStatus]int, error) {
	return m.countStatusesResp, m.countStatusesErr
}

func (m *mockStore) ListAccountExecutionsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]store.AccountExecution, error) {
	m.capturedLimit = limit
	m.capturedOffset = offset
	return m.listByAccountResp, m.listByAccountErr
}

// Mock Dispatcher
type mockDispatcher struct {
	dispatchResp *store.Execution
	dispatchErr  error

	adHocResp *store.Execution
	adHocErr  error

	capturedJobID      uuid.UUID
	capturedAgencyID   uuid.UUID
	capturedType       store.OperationType
	capturedConfig     store.Configuration
	capturedAccountIDs []uuid.UUID
}

func (m *mockDispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) (*store.Execution, error) {
	m.capturedJobID = jobID
	return m.dispatchResp, m.dispatchErr
}

func (m *mockDispatcher) StartAdHoc(ctx context.Context, agencyID uuid.UUID, opType store.OperationType, cfg store.Configuration, accountIDs []uuid.UUID) (*store.Execution, error) {
	m.capturedAgencyID = agencyID
	m.capturedType = opType
	m.capturedConfig = cfg
	m.capturedAccountIDs = accountIDs
	return m.adHocResp, m.adHocErr
}

// Mock Workflows
type mockWorkflows struct {
	runErr    error
	unlockErr error

	runCalls    int
	unlockCalls int
}

func (m *mockWorkflows) Run(ctx context.Context) error {
	m.runCalls++
	return m.runErr
}

func (m *mockWorkflows) UnlockStaleAccounts(ctx context.Context) error {
	m.unlockCalls++
	return m.unlockErr
}

func newTestHandlers(s *mockStore, d *mockDispatcher, w *mockWorkflows) *Handlers {
	if s == nil {
		s = &mockStore{}
	}
	if d == nil {
		d = &mockDispatcher{}
	}
	if w == nil {
		w = &mockWorkflows{}
	}
	return New(s, d, w)
}
