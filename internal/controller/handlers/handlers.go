// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"snapops/internal/store"
	"snapops/pkg/api"

	"github.com/google/uuid"
)

// Store combines the read-side store interfaces the controller needs.
type Store interface {
	Ping(ctx context.Context) error
	GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error)
	ListExecutions(ctx context.Context, agencyID uuid.UUID, f store.ExecutionListFilter) ([]store.Execution, error)
	CountAccountExecutionStatuses(ctx context.Context, executionID uuid.UUID) (map[store.ExecutionStatus]int, error)
	ListAccountExecutionsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]store.AccountExecution, error)
}

// Dispatcher starts executions.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID uuid.UUID) (*store.Execution, error)
	StartAdHoc(ctx context.Context, agencyID uuid.UUID, opType store.OperationType, cfg store.Configuration, accountIDs []uuid.UUID) (*store.Execution, error)
}

// Workflows exposes the daily maintenance entry points.
type Workflows interface {
	Run(ctx context.Context) error
	UnlockStaleAccounts(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store      Store
	dispatcher Dispatcher
	workflows  Workflows
}

// New creates a new Handlers instance with the given dependencies.
func New(s Store, d Dispatcher, w Workflows) *Handlers {
	return &Handlers{store: s, dispatcher: d, workflows: w}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// presentStatus applies the read-side mapping: rate-limited work items are
// shown to callers as failures.
func presentStatus(s store.ExecutionStatus) store.ExecutionStatus {
	if s == store.ExecutionStatusRateLimited {
		return store.ExecutionStatusFailure
	}
	return s
}

func executionResponse(e *store.Execution, counts map[store.ExecutionStatus]int) api.ExecutionResponse {
	resp := api.ExecutionResponse{
		ID:            e.ID.String(),
		AgencyID:      e.AgencyID.String(),
		Type:          string(e.Type),
		TriggeredBy:   e.TriggeredBy,
		Status:        string(e.Status),
		Configuration: e.Configuration,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
	}
	if e.JobID != nil {
		jobID := e.JobID.String()
		resp.JobID = &jobID
	}
	if counts != nil {
		resp.StatusCounts = make(map[string]int, len(counts))
		for status, n := range counts {
			resp.StatusCounts[string(presentStatus(status))] += n
		}
	}
	return resp
}

func accountExecutionResponse(item *store.AccountExecution) api.AccountExecutionResponse {
	return api.AccountExecutionResponse{
		ID:          item.ID.String(),
		ExecutionID: item.ExecutionID.String(),
		AccountID:   item.AccountID.String(),
		Type:        string(item.Type),
		Status:      string(presentStatus(item.Status)),
		Message:     item.Message,
		Result:      item.Result,
		StartTime:   item.StartTime,
		EndTime:     item.EndTime,
	}
}

// queryInt reads an integer query parameter, falling back to def on absence
// or garbage.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
