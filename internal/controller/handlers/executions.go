package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"snapops/internal/controller/middleware"
	"snapops/internal/dispatch"
	"snapops/internal/store"
	"snapops/pkg/api"

	"github.com/google/uuid"
)

// CreateExecution handles POST /executions.
// Starts a one-off execution outside any job definition.
func (h *Handlers) CreateExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	agencyID, err := uuid.Parse(r.Header.Get(middleware.AgencyHeader))
	if err != nil {
		h.httpError(w, "Invalid agency id", http.StatusUnauthorized)
		return
	}
	if req.Type == "" {
		h.httpError(w, "Type is required", http.StatusBadRequest)
		return
	}

	accountIDs := make([]uuid.UUID, 0, len(req.AccountIDs))
	for _, raw := range req.AccountIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.httpError(w, "Invalid account id: "+raw, http.StatusBadRequest)
			return
		}
		accountIDs = append(accountIDs, id)
	}

	execution, err := h.dispatcher.StartAdHoc(ctx, agencyID, store.OperationType(req.Type), req.Configuration, accountIDs)
	if err != nil {
		var validation *dispatch.ValidationError
		switch {
		case errors.As(err, &validation), errors.Is(err, dispatch.ErrAccountsRequired):
			h.httpError(w, err.Error(), http.StatusBadRequest)
		default:
			h.httpError(w, "Failed to start execution", http.StatusInternalServerError)
		}
		return
	}

	h.respondJson(w, http.StatusCreated, api.CreateExecutionResponse{
		ExecutionID: execution.ID.String(),
	})
}

// GetExecution handles GET /executions/{id}.
// Returns the execution with its per-account work items aggregated by status.
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	executionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid execution id", http.StatusBadRequest)
		return
	}

	execution, err := h.store.GetExecutionByID(ctx, executionID)
	if err != nil {
		h.httpError(w, "Execution not found", http.StatusNotFound)
		return
	}

	counts, err := h.store.CountAccountExecutionStatuses(ctx, executionID)
	if err != nil {
		h.httpError(w, "Failed to load execution summary", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, executionResponse(execution, counts))
}

// ListExecutions handles GET /executions.
// Supports status, type, job_id, limit and offset query parameters.
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	agencyID, err := uuid.Parse(r.Header.Get(middleware.AgencyHeader))
	if err != nil {
		h.httpError(w, "Invalid agency id", http.StatusUnauthorized)
		return
	}

	filter := store.ExecutionListFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := store.ExecutionStatus(raw)
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		opType := store.OperationType(raw)
		filter.Type = &opType
	}
	if raw := r.URL.Query().Get("job_id"); raw != "" {
		jobID, err := uuid.Parse(raw)
		if err != nil {
			h.httpError(w, "Invalid job id", http.StatusBadRequest)
			return
		}
		filter.JobID = &jobID
	}

	executions, err := h.store.ListExecutions(ctx, agencyID, filter)
	if err != nil {
		h.httpError(w, "Failed to list executions", http.StatusInternalServerError)
		return
	}

	resp := api.ListExecutionsResponse{Executions: make([]api.ExecutionResponse, 0, len(executions))}
	for i := range executions {
		resp.Executions = append(resp.Executions, executionResponse(&executions[i], nil))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ListAccountExecutions handles GET /accounts/{id}/executions.
// Returns the account's work-item history, newest first.
func (h *Handlers) ListAccountExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	items, err := h.store.ListAccountExecutionsByAccount(ctx, accountID, limit, offset)
	if err != nil {
		h.httpError(w, "Failed to list account executions", http.StatusInternalServerError)
		return
	}

	resp := api.ListAccountExecutionsResponse{Executions: make([]api.AccountExecutionResponse, 0, len(items))}
	for i := range items {
		resp.Executions = append(resp.Executions, accountExecutionResponse(&items[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}
