package handlers

import (
	"net/http"

	"snapops/pkg/api"

	"github.com/google/uuid"
)

// ---------------------------------------------------------
// Internal endpoints, called by the external Scheduler.
// They sit behind the shared-secret middleware, never the
// agency-facing one.
// ---------------------------------------------------------

// DispatchJob handles POST /internal/jobs/{id}/dispatch.
// The scheduler calls this on each job's trigger.
func (h *Handlers) DispatchJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	execution, err := h.dispatcher.Dispatch(ctx, jobID)
	if err != nil {
		h.httpError(w, "Failed to dispatch job", http.StatusInternalServerError)
		return
	}
	if execution == nil {
		// Inactive job or expired subscription, a logged no-op.
		h.respondJson(w, http.StatusOK, api.DispatchJobResponse{Skipped: true})
		return
	}

	h.respondJson(w, http.StatusCreated, api.DispatchJobResponse{
		ExecutionID: execution.ID.String(),
	})
}

// RunWorkflows handles POST /internal/workflows/run, the daily workflow
// trigger.
func (h *Handlers) RunWorkflows(w http.ResponseWriter, r *http.Request) {
	if err := h.workflows.Run(r.Context()); err != nil {
		h.httpError(w, "Failed to run workflows", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, api.UnlockAccountsResponse{Status: "ok"})
}

// UnlockAccounts handles POST /internal/accounts/unlock, the daily sweep
// that reverts stale temporary locks.
func (h *Handlers) UnlockAccounts(w http.ResponseWriter, r *http.Request) {
	if err := h.workflows.UnlockStaleAccounts(r.Context()); err != nil {
		h.httpError(w, "Failed to unlock accounts", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, api.UnlockAccountsResponse{Status: "ok"})
}
