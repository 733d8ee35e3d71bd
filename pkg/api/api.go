// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the controller.
package api

import "time"

// DispatchJobResponse is the response body after dispatching a job. Skipped
// is true when the job is inactive or the agency subscription has expired.
type DispatchJobResponse struct {
	ExecutionID string `json:"execution_id,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
}

// CreateExecutionRequest is the request body for starting an ad-hoc
// execution against an explicit account list.
type CreateExecutionRequest struct {
	AgencyID      string         `json:"agency_id"`
	Type          string         `json:"type"`
	AccountIDs    []string       `json:"account_ids,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// CreateExecutionResponse is the response body after starting an ad-hoc
// execution.
type CreateExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
}

// ExecutionResponse represents an execution in API responses. StatusCounts
// aggregates the per-account work items by status.
type ExecutionResponse struct {
	ID            string         `json:"id"`
	AgencyID      string         `json:"agency_id"`
	JobID         *string        `json:"job_id,omitempty"`
	Type          string         `json:"type"`
	TriggeredBy   string         `json:"triggered_by"`
	Status        string         `json:"status"`
	Configuration map[string]any `json:"configuration,omitempty"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       *time.Time     `json:"end_time,omitempty"`
	StatusCounts  map[string]int `json:"status_counts,omitempty"`
}

// ListExecutionsResponse is the response body for execution listings.
type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

// AccountExecutionResponse represents one account's work item.
type AccountExecutionResponse struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	AccountID   string         `json:"account_id"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	StartTime   *time.Time     `json:"start_time,omitempty"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
}

// ListAccountExecutionsResponse is the response body for an account's
// work-item history.
type ListAccountExecutionsResponse struct {
	Executions []AccountExecutionResponse `json:"executions"`
}

// UnlockAccountsResponse is the response body for the daily unlock trigger.
type UnlockAccountsResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
