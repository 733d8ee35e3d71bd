package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"snapops/pkg/api"
)

// Client handles API calls to the snapops controller.
type Client struct {
	BaseURL    string
	Secret     string
	AgencyID   string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL and credentials.
func NewClient(baseURL, secret, agencyID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		Secret:   secret,
		AgencyID: agencyID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Add("Content-Type", "application/json")
	if c.Secret != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Secret))
	}
	if c.AgencyID != "" {
		req.Header.Add("X-Agency-ID", c.AgencyID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// DispatchJob sends POST /internal/jobs/{id}/dispatch.
func (c *Client) DispatchJob(jobID string) (*api.DispatchJobResponse, error) {
	var result api.DispatchJobResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("/internal/jobs/%s/dispatch", jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateExecution sends POST /executions to start an ad-hoc run.
func (c *Client) CreateExecution(req api.CreateExecutionRequest) (*api.CreateExecutionResponse, error) {
	var result api.CreateExecutionResponse
	if err := c.do(http.MethodPost, "/executions", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetExecution sends GET /executions/{id}.
func (c *Client) GetExecution(executionID string) (*api.ExecutionResponse, error) {
	var result api.ExecutionResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/executions/%s", executionID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListExecutions sends GET /executions with the given filters.
func (c *Client) ListExecutions(status, opType string, limit, offset int) ([]api.ExecutionResponse, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if opType != "" {
		query.Set("type", opType)
	}
	query.Set("limit", fmt.Sprintf("%d", limit))
	query.Set("offset", fmt.Sprintf("%d", offset))

	var result api.ListExecutionsResponse
	if err := c.do(http.MethodGet, "/executions?"+query.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return result.Executions, nil
}

// RunWorkflows sends POST /internal/workflows/run.
func (c *Client) RunWorkflows() error {
	return c.do(http.MethodPost, "/internal/workflows/run", nil, nil)
}

// UnlockAccounts sends POST /internal/accounts/unlock.
func (c *Client) UnlockAccounts() error {
	return c.do(http.MethodPost, "/internal/accounts/unlock", nil, nil)
}
