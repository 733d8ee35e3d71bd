// Package automation talks to the external browser automation service that
// performs the actual per-account operations.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"snapops/internal/store"
)

// Outcome is the raw result of one automation operation for one account.
type Outcome struct {
	Success  bool
	Message  string
	Counters map[string]any

	// Error carries an internal failure (panic, store error) as opposed to a
	// classified automation failure. It propagates into the parent
	// execution's terminal status.
	Error string
}

// Client performs one method per operation type. Implementations never
// return a Go error for operation-level failures; those surface as
// Success=false with the failure text so the classifier can see them.
type Client interface {
	QuickAdds(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome
	CheckConversations(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome
	SendToUser(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome
	StatusCheck(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome
	GenerateLeads(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome
	ConsumeLeads(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome
	SetBitmoji(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome
	ChangeBitmoji(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome
}

// HTTPClient posts operation payloads to the automation service.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient builds a client for the given base URL. Operations drive a
// real browser on the far side, so the timeout is generous.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Minute},
	}
}

type operationRequest struct {
	AccountID     string              `json:"account_id"`
	Username      string              `json:"username"`
	Configuration store.Configuration `json:"configuration"`
}

type operationResponse struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	Counters map[string]any `json:"counters"`
}

func (c *HTTPClient) post(ctx context.Context, path string, account *store.Account, cfg store.Configuration) Outcome {
	body, err := json.Marshal(operationRequest{
		AccountID:     account.ID.String(),
		Username:      account.Username,
		Configuration: cfg,
	})
	if err != nil {
		return Outcome{Success: false, Message: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Outcome{Success: false, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Outcome{Success: false, Message: err.Error()}
	}
	defer resp.Body.Close()

	var out operationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{Success: false, Message: fmt.Sprintf("decode response (HTTP %d): %v", resp.StatusCode, err)}
	}

	return Outcome{Success: out.Success, Message: out.Message, Counters: out.Counters}
}

func (c *HTTPClient) QuickAdds(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome {
	return c.post(ctx, "/operations/quick-adds", account, cfg)
}

func (c *HTTPClient) CheckConversations(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome {
	return c.post(ctx, "/operations/check-conversations", account, cfg)
}

func (c *HTTPClient) SendToUser(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome {
	return c.post(ctx, "/operations/send-to-user", account, cfg)
}

func (c *HTTPClient) StatusCheck(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome {
	return c.post(ctx, "/operations/status-check", account, cfg)
}

func (c *HTTPClient) GenerateLeads(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome {
	return c.post(ctx, "/operations/generate-leads", account, cfg)
}

func (c *HTTPClient) ConsumeLeads(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome {
	return c.post(ctx, "/operations/consume-leads", account, cfg)
}

func (c *HTTPClient) SetBitmoji(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome {
	return c.post(ctx, "/operations/set-bitmoji", account, cfg)
}

func (c *HTTPClient) ChangeBitmoji(ctx context.Context, account *store.Account, cfg store.Configuration) Outcome {
	return c.post(ctx, "/operations/change-bitmoji", account, cfg)
}
