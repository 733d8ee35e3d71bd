package engine

import (
	"context"
	"fmt"

	"snapops/internal/automation"
	"snapops/internal/store"
)

// runOperation dispatches the work item to the operation-specific handler.
func (o *Orchestrator) runOperation(ctx context.Context, exec *store.Execution, account *store.Account) automation.Outcome {
	cfg := exec.Configuration

	switch exec.Type {
	case store.OpQuickAdds:
		return o.client.QuickAdds(ctx, account, quickAddsConfig(cfg, cfg.Float("requests", 0)))
	case store.OpQuickAddsTopAccounts:
		return o.client.QuickAdds(ctx, account, quickAddsConfig(cfg, cfg.Float("requests_per_account", 0)))
	case store.OpCheckConversations:
		return o.client.CheckConversations(ctx, account, cfg)
	case store.OpSendToUser:
		return o.client.SendToUser(ctx, account, store.Configuration{
			"username": cfg.String("username", ""),
			"message":  cfg.String("message", ""),
		})
	case store.OpStatusCheck:
		return o.client.StatusCheck(ctx, account, cfg)
	case store.OpComputeStatistics:
		return o.computeStatistics(ctx, account)
	case store.OpGenerateLeads:
		return o.client.GenerateLeads(ctx, account, store.Configuration{
			"leads_per_account": cfg.Float("leads_per_account", 0),
		})
	case store.OpConsumeLeads:
		return o.client.ConsumeLeads(ctx, account, cfg)
	case store.OpSetBitmoji:
		return o.client.SetBitmoji(ctx, account, cfg)
	case store.OpChangeBitmoji:
		return o.client.ChangeBitmoji(ctx, account, cfg)
	}

	return automation.Outcome{
		Success: false,
		Message: fmt.Sprintf("Unsupported execution type: %s", exec.Type),
	}
}

// quickAddsConfig assembles the operation payload for both quick-add
// variants, applying the defaults the automation side expects.
func quickAddsConfig(cfg store.Configuration, requests float64) store.Configuration {
	return store.Configuration{
		"requests":              requests,
		"batches":               cfg.Int("batches", 1),
		"batch_delay":           cfg.Float("batch_delay", 10),
		"max_quick_add_pages":   cfg.Int("max_quick_add_pages", 10),
		"users_sent_in_request": cfg.Int("users_sent_in_request", 10),
		"argo_tokens":           cfg.Bool("argo_tokens", false),
		"starting_delay":        cfg.Float("starting_delay", 0),
	}
}

// computeStatistics aggregates the stored counters of the account's finished
// work items instead of calling the automation service, and upserts them into
// the stats row the scorer reads from.
func (o *Orchestrator) computeStatistics(ctx context.Context, account *store.Account) automation.Outcome {
	sent, err := o.executions.SumResultCounters(ctx, account.ID, store.OpQuickAdds, "total_sent_requests")
	if err != nil {
		return automation.Outcome{Success: false, Message: fmt.Sprintf("sum sent requests: %v", err), Error: err.Error()}
	}
	rejected, err := o.executions.SumResultCounters(ctx, account.ID, store.OpQuickAdds, "rejected_count")
	if err != nil {
		return automation.Outcome{Success: false, Message: fmt.Sprintf("sum rejected: %v", err), Error: err.Error()}
	}
	leads, err := o.executions.SumResultCounters(ctx, account.ID, store.OpGenerateLeads, "generated_leads")
	if err != nil {
		return automation.Outcome{Success: false, Message: fmt.Sprintf("sum generated leads: %v", err), Error: err.Error()}
	}
	conversations, err := o.executions.SumResultCounters(ctx, account.ID, store.OpCheckConversations, "total_conversations")
	if err != nil {
		return automation.Outcome{Success: false, Message: fmt.Sprintf("sum conversations: %v", err), Error: err.Error()}
	}

	stats := &store.AccountStats{
		AccountID:          account.ID,
		RejectedTotal:      rejected,
		QuickAddsSent:      sent,
		GeneratedLeads:     leads,
		TotalConversations: conversations,
	}
	if err := o.accounts.UpsertAccountStats(ctx, nil, stats); err != nil {
		return automation.Outcome{Success: false, Message: fmt.Sprintf("store statistics: %v", err), Error: err.Error()}
	}

	return automation.Outcome{
		Success: true,
		Message: "statistics computed",
		Counters: map[string]any{
			"total_sent_requests": sent,
			"rejected_total":      rejected,
			"generated_leads":     leads,
			"total_conversations": conversations,
		},
	}
}
