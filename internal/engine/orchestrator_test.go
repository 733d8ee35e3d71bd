package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"snapops/internal/automation"
	"snapops/internal/classify"
	"snapops/internal/logger"
	"snapops/internal/store"

	"github.com/google/uuid"
)

type harness struct {
	orchestrator *Orchestrator
	executions   *fakeExecutions
	accounts     *fakeAccounts
	client       *fakeClient
}

func newHarness(t *testing.T, fanout int) *harness {
	t.Helper()
	executions := newFakeExecutions()
	accounts := newFakeAccounts()
	client := newFakeClient()

	o := New(Deps{
		Executions:  executions,
		Accounts:    accounts,
		Status:      &fakeStatusWriter{accounts: accounts},
		Classifier:  classify.NewDefault(),
		Client:      client,
		Log:         logger.New(),
		Fanout:      fanout,
		ItemTimeout: time.Minute,
	})
	return &harness{orchestrator: o, executions: executions, accounts: accounts, client: client}
}

func (h *harness) seedExecution(opType store.OperationType, cfg store.Configuration) *store.Execution {
	exec := &store.Execution{
		ID:            uuid.New(),
		AgencyID:      uuid.New(),
		Type:          opType,
		Configuration: cfg,
		Status:        store.ExecutionStatusStarted,
		StartTime:     time.Now(),
	}
	h.executions.executions[exec.ID] = exec
	return exec
}

func (h *harness) seedAccounts(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
		h.accounts.add(store.Account{
			ID:       ids[i],
			Username: "user",
			Status:   store.AccountGoodStanding,
		})
	}
	return ids
}

func TestStart_AllChildrenSucceed(t *testing.T) {
	h := newHarness(t, 4)
	exec := h.seedExecution(store.OpQuickAdds, store.Configuration{"requests": float64(100)})
	ids := h.seedAccounts(3)

	summary, err := h.orchestrator.Start(context.Background(), exec.ID, ids)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if summary.FinalStatus != store.ExecutionStatusDone {
		t.Errorf("got final status %s, want DONE", summary.FinalStatus)
	}
	for accountID, item := range h.executions.itemsFor(exec.ID) {
		if item.Status != store.ExecutionStatusDone {
			t.Errorf("account %s item status %s, want DONE", accountID, item.Status)
		}
	}
}

func TestStart_ConcurrencyGuardSkipsBusyAccount(t *testing.T) {
	h := newHarness(t, 4)
	exec := h.seedExecution(store.OpQuickAdds, store.Configuration{"requests": float64(10)})
	ids := h.seedAccounts(3)

	// Account 2 already holds an IN_PROGRESS slot from another execution.
	otherExecution := uuid.New()
	busyItem := &store.AccountExecution{
		ID:          uuid.New(),
		ExecutionID: otherExecution,
		AccountID:   ids[1],
		Type:        store.OpQuickAdds,
		Status:      store.ExecutionStatusInProgress,
	}
	h.executions.items[busyItem.ID] = busyItem

	summary, err := h.orchestrator.Start(context.Background(), exec.ID, ids)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	items := h.executions.itemsFor(exec.ID)
	if items[ids[1]].Status != store.ExecutionStatusAlreadyInProgress {
		t.Errorf("busy account item status %s, want EXECUTION_ALREADY_IN_PROGRESS", items[ids[1]].Status)
	}
	if h.client.calledFor(ids[1]) {
		t.Error("automation client must not run for the busy account")
	}

	if items[ids[0]].Status != store.ExecutionStatusDone {
		t.Errorf("account 1 status %s, want DONE", items[ids[0]].Status)
	}
	if items[ids[2]].Status != store.ExecutionStatusDone {
		t.Errorf("account 3 status %s, want DONE", items[ids[2]].Status)
	}

	// The skip is not an internal error, so the execution still finishes.
	if summary.FinalStatus != store.ExecutionStatusDone {
		t.Errorf("got final status %s, want DONE", summary.FinalStatus)
	}
}

func TestStart_ClassifiedFailureStaysOnChild(t *testing.T) {
	h := newHarness(t, 2)
	exec := h.seedExecution(store.OpQuickAdds, store.Configuration{})
	ids := h.seedAccounts(2)

	h.client.outcomes[ids[0]] = automation.Outcome{
		Success: false,
		Message: "Incorrect password, please try again",
	}

	summary, err := h.orchestrator.Start(context.Background(), exec.ID, ids)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	items := h.executions.itemsFor(exec.ID)
	if items[ids[0]].Status != store.ExecutionStatusFailure {
		t.Errorf("failed account status %s, want FAILURE", items[ids[0]].Status)
	}
	if summary.FinalStatus != store.ExecutionStatusDone {
		t.Errorf("classified failure must not fail the parent, got %s", summary.FinalStatus)
	}

	// Side effects applied through the audited store
	account, _ := h.accounts.GetAccount(context.Background(), ids[0])
	if account.Status != store.AccountIncorrectPassword {
		t.Errorf("account status %s, want INCORRECT_PASSWORD", account.Status)
	}
	if len(h.accounts.clearedProxy) != 1 || h.accounts.clearedProxy[0] != ids[0] {
		t.Errorf("proxy not cleared for the failed account: %v", h.accounts.clearedProxy)
	}
}

func TestStart_PanicBecomesFailureOutcome(t *testing.T) {
	h := newHarness(t, 2)
	exec := h.seedExecution(store.OpQuickAdds, store.Configuration{})
	ids := h.seedAccounts(2)
	h.client.panicFor = ids[0]

	summary, err := h.orchestrator.Start(context.Background(), exec.ID, ids)
	if err != nil {
		t.Fatalf("a panicking work item must not crash Start: %v", err)
	}

	items := h.executions.itemsFor(exec.ID)
	if items[ids[0]].Status != store.ExecutionStatusFailure {
		t.Errorf("panicked item status %s, want FAILURE", items[ids[0]].Status)
	}
	if items[ids[1]].Status != store.ExecutionStatusDone {
		t.Errorf("sibling status %s, want DONE", items[ids[1]].Status)
	}

	// A panic is an internal error, so the parent fails.
	if summary.FinalStatus != store.ExecutionStatusFailure {
		t.Errorf("got final status %s, want FAILURE", summary.FinalStatus)
	}
}

func TestStart_MissingAccountFailsParent(t *testing.T) {
	h := newHarness(t, 2)
	exec := h.seedExecution(store.OpQuickAdds, store.Configuration{})
	ids := h.seedAccounts(1)
	ghost := uuid.New() // no account row

	summary, err := h.orchestrator.Start(context.Background(), exec.ID, append(ids, ghost))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if summary.FinalStatus != store.ExecutionStatusFailure {
		t.Errorf("got final status %s, want FAILURE", summary.FinalStatus)
	}
	items := h.executions.itemsFor(exec.ID)
	if items[ghost].Status != store.ExecutionStatusFailure {
		t.Errorf("ghost item status %s, want FAILURE", items[ghost].Status)
	}
	if items[ids[0]].Status != store.ExecutionStatusDone {
		t.Errorf("sibling status %s, want DONE", items[ids[0]].Status)
	}
}

func TestStart_SetupErrorAbortsWithFailed(t *testing.T) {
	h := newHarness(t, 2)
	exec := h.seedExecution(store.OpQuickAdds, store.Configuration{})
	ids := h.seedAccounts(1)
	h.executions.createItemsErr = errors.New("insert failed")

	summary, err := h.orchestrator.Start(context.Background(), exec.ID, ids)
	if err != nil {
		t.Fatalf("setup failure is terminal, not retryable: %v", err)
	}

	if summary.FinalStatus != store.ExecutionStatusFailed {
		t.Errorf("got final status %s, want FAILED", summary.FinalStatus)
	}
	stored, _ := h.executions.GetExecutionByID(context.Background(), exec.ID)
	if stored.EndTime == nil {
		t.Error("aborted execution must carry an end time")
	}
	if len(h.client.calls) != 0 {
		t.Error("no work item may run after a setup failure")
	}
}

func TestStart_GenerateLeadsResolvesAndStoresPerAccount(t *testing.T) {
	h := newHarness(t, 4)
	exec := h.seedExecution(store.OpGenerateLeads, store.Configuration{
		"accounts_number":          float64(4),
		"target_lead_number":       float64(100),
		"weight_rejecting_rate":    float64(1),
		"weight_conversation_rate": float64(1),
		"weight_conversion_rate":   float64(1),
	})

	ids := h.seedAccounts(4)
	for _, id := range ids {
		h.accounts.withStats = append(h.accounts.withStats, store.AccountWithStats{
			Account: store.Account{ID: id, Status: store.AccountGoodStanding},
			Stats:   &store.AccountStats{AccountID: id, QuickAddsSent: 10, RejectedTotal: 1},
		})
	}

	summary, err := h.orchestrator.Start(context.Background(), exec.ID, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if summary.FinalStatus != store.ExecutionStatusDone {
		t.Errorf("got final status %s, want DONE", summary.FinalStatus)
	}

	stored, _ := h.executions.GetExecutionByID(context.Background(), exec.ID)
	got := stored.Configuration.Float("leads_per_account", -1)
	if math.Abs(got-25.0) > 1e-9 {
		t.Errorf("leads_per_account = %v, want 25.0", got)
	}
	if len(h.executions.itemsFor(exec.ID)) != 4 {
		t.Errorf("expected 4 work items")
	}
}

func TestStart_GenerateLeadsEmptySetStoresZero(t *testing.T) {
	h := newHarness(t, 2)
	exec := h.seedExecution(store.OpGenerateLeads, store.Configuration{
		"accounts_number":    float64(4),
		"target_lead_number": float64(100),
	})
	// no candidates at all

	summary, err := h.orchestrator.Start(context.Background(), exec.ID, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if summary.FinalStatus != store.ExecutionStatusDone {
		t.Errorf("empty fan-out finishes DONE, got %s", summary.FinalStatus)
	}

	stored, _ := h.executions.GetExecutionByID(context.Background(), exec.ID)
	if got := stored.Configuration.Float("leads_per_account", -1); got != 0 {
		t.Errorf("leads_per_account = %v, want 0", got)
	}
}

func TestStart_TopAccountsResolvesViaFilter(t *testing.T) {
	h := newHarness(t, 2)
	exec := h.seedExecution(store.OpQuickAddsTopAccounts, store.Configuration{
		"requests":           float64(100),
		"max_rejecting_rate": float64(0.2),
	})

	good := h.seedAccounts(1)[0]
	bad := uuid.New()
	h.accounts.add(store.Account{ID: bad, Status: store.AccountGoodStanding})
	h.accounts.withStats = []store.AccountWithStats{
		{Account: store.Account{ID: good}, Stats: &store.AccountStats{QuickAddsSent: 99, RejectedTotal: 1}},
		{Account: store.Account{ID: bad}, Stats: &store.AccountStats{QuickAddsSent: 50, RejectedTotal: 50}},
	}

	if _, err := h.orchestrator.Start(context.Background(), exec.ID, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	items := h.executions.itemsFor(exec.ID)
	if len(items) != 1 {
		t.Fatalf("expected 1 work item, got %d", len(items))
	}
	if _, ok := items[good]; !ok {
		t.Error("filtered set must contain only the low-rejection account")
	}

	stored, _ := h.executions.GetExecutionByID(context.Background(), exec.ID)
	if got := stored.Configuration.Float("requests_per_account", -1); got != 100 {
		t.Errorf("requests_per_account = %v, want 100", got)
	}
}

func TestStart_UnsupportedType(t *testing.T) {
	h := newHarness(t, 1)
	exec := h.seedExecution(store.OperationType("MINE_BITCOIN"), store.Configuration{})
	ids := h.seedAccounts(1)

	if _, err := h.orchestrator.Start(context.Background(), exec.ID, ids); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	item := h.executions.itemsFor(exec.ID)[ids[0]]
	if item.Status != store.ExecutionStatusFailure {
		t.Errorf("got status %s, want FAILURE", item.Status)
	}
	if item.Message != "Unsupported execution type: MINE_BITCOIN" {
		t.Errorf("got message %q", item.Message)
	}
}

func TestStart_TerminalExecutionIsNoOp(t *testing.T) {
	h := newHarness(t, 1)
	exec := h.seedExecution(store.OpQuickAdds, store.Configuration{})
	exec.Status = store.ExecutionStatusDone
	ids := h.seedAccounts(1)

	summary, err := h.orchestrator.Start(context.Background(), exec.ID, ids)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if summary.FinalStatus != store.ExecutionStatusDone {
		t.Errorf("got %s, want DONE", summary.FinalStatus)
	}
	if len(h.executions.itemsFor(exec.ID)) != 0 {
		t.Error("redelivered terminal execution must not create work items")
	}
}

func TestStart_MissingExecutionIsRetryable(t *testing.T) {
	h := newHarness(t, 1)

	if _, err := h.orchestrator.Start(context.Background(), uuid.New(), nil); err == nil {
		t.Fatal("expected error for unknown execution")
	}
}

func TestStart_SuccessRehabilitatesAccount(t *testing.T) {
	h := newHarness(t, 1)
	exec := h.seedExecution(store.OpStatusCheck, store.Configuration{})

	id := uuid.New()
	h.accounts.add(store.Account{ID: id, Status: store.AccountTemporaryLocked})

	if _, err := h.orchestrator.Start(context.Background(), exec.ID, []uuid.UUID{id}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	account, _ := h.accounts.GetAccount(context.Background(), id)
	if account.Status != store.AccountGoodStanding {
		t.Errorf("account status %s, want GOOD_STANDING", account.Status)
	}
}

func TestComputeStatistics_ReadsStoredCounters(t *testing.T) {
	h := newHarness(t, 1)
	exec := h.seedExecution(store.OpComputeStatistics, store.Configuration{})
	id := h.seedAccounts(1)[0]

	h.executions.sums[id.String()+"/QUICK_ADDS/total_sent_requests"] = 420
	h.executions.sums[id.String()+"/GENERATE_LEADS/generated_leads"] = 33

	if _, err := h.orchestrator.Start(context.Background(), exec.ID, []uuid.UUID{id}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	item := h.executions.itemsFor(exec.ID)[id]
	if item.Status != store.ExecutionStatusDone {
		t.Fatalf("got status %s, want DONE", item.Status)
	}
	if got := item.Result.Float("total_sent_requests", -1); got != 420 {
		t.Errorf("total_sent_requests = %v, want 420", got)
	}
	if got := item.Result.Float("generated_leads", -1); got != 33 {
		t.Errorf("generated_leads = %v, want 33", got)
	}
	if len(h.client.calls) != 0 {
		t.Error("COMPUTE_STATISTICS must not call the automation service")
	}

	// The counters must land in the stats row the scorer reads from.
	stats, err := h.accounts.GetAccountStats(context.Background(), id)
	if err != nil {
		t.Fatalf("stats row not written: %v", err)
	}
	if stats.QuickAddsSent != 420 {
		t.Errorf("QuickAddsSent = %d, want 420", stats.QuickAddsSent)
	}
	if stats.GeneratedLeads != 33 {
		t.Errorf("GeneratedLeads = %d, want 33", stats.GeneratedLeads)
	}
}

func TestComputeStatistics_UpsertFailureFailsItem(t *testing.T) {
	h := newHarness(t, 1)
	exec := h.seedExecution(store.OpComputeStatistics, store.Configuration{})
	id := h.seedAccounts(1)[0]
	h.accounts.upsertErr = errors.New("write failed")

	if _, err := h.orchestrator.Start(context.Background(), exec.ID, []uuid.UUID{id}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	item := h.executions.itemsFor(exec.ID)[id]
	if item.Status != store.ExecutionStatusFailure {
		t.Errorf("got status %s, want FAILURE", item.Status)
	}
}

func TestStart_RedeliveryDoesNotRepeatFinishedWork(t *testing.T) {
	h := newHarness(t, 4)
	exec := h.seedExecution(store.OpQuickAdds, store.Configuration{"requests": float64(10)})
	exec.Status = store.ExecutionStatusInProgress
	ids := h.seedAccounts(2)

	// First delivery created both children and finished one before the
	// worker died.
	doneItem := &store.AccountExecution{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		AccountID:   ids[0],
		Type:        store.OpQuickAdds,
		Status:      store.ExecutionStatusDone,
		Message:     "ok",
	}
	pendingItem := &store.AccountExecution{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		AccountID:   ids[1],
		Type:        store.OpQuickAdds,
		Status:      store.ExecutionStatusStarted,
	}
	h.executions.items[doneItem.ID] = doneItem
	h.executions.items[pendingItem.ID] = pendingItem

	summary, err := h.orchestrator.Start(context.Background(), exec.ID, ids)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if h.client.calledFor(ids[0]) {
		t.Error("finished account must not be run again on redelivery")
	}
	if !h.client.calledFor(ids[1]) {
		t.Error("unfinished account must be run on redelivery")
	}
	if len(h.executions.itemsFor(exec.ID)) != 2 {
		t.Errorf("expected 2 work items, got %d", len(h.executions.itemsFor(exec.ID)))
	}
	if summary.FinalStatus != store.ExecutionStatusDone {
		t.Errorf("got final status %s, want DONE", summary.FinalStatus)
	}
}

func TestStart_RedeliveryWithAllChildrenSettled(t *testing.T) {
	h := newHarness(t, 2)
	exec := h.seedExecution(store.OpQuickAdds, store.Configuration{})
	exec.Status = store.ExecutionStatusInProgress
	ids := h.seedAccounts(1)

	item := &store.AccountExecution{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		AccountID:   ids[0],
		Type:        store.OpQuickAdds,
		Status:      store.ExecutionStatusDone,
	}
	h.executions.items[item.ID] = item

	summary, err := h.orchestrator.Start(context.Background(), exec.ID, ids)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(h.client.calls) != 0 {
		t.Error("nothing may run when every child already settled")
	}
	if summary.FinalStatus != store.ExecutionStatusDone {
		t.Errorf("got final status %s, want DONE", summary.FinalStatus)
	}
	stored, _ := h.executions.GetExecutionByID(context.Background(), exec.ID)
	if stored.EndTime == nil {
		t.Error("finalized execution must carry an end time")
	}
}

func TestRunOne_LostClaimSkipsWork(t *testing.T) {
	h := newHarness(t, 1)
	exec := h.seedExecution(store.OpQuickAdds, store.Configuration{})
	id := h.seedAccounts(1)[0]

	// The reaper already failed the row between dispatch and claim.
	item := &store.AccountExecution{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		AccountID:   id,
		Type:        store.OpQuickAdds,
		Status:      store.ExecutionStatusFailure,
		Message:     "reaped after deadline",
	}
	h.executions.items[item.ID] = item

	out := h.orchestrator.RunOne(context.Background(), exec, item)

	if h.client.calledFor(id) {
		t.Error("automation client must not run without a claim")
	}
	if out.Status != store.ExecutionStatusFailure {
		t.Errorf("got status %s, want FAILURE", out.Status)
	}
	stored, _ := h.executions.GetAccountExecution(context.Background(), item.ID)
	if stored.Status != store.ExecutionStatusFailure || stored.Message != "reaped after deadline" {
		t.Errorf("terminal row must not change, got %s %q", stored.Status, stored.Message)
	}
}

func TestReaper_FailsStaleItems(t *testing.T) {
	executions := newFakeExecutions()
	old := time.Now().Add(-2 * time.Hour)
	item := &store.AccountExecution{
		ID:          uuid.New(),
		ExecutionID: uuid.New(),
		AccountID:   uuid.New(),
		Status:      store.ExecutionStatusInProgress,
		StartTime:   &old,
	}
	executions.items[item.ID] = item

	r := NewReaper(executions, logger.New(), time.Minute, time.Hour)
	r.reap(context.Background())

	got, _ := executions.GetAccountExecution(context.Background(), item.ID)
	if got.Status != store.ExecutionStatusFailure {
		t.Errorf("stale item status %s, want FAILURE", got.Status)
	}
	if got.Message != "reaped after deadline" {
		t.Errorf("got message %q", got.Message)
	}
}
