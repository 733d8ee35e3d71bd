// Package classify maps raw automation outcomes onto the account and
// execution status state machines.
package classify

import (
	"strings"

	"snapops/internal/automation"
	"snapops/internal/store"
)

// AccountRule maps a message keyword to an account status. Rules are ordered
// and first-match-wins.
type AccountRule struct {
	Keyword string
	Status  store.AccountStatus
}

// ExecutionRule maps a message keyword to an execution status, overriding
// the default DONE/FAILURE.
type ExecutionRule struct {
	Keyword string
	Status  store.ExecutionStatus
}

// DefaultAccountRules are scanned against failure messages. Order matters;
// a message can contain several matchable substrings.
var DefaultAccountRules = []AccountRule{
	{"It looks like your account may have been compromised", store.AccountCompromisedLocked},
	{"Incorrect password, please try again", store.AccountIncorrectPassword},
	{"Your account has been locked for violating", store.AccountLocked},
	{"obfuscated_phone", store.AccountObfuscatedPhone},
	{"likely failed because the account no longer exists", store.AccountLocked},
	{"Missing 'user_session' in login_response['bootstrap_data']", store.AccountLocked},
	{"Your account has been temporarily locked", store.AccountTemporaryLocked},
}

// DefaultExecutionRules are scanned on both success and failure paths.
var DefaultExecutionRules = []ExecutionRule{
	{"you have reached your requests_today limit", store.ExecutionStatusRateLimited},
}

// Classification is the decision for one outcome.
type Classification struct {
	// AccountStatus is the account's new status, nil to leave it unchanged.
	AccountStatus *store.AccountStatus

	// ExecutionStatus is the work item's terminal status.
	ExecutionStatus store.ExecutionStatus

	// ClearProxy and ClearWorkflow are side effects derived from the
	// account's effective final status.
	ClearProxy    bool
	ClearWorkflow bool
}

// Classifier applies ordered keyword rules to outcomes. The rule lists are
// injected so deployments can extend them without code changes.
type Classifier struct {
	accountRules   []AccountRule
	executionRules []ExecutionRule
}

// New builds a classifier from explicit rule lists.
func New(accountRules []AccountRule, executionRules []ExecutionRule) *Classifier {
	return &Classifier{accountRules: accountRules, executionRules: executionRules}
}

// NewDefault builds a classifier with the built-in rule tables.
func NewDefault() *Classifier {
	return New(DefaultAccountRules, DefaultExecutionRules)
}

// Classify decides the work item's terminal status and the account's next
// status from the outcome. current is the account's status at claim time.
func (c *Classifier) Classify(current store.AccountStatus, outcome automation.Outcome) Classification {
	var cl Classification

	if outcome.Success {
		cl.ExecutionStatus = store.ExecutionStatusDone
		// A successful run always rehabilitates a non-captcha account.
		if current != store.AccountCaptcha && current != store.AccountGoodStanding {
			status := store.AccountGoodStanding
			cl.AccountStatus = &status
		}
	} else {
		cl.ExecutionStatus = store.ExecutionStatusFailure
		for _, rule := range c.accountRules {
			if strings.Contains(outcome.Message, rule.Keyword) {
				status := rule.Status
				cl.AccountStatus = &status
				break
			}
		}
	}

	for _, rule := range c.executionRules {
		if strings.Contains(outcome.Message, rule.Keyword) {
			cl.ExecutionStatus = rule.Status
			break
		}
	}

	effective := current
	if cl.AccountStatus != nil {
		effective = *cl.AccountStatus
	}
	switch effective {
	case store.AccountCompromisedLocked, store.AccountIncorrectPassword, store.AccountLocked:
		cl.ClearProxy = true
	case store.AccountTemporaryLocked:
		cl.ClearWorkflow = true
	}

	return cl
}
