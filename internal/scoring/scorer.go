// Package scoring ranks and filters accounts by their accumulated
// performance counters.
package scoring

import (
	"sort"

	"snapops/internal/store"
)

// Weights are the caller-supplied coefficients of the composite score. They
// are not required to sum to 1.
type Weights struct {
	RejectingRate    float64
	ConversationRate float64
	ConversionRate   float64
}

// Thresholds bound the raw (un-normalized) rates in Filter. A nil field
// leaves that rate unbounded.
type Thresholds struct {
	MaxRejectingRate    *float64
	MinConversationRate *float64
	MinConversionRate   *float64
}

// ScoredAccount is one ranked candidate.
type ScoredAccount struct {
	Account store.Account
	Score   float64
}

type rates struct {
	rejecting    float64
	conversation float64
	conversion   float64
}

// computeRates derives the three raw rates from the counters. A zero
// denominator yields 0 for that rate.
func computeRates(s *store.AccountStats) rates {
	var r rates
	if total := s.RejectedTotal + s.QuickAddsSent + s.GeneratedLeads; total > 0 {
		r.rejecting = float64(s.RejectedTotal) / float64(total)
	}
	if s.QuickAddsSent > 0 {
		r.conversation = float64(s.TotalConversations) / float64(s.QuickAddsSent)
	}
	if s.ConversationsCharged > 0 {
		r.conversion = float64(s.TotalConversions) / float64(s.ConversationsCharged)
	}
	return r
}

// Score ranks candidates by the weighted sum of their rates, each rate
// normalized by its maximum across the candidate set. Candidates without a
// stats row are not rankable and are skipped. The result is ordered by score
// descending, ties by account ID ascending, and truncated to n when n > 0.
func Score(candidates []store.AccountWithStats, weights Weights, n int) []ScoredAccount {
	type scored struct {
		account store.Account
		r       rates
	}

	var pool []scored
	maxima := rates{}
	for _, c := range candidates {
		if c.Stats == nil {
			continue
		}
		r := computeRates(c.Stats)
		if r.rejecting > maxima.rejecting {
			maxima.rejecting = r.rejecting
		}
		if r.conversation > maxima.conversation {
			maxima.conversation = r.conversation
		}
		if r.conversion > maxima.conversion {
			maxima.conversion = r.conversion
		}
		pool = append(pool, scored{account: c.Account, r: r})
	}

	// A zero maximum normalizes as 1 so the division below is always defined.
	if maxima.rejecting == 0 {
		maxima.rejecting = 1
	}
	if maxima.conversation == 0 {
		maxima.conversation = 1
	}
	if maxima.conversion == 0 {
		maxima.conversion = 1
	}

	out := make([]ScoredAccount, 0, len(pool))
	for _, s := range pool {
		composite := weights.RejectingRate*(s.r.rejecting/maxima.rejecting) +
			weights.ConversationRate*(s.r.conversation/maxima.conversation) +
			weights.ConversionRate*(s.r.conversion/maxima.conversion)
		out = append(out, ScoredAccount{Account: s.account, Score: composite})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Account.ID.String() < out[j].Account.ID.String()
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Filter returns the accounts whose raw rates fall within the thresholds.
// Accounts without a stats row pass unconditionally so freshly ingested
// accounts are never excluded from targeting.
func Filter(candidates []store.AccountWithStats, t Thresholds) []store.Account {
	var out []store.Account
	for _, c := range candidates {
		if c.Stats == nil {
			out = append(out, c.Account)
			continue
		}
		r := computeRates(c.Stats)
		if t.MaxRejectingRate != nil && r.rejecting > *t.MaxRejectingRate {
			continue
		}
		if t.MinConversationRate != nil && r.conversation < *t.MinConversationRate {
			continue
		}
		if t.MinConversionRate != nil && r.conversion < *t.MinConversionRate {
			continue
		}
		out = append(out, c.Account)
	}
	return out
}
