package engine

import (
	"context"
	"log/slog"
	"time"

	"snapops/internal/store"
)

// Reaper fails IN_PROGRESS work items whose deadline has long passed, so an
// orphaned row cannot hold an account's in-progress slot forever.
type Reaper struct {
	executions store.ExecutionStore
	log        *slog.Logger
	interval   time.Duration
	maxAge     time.Duration
}

// NewReaper builds a reaper. maxAge should exceed the per-item timeout by a
// comfortable margin.
func NewReaper(executions store.ExecutionStore, log *slog.Logger, interval, maxAge time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{executions: executions, log: log, interval: interval, maxAge: maxAge}
}

// Run loops until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	cutoff := time.Now().Add(-r.maxAge)
	n, err := r.executions.ReapStaleAccountExecutions(ctx, cutoff)
	if err != nil {
		r.log.Error("reaper pass failed", "error", err)
		return
	}
	if n > 0 {
		r.log.Warn("reaped stale work items", "count", n, "older_than", cutoff)
	}
}
