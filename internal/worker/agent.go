// Package worker contains the pull-loop that drains the execution queue and
// hands work to the orchestration engine.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"snapops/internal/dispatch"
	"snapops/internal/engine"
	"snapops/internal/logger"
	"snapops/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                  string
	Concurrency         int
	PollInterval        time.Duration
	MaxBackoff          time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval   time.Duration // Interval between heartbeat calls (default: 2m)
	VisibilityExtension time.Duration // How long to extend visibility on heartbeat (default: 5m)
}

// Engine runs one execution end to end.
type Engine interface {
	Start(ctx context.Context, executionID uuid.UUID, accountIDs []uuid.UUID) (*engine.Summary, error)
}

// Agent is the worker pull-loop. It dequeues execution batches, runs them
// through the engine at bounded concurrency, and settles the queue items.
type Agent struct {
	queue     store.Queue
	engine    Engine
	config    AgentConfig
	agencyIDs []uuid.UUID
	log       *slog.Logger
	done      chan struct{}
}

// New creates a worker agent.
// agencyIDs: optional. If provided, this worker only pulls executions for
// these specific agencies.
func New(q store.Queue, eng Engine, config AgentConfig, agencyIDs []uuid.UUID, log *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Minute
	}

	if config.VisibilityExtension <= 0 {
		config.VisibilityExtension = 5 * time.Minute
	}

	return &Agent{
		queue:     q,
		engine:    eng,
		config:    config,
		agencyIDs: agencyIDs,
		log:       log,
		done:      make(chan struct{}),
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On SIGTERM, it stops dequeuing new work and allows in-flight executions to
// finish.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent starting", "agent_id", a.config.ID, "concurrency", a.config.Concurrency)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Channel to signal when a slot becomes available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty queue, resets on work found)
	currentBackoff := a.config.PollInterval

	// Helper to trigger immediate non-blocking re-poll
	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	// Initial poll
	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("context cancelled, waiting for running executions to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			// Timer-based poll (with backoff)
			triggerPoll()

		case <-pollNow:
			// Count available slots
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			// Batch dequeue up to available slots
			items, err := a.queue.DequeueBatch(ctx, a.agencyIDs, availableSlots)
			if err != nil {
				a.log.Error("dequeue failed", "error", err)
				continue
			}

			if len(items) == 0 {
				// Empty queue - increase backoff (exponential, capped at MaxBackoff)
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			// Found work - reset backoff to minimum
			currentBackoff = a.config.PollInterval

			a.log.Info("claimed executions", "count", len(items))

			for _, item := range items {
				// Acquire semaphore slot
				sem <- struct{}{}

				wg.Add(1)
				go func(execID uuid.UUID, payload json.RawMessage) {
					defer wg.Done()
					defer func() {
						<-sem
						// Signal that a slot is now available - trigger immediate re-poll
						triggerPoll()
					}()
					a.processItem(ctx, execID, payload)
				}(item.ExecutionID, item.Payload)
			}

			// If we got work and there are still slots available, poll again immediately
			if len(items) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// processItem runs a single dequeued execution through the engine.
func (a *Agent) processItem(ctx context.Context, execID uuid.UUID, payload json.RawMessage) {
	var p dispatch.Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		a.log.Error("invalid queue payload", "execution_id", execID, "error", err)
		a.queue.Fail(ctx, nil, execID, fmt.Sprintf("Invalid payload: %v", err))
		return
	}
	if p.ExecutionID == uuid.Nil {
		p.ExecutionID = execID
	}

	traceCtx := ctx
	if p.Trace != nil {
		traceCtx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(p.Trace))
	}

	tracer := otel.Tracer("worker-agent")
	spanCtx, span := tracer.Start(traceCtx, "process_execution",
		trace.WithAttributes(
			attribute.String("execution.id", execID.String()),
			attribute.Int("execution.account_count", len(p.AccountIDs)),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	spanCtx = logger.WithExecutionID(spanCtx, execID.String())
	log := logger.FromContext(spanCtx, a.log)
	log.Info("processing execution")

	// Start heartbeat to refresh visibility timeout during execution
	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	go a.runHeartbeat(heartbeatCtx, execID)

	summary, err := a.engine.Start(spanCtx, execID, p.AccountIDs)
	if err != nil {
		span.RecordError(err)
		log.Error("execution attempt failed", "error", err)
		a.queue.Fail(context.Background(), nil, execID, err.Error())
		return
	}

	log.Info("execution finished", "status", summary.FinalStatus)
	span.SetAttributes(attribute.String("execution.status", string(summary.FinalStatus)))

	if err := a.queue.Complete(context.Background(), nil, execID); err != nil {
		log.Error("failed to complete queue item", "error", err)
	}
}

// runHeartbeat refreshes the visibility timeout periodically while an
// execution is running. This prevents long executions from being picked up by
// another worker.
func (a *Agent) runHeartbeat(ctx context.Context, execID uuid.UUID) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			visibleAfter := time.Now().Add(a.config.VisibilityExtension)
			if err := a.queue.SetVisibleAfter(context.Background(), nil, execID, visibleAfter); err != nil {
				a.log.Error("heartbeat failed", "execution_id", execID, "error", err)
			}
		}
	}
}
