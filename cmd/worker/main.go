// Package main is the entry point for the snapops worker.
// The worker drains the execution queue and runs the per-account fan-out
// against the browser automation service.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"snapops/internal/audit"
	"snapops/internal/automation"
	"snapops/internal/classify"
	"snapops/internal/config"
	"snapops/internal/engine"
	"snapops/internal/logger"
	"snapops/internal/observability"
	"snapops/internal/store/postgres"
	"snapops/internal/worker"
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "snapops-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	slogger := logger.New()

	orchestrator := engine.New(engine.Deps{
		Executions:  db,
		Accounts:    db,
		Status:      audit.NewLogger(db, db, slogger),
		Classifier:  classify.NewDefault(),
		Client:      automation.NewHTTPClient(cfg.AutomationURL),
		Log:         slogger,
		Fanout:      cfg.WorkerFanout,
		ItemTimeout: cfg.ItemTimeout,
	})

	agent := worker.New(db, orchestrator, worker.AgentConfig{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
	}, nil, slogger)

	log.Printf("Worker started with concurrency %d", cfg.WorkerConcurrency)
	go agent.Run(ctx)

	// Deadline enforcement for work items orphaned by crashed workers.
	reaper := engine.NewReaper(db, slogger, 0, cfg.ItemTimeout)
	go reaper.Run(ctx)

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "snapops-worker")
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Start a dedicated metrics server on port 6162
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		log.Println("Worker metrics listening on :6162")
		if err := http.ListenAndServe(":6162", mux); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	<-agent.Done()
}
