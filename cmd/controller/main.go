// Package main is the entry point for the snapops controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snapops/internal/audit"
	"snapops/internal/config"
	"snapops/internal/controller"
	"snapops/internal/controller/handlers"
	"snapops/internal/controller/middleware"
	"snapops/internal/dispatch"
	"snapops/internal/logger"
	"snapops/internal/observability"
	"snapops/internal/store/postgres"
	"snapops/internal/workflow"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	if *migrateFlag {
		log.Println("Running database migrations...")
		if err := postgres.Migrate(db.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "snapops-controller", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "snapops-controller")
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Use an Observable Gauge (Async) that queries the DB only when scraped.
	meter := otel.Meter("snapops-controller")
	_, err = meter.Int64ObservableGauge("snapops.queue.depth",
		metric.WithDescription("Current number of executions in the queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			count, err := db.Count(ctx)
			if err != nil {
				log.Printf("Failed to count queue depth: %v", err)
				return nil // Don't crash metrics scrape on DB error
			}
			obs.Observe(count)
			return nil
		}),
	)
	if err != nil {
		log.Printf("Failed to register queue depth metric: %v", err)
	}

	slogger := logger.New()

	dispatcher := dispatch.New(dispatch.Deps{
		Jobs:          db,
		Subscriptions: db,
		Accounts:      db,
		Executions:    db,
		Queue:         db,
		Log:           slogger,
	})

	runner := workflow.New(workflow.Deps{
		Workflows: db,
		Accounts:  db,
		Logs:      db,
		Status:    audit.NewLogger(db, db, slogger),
		Gate:      dispatch.NewSubscriptionGate(db),
		Log:       slogger,
	})

	h := handlers.New(db, dispatcher, runner)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.Config{
		Addr:           addr,
		InternalSecret: cfg.InternalSecret,
		RateLimit:      middleware.RateLimitConfig{Limit: 5, Burst: 10},
		Metrics:        metricsHandler,
	}, h)

	go func() {
		log.Printf("Snapops Controller starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down controller...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited properly")
}
