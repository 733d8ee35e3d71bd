// Package config handles environment variable loading for ports, database
// strings, worker tuning and secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// Shared secret for the internal endpoints (scheduler, daily triggers)
	InternalSecret string

	// Base URL of the browser automation service
	AutomationURL string

	// How many executions a worker processes at once
	WorkerConcurrency int

	// How many accounts of one execution run in parallel
	WorkerFanout int

	// Worker poll interval
	WorkerPollInterval time.Duration

	// Deadline for a single account work item
	ItemTimeout time.Duration

	// OTLP gRPC endpoint for traces, empty disables export
	OTELEndpoint string

	// URL of the controller (used by snapctl)
	ControllerURL string
}

// Load reads configuration from the environment. A .env file in the working
// directory is folded in first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	port, err := intEnv("PORT", 6161)
	if err != nil {
		return nil, err
	}

	concurrency, err := intEnv("WORKER_CONCURRENCY", 1)
	if err != nil {
		return nil, err
	}

	fanout, err := intEnv("WORKER_FANOUT", 4)
	if err != nil {
		return nil, err
	}

	pollInterval, err := durationEnv("WORKER_POLL_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, err
	}

	itemTimeout, err := durationEnv("ITEM_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	automationURL := os.Getenv("AUTOMATION_URL")
	if automationURL == "" {
		automationURL = "http://localhost:9091"
	}

	controllerURL := os.Getenv("CONTROLLER_URL")
	if controllerURL == "" {
		controllerURL = "http://localhost:6161"
	}

	return &Config{
		DatabaseURL:        dbURL,
		HTTPPort:           port,
		InternalSecret:     os.Getenv("INTERNAL_SECRET"),
		AutomationURL:      automationURL,
		WorkerConcurrency:  concurrency,
		WorkerFanout:       fanout,
		WorkerPollInterval: pollInterval,
		ItemTimeout:        itemTimeout,
		OTELEndpoint:       os.Getenv("OTEL_ENDPOINT"),
		ControllerURL:      controllerURL,
	}, nil
}

func intEnv(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
