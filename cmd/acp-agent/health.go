// ABOUTME: The health subcommand, which validates config and credentials then dials the broker
// ABOUTME: Prints "healthy" and exits zero when the agent could join its group

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/2389/acp-hive/internal/agent"
	"github.com/2389/acp-hive/internal/config"
)

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// health output is for humans, keep agent logging to warnings
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format})

	a, err := agent.New(ctx, cfg.AgentSettings(), agent.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	if !a.IsConnected() {
		return fmt.Errorf("unhealthy: not connected to %s", cfg.Broker.URL)
	}

	gray := color.New(color.FgHiBlack)
	gray.Printf("agent:     %s (%s)\n", a.ID(), a.Role())
	gray.Printf("namespace: %s\n", a.Namespace())
	gray.Printf("broker:    %s\n", cfg.Broker.URL)
	gray.Printf("security:  %s\n", a.Security())
	if sc, ok := a.Security().Context(); ok {
		gray.Printf("expires:   %s\n", sc.ExpiresAt.Format(time.RFC3339))
	}

	fmt.Println("healthy")
	return nil
}
