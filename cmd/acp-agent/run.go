// ABOUTME: The run subcommand: leads a mission when --members is given, otherwise joins one
// ABOUTME: Executes the requested number of steps and prints a per-step summary

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"

	"github.com/2389/acp-hive/internal/agent"
	"github.com/2389/acp-hive/internal/config"
	"github.com/2389/acp-hive/internal/mission"
	"github.com/2389/acp-hive/internal/store"
)

const (
	defaultSteps          = 3
	defaultAnnounceEvery  = 2 * time.Second
	defaultJoinWaitFactor = 2
)

type runOptions struct {
	missionID   string
	description string
	members     []string
	steps       int
	timeout     time.Duration
	work        time.Duration
}

func parseRunOptions(args []string) (*runOptions, error) {
	flags, err := parseFlags(args, []string{"mission", "description", "members", "steps", "timeout", "work"})
	if err != nil {
		return nil, err
	}

	opts := &runOptions{
		missionID:   flags.Get("mission", ""),
		description: flags.Get("description", ""),
		members:     flags.List("members"),
	}
	if opts.steps, err = flags.Int("steps", defaultSteps); err != nil {
		return nil, err
	}
	if opts.steps < 1 {
		return nil, errors.New("--steps must be at least 1")
	}
	if opts.timeout, err = flags.Duration("timeout", 0); err != nil {
		return nil, err
	}
	if opts.work, err = flags.Duration("work", 0); err != nil {
		return nil, err
	}
	return opts, nil
}

func runMission(ctx context.Context, args []string) error {
	opts, err := parseRunOptions(args)
	if err != nil {
		return err
	}

	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Agent:     %s (%s)\n", cfg.Agent.ID, cfg.Agent.Role)
	green.Print("    ▶ ")
	fmt.Printf("Namespace: %s\n", cfg.Agent.Namespace)
	green.Print("    ▶ ")
	fmt.Printf("Broker:    %s\n", cfg.Broker.URL)
	if cfg.Store.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Ledger:    %s\n", cfg.Store.Path)
	}
	green.Print("    ▶ ")
	if len(opts.members) > 0 {
		fmt.Printf("Mode:      ")
		cyan.Printf("leader")
		gray.Printf(" (%d steps)\n", opts.steps)
	} else {
		fmt.Printf("Mode:      ")
		yellow.Printf("worker")
		gray.Printf(" (%d steps)\n", opts.steps)
	}
	fmt.Println()

	a, err := agent.New(ctx, cfg.AgentSettings(), agent.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}
	defer a.Close()

	var ledger store.MissionStore
	if cfg.Store.Path != "" {
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("opening mission ledger: %w", err)
		}
		defer s.Close()
		ledger = s
	}

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	coord := mission.NewCoordinator(a, ledger, logger)
	if err := enterMission(ctx, coord, a, opts, logger); err != nil {
		return err
	}

	results, runErr := runSteps(ctx, coord, opts, logger)
	printSummary(coord.Mission(), results)

	if runErr != nil {
		if m := coord.Mission(); m != nil && m.Leader == a.ID() {
			if err := coord.Abort(context.WithoutCancel(ctx), runErr.Error()); err != nil {
				logger.Warn("failed to abort mission", "error", err)
			}
		}
		return runErr
	}

	if m := coord.Mission(); m != nil && m.Leader == a.ID() {
		if err := coord.Finish(ctx); err != nil {
			return fmt.Errorf("finishing mission: %w", err)
		}
	}
	return nil
}

// enterMission creates the mission and waits for members as leader, or waits
// for an announcement and joins as worker.
func enterMission(ctx context.Context, coord *mission.Coordinator, a *agent.Agent, opts *runOptions, logger *slog.Logger) error {
	wait := opts.timeout
	if wait <= 0 {
		wait = a.Timeout()
	}
	wait *= defaultJoinWaitFactor

	if len(opts.members) > 0 {
		m, err := coord.Create(ctx, mission.Plan{
			ID:          opts.missionID,
			Description: opts.description,
			Members:     opts.members,
		})
		if err != nil {
			return fmt.Errorf("creating mission: %w", err)
		}

		missing, err := coord.AwaitMembers(ctx, wait, defaultAnnounceEvery)
		if err != nil {
			return fmt.Errorf("waiting for members: %w", err)
		}
		if len(missing) > 0 {
			// absent members are forced past at every step until they arrive
			logger.Warn("starting without all members", "mission_id", m.ID, "missing", missing)
		}
		return nil
	}

	ann, err := coord.AwaitAnnouncement(ctx, wait)
	if err != nil {
		return fmt.Errorf("waiting for mission: %w", err)
	}
	if opts.missionID != "" && ann.MissionID != opts.missionID {
		return fmt.Errorf("announced mission %s does not match --mission %s", ann.MissionID, opts.missionID)
	}
	if _, err := coord.Join(ctx, ann); err != nil {
		return fmt.Errorf("joining mission: %w", err)
	}
	return nil
}

func runSteps(ctx context.Context, coord *mission.Coordinator, opts *runOptions, logger *slog.Logger) ([]*mission.StepResult, error) {
	work := func(ctx context.Context, step uint64) error {
		if opts.work <= 0 {
			return nil
		}
		logger.Debug("working", "step", step, "for", opts.work)
		select {
		case <-time.After(opts.work):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var results []*mission.StepResult
	for i := 0; i < opts.steps; i++ {
		res, err := coord.RunStep(ctx, work, opts.timeout)
		if res != nil {
			results = append(results, res)
		}
		switch {
		case err == nil:
		case errors.Is(err, agent.ErrStepTimeout):
			// the step was forced, keep going with the group
		default:
			return results, err
		}
	}
	return results, nil
}

func printSummary(m *store.Mission, results []*mission.StepResult) {
	if m == nil {
		return
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	cyan.Printf("  Mission %s\n", m.ID)
	cyan.Println("  ---------------")
	fmt.Printf("  Leader:  %s\n", m.Leader)
	fmt.Printf("  Members: %v\n", m.Members)
	for _, r := range results {
		if r.Outcome == store.StepForced {
			yellow.Printf("  ! step %d forced after %s, pending %v\n", r.Step, r.Duration.Round(time.Millisecond), r.Pending)
			continue
		}
		green.Printf("  ✓ step %d advanced in %s\n", r.Step, r.Duration.Round(time.Millisecond))
	}
	fmt.Println()
}
