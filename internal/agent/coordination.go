// ABOUTME: Step-scoped coordination operations: status, proposals, completion and barrier waits.
// ABOUTME: Also exposes the validated coordination-group wrappers over the barrier.

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389/acp-hive/internal/auth"
	"github.com/2389/acp-hive/internal/barrier"
	"github.com/2389/acp-hive/internal/protocol"
)

// StatusPayload is the payload of a STATUS envelope.
type StatusPayload struct {
	Description string `json:"description"`
	Data        any    `json:"data,omitempty"`
}

// ProposalPayload is the payload of a PROPOSE envelope.
type ProposalPayload struct {
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
}

// SendStatus publishes a STATUS envelope for the current step.
func (a *Agent) SendStatus(ctx context.Context, description string, data any) error {
	env, err := protocol.Status(a.settings.AgentID, a.barrier.CurrentStep(), StatusPayload{
		Description: description,
		Data:        data,
	})
	if err != nil {
		return err
	}
	return a.publish(ctx, env.Subject(a.settings.Namespace), env)
}

// SendPropose publishes a PROPOSE envelope for the current step.
func (a *Agent) SendPropose(ctx context.Context, action string, data any) error {
	env, err := protocol.Propose(a.settings.AgentID, a.barrier.CurrentStep(), ProposalPayload{
		Action: action,
		Data:   data,
	})
	if err != nil {
		return err
	}
	return a.publish(ctx, env.Subject(a.settings.Namespace), env)
}

// CompleteStep announces that this agent finished the current step and
// records the completion locally without waiting for its own message to
// come back. It returns the step that was completed.
func (a *Agent) CompleteStep(ctx context.Context) (uint64, error) {
	step := a.barrier.CurrentStep()
	env := protocol.StepComplete(a.settings.AgentID, step)
	if err := a.publish(ctx, env.Subject(a.settings.Namespace), env); err != nil {
		return step, err
	}
	a.recordCompletion(step, a.settings.AgentID)
	return step, nil
}

// WaitForStepComplete polls until every known agent completed step. A
// timeout of zero uses the configured default. On expiry the barrier is
// forced forward if step is still current, and a *StepTimeoutError names the
// agents that never reported. Context cancellation returns ctx.Err() without
// forcing.
func (a *Agent) WaitForStepComplete(ctx context.Context, step uint64, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = a.settings.Timeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(a.waitInterval)
	defer ticker.Stop()

	for {
		if a.barrier.IsStepComplete(step) {
			if a.barrier.CurrentStep() == step {
				a.tryAdvance()
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return a.stepTimedOut(step, timeout)
		case <-ticker.C:
		}
	}
}

func (a *Agent) stepTimedOut(step uint64, timeout time.Duration) error {
	pending, forced := a.barrier.ForceAdvanceFrom(step)
	if forced {
		a.metrics.RecordStepForced()
		a.prune(a.barrier.CurrentStep())
	}

	a.logger.Warn("step timed out",
		"step", step,
		"timeout", timeout,
		"pending_agents", pending,
		"forced", forced,
		"current_step", a.barrier.CurrentStep(),
	)
	return &StepTimeoutError{Step: step, Pending: pending, Timeout: timeout}
}

// AddAgent adds id to the coordination group.
func (a *Agent) AddAgent(id string) error {
	if err := validAgentID(id); err != nil {
		return err
	}
	if err := a.barrier.AddAgent(id); err != nil {
		return err
	}
	a.logger.Info("agent joined group", "member", id, "group_size", len(a.barrier.KnownAgents()))
	return nil
}

// RemoveAgent removes id from the coordination group.
func (a *Agent) RemoveAgent(id string) error {
	if err := a.barrier.RemoveAgent(id); err != nil {
		return err
	}
	a.logger.Info("agent left group", "member", id, "group_size", len(a.barrier.KnownAgents()))
	// a departure can complete the current step
	a.tryAdvance()
	return nil
}

// IsMember reports whether id belongs to the coordination group. The agent
// itself is always a member.
func (a *Agent) IsMember(id string) bool { return a.barrier.HasAgent(id) }

// KnownAgents returns the coordination group, sorted.
func (a *Agent) KnownAgents() []string { return a.barrier.KnownAgents() }

// CurrentStep returns the step the barrier is waiting on.
func (a *Agent) CurrentStep() uint64 { return a.barrier.CurrentStep() }

// PendingAgents returns the group members that have not completed step.
func (a *Agent) PendingAgents(step uint64) []string { return a.barrier.PendingAgents(step) }

// IsStepComplete reports whether every group member completed step.
func (a *Agent) IsStepComplete(step uint64) bool { return a.barrier.IsStepComplete(step) }

// Barrier returns a snapshot of the barrier state.
func (a *Agent) Barrier() barrier.Snapshot { return a.barrier.Snapshot() }

// OnMessage registers h for msgType. It replaces any earlier handler.
func (a *Agent) OnMessage(msgType protocol.MessageType, h Handler) {
	a.router.Handle(msgType, h)
}

func (a *Agent) publish(ctx context.Context, subject string, env *protocol.Envelope) error {
	if err := a.checkAccess(subject, auth.OperationPublish); err != nil {
		return err
	}
	if err := a.transport.Publish(ctx, subject, env); err != nil {
		return fmt.Errorf("publishing %s: %w", env.MessageType, err)
	}
	a.metrics.RecordPublished()
	a.logger.Debug("message published", "subject", subject, "type", env.MessageType, "step", env.Step)
	return nil
}

func validAgentID(id string) error {
	if id == "" || strings.ContainsAny(id, ".*> \t") {
		return fmt.Errorf("%w: %q", ErrInvalidAgentID, id)
	}
	return nil
}
