// ABOUTME: Point-to-point messaging between agents outside the step-scoped subjects.
// ABOUTME: Direct sends target an agent inbox; Request and Reply correlate through reply subjects.

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389/acp-hive/internal/auth"
	"github.com/2389/acp-hive/internal/protocol"
	"github.com/2389/acp-hive/internal/transport"
)

// SendDirect publishes an envelope of msgType into another agent's inbox.
func (a *Agent) SendDirect(ctx context.Context, role, agentID string, msgType protocol.MessageType, payload any) error {
	if err := validAgentID(agentID); err != nil {
		return err
	}
	env, err := protocol.New(msgType, a.settings.AgentID, a.barrier.CurrentStep(), payload)
	if err != nil {
		return err
	}
	return a.publish(ctx, protocol.DirectSubject(a.settings.Namespace, role, agentID, msgType), env)
}

// Request publishes env to subject and waits up to timeout for one reply.
// A timeout of zero uses the configured default.
func (a *Agent) Request(ctx context.Context, subject string, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error) {
	if timeout <= 0 {
		timeout = a.settings.Timeout
	}
	if err := a.checkAccess(subject, auth.OperationPublish); err != nil {
		return nil, err
	}

	resp, err := a.transport.Request(ctx, subject, env, timeout)
	if err != nil {
		return nil, fmt.Errorf("request to %s: %w", subject, err)
	}
	a.metrics.RecordPublished()
	a.metrics.RecordReceived()
	return resp, nil
}

// Reply answers msg on its reply subject. Broker inboxes sit outside the
// namespace, so only credential freshness is checked for them; any other
// reply subject must pass the publish permissions like a normal send.
func (a *Agent) Reply(ctx context.Context, msg *transport.Message, env *protocol.Envelope) error {
	if msg.Reply == "" {
		return fmt.Errorf("%w: message on %s has no reply subject", transport.ErrTransport, msg.Subject)
	}
	if sc, ok := a.security.Context(); ok && sc.IsExpired(a.now()) {
		return fmt.Errorf("%w: token expired at %s", ErrCredentialsExpired, sc.ExpiresAt.Format(time.RFC3339))
	}
	if !strings.HasPrefix(msg.Reply, transport.InboxPrefix) {
		if err := a.checkAccess(msg.Reply, auth.OperationPublish); err != nil {
			return err
		}
	}
	if err := a.transport.Publish(ctx, msg.Reply, env); err != nil {
		return fmt.Errorf("replying to %s: %w", msg.Subject, err)
	}
	a.metrics.RecordPublished()
	return nil
}
