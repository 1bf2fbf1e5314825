// Package agent implements one participant in an ACP coordination group.
//
// # Overview
//
// An Agent combines a step barrier, a security mode, a pub/sub transport and
// a table of message handlers. Agents announce progress with STATUS and
// PROPOSE messages, and finish a step with a STEP message. Every agent feeds
// the STEP messages it observes into its own barrier, so all members of a
// group converge on the same current step without a coordinator.
//
// # Lifecycle
//
//	a, err := agent.New(ctx, settings, agent.WithLogger(logger))
//	a.OnMessage(protocol.MessageTypeStatus, handler)
//	a.Start(ctx)
//	defer a.Close()
//
// New validates settings and the JWT, if any. The token's namespace must
// equal settings.Namespace. Without a token the agent runs in development
// mode and logs a warning; set require_auth to forbid that.
//
// Start subscribes to two subjects:
//
//	{namespace}.agents.{role}.{agent_id}.>   direct inbox
//	{namespace}.acp.>                        all coordination traffic
//
// Stop is cooperative. The dispatch loop polls each subscription for at most
// the poll interval, so Stop returns within one interval per subscription.
//
// # Steps
//
//	a.AddAgent("agent-b")
//	a.AddAgent("agent-c")
//	step, _ := a.CompleteStep(ctx)
//	err := a.WaitForStepComplete(ctx, step, 5*time.Second)
//
// The agent is always a member of its own group. CompleteStep records the
// local completion directly. WaitForStepComplete returns a *StepTimeoutError
// on expiry after forcing the barrier forward; the error lists the agents
// that never reported.
//
// # Handlers
//
// Handlers run inline in the dispatch loop and must not block. A handler
// receives the transport.Message so it can Reply when a reply subject is set.
// Duplicate deliveries are dropped before handlers see them.
//
// # Security
//
// In enforced mode every publish and subscribe is checked against the token's
// permission patterns and expiry. Expired credentials yield
// ErrCredentialsExpired; a new Agent must be built with a fresh token.
package agent
