// Package mission runs multi-step missions on top of an ACP agent.
//
// A leader creates a mission, adds the members to its coordination group and
// announces it with a "mission.create" proposal. Workers wait for that
// announcement and join; the leader calls AwaitMembers to re-announce until
// every member has sent "mission.join". Every participant then runs the same loop:
//
//	res, err := c.RunStep(ctx, work, timeout)
//
// RunStep does the local work, completes the step and waits on the barrier.
// A forced step returns its StepResult together with the *agent.StepTimeoutError,
// so the caller can decide to carry on or abort. Outcomes are written to the
// step ledger when a store is configured.
package mission
