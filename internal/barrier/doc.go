// Package barrier implements the step barrier used to synchronize agents in
// rounds.
//
// # Model
//
// A Barrier tracks a set of known agents, a current step (starting at 1) and,
// per step, the set of agents that reported completion. It is a best-effort
// bulk-synchronous barrier: the step advances when every known agent has
// reported, and ForceAdvanceStep exists so a caller can keep a mission live
// after a timeout when some agents never report.
//
// Completions for future steps are accepted and buffered, so a fast agent that
// announces step N+1 while others are still on step N is counted once the
// barrier reaches N+1.
//
// # Thread Safety
//
// All methods are safe for concurrent use. A single mutex guards the state and
// no method calls out while holding it.
package barrier
