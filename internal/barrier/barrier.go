// ABOUTME: Step barrier state machine tracking known agents and per-step completions
// ABOUTME: Advances when all known agents complete, with a forced escape hatch for liveness

package barrier

import (
	"errors"
	"sort"
	"sync"
)

// ErrAgentAlreadyExists indicates the agent is already part of the group.
var ErrAgentAlreadyExists = errors.New("agent already exists")

// ErrAgentNotFound indicates the agent is not part of the group.
var ErrAgentNotFound = errors.New("agent not found")

// FirstStep is the step a new barrier starts on.
const FirstStep uint64 = 1

type agentSet map[string]struct{}

// Barrier is a mutex-guarded step barrier. The zero value is not usable; use New.
type Barrier struct {
	mu          sync.Mutex
	known       agentSet
	currentStep uint64
	completion  map[uint64]agentSet
}

// New creates a barrier on FirstStep with no known agents.
func New() *Barrier {
	return &Barrier{
		known:       make(agentSet),
		currentStep: FirstStep,
		completion:  make(map[uint64]agentSet),
	}
}

// AddAgent adds id to the known agents.
// Returns ErrAgentAlreadyExists if it is already known.
func (b *Barrier) AddAgent(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.known[id]; ok {
		return ErrAgentAlreadyExists
	}
	b.known[id] = struct{}{}
	return nil
}

// RemoveAgent removes id from the known agents.
// Returns ErrAgentNotFound if it is not known. Recorded completions are kept.
func (b *Barrier) RemoveAgent(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.known[id]; !ok {
		return ErrAgentNotFound
	}
	delete(b.known, id)
	return nil
}

// HasAgent reports whether id is a known agent.
func (b *Barrier) HasAgent(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.known[id]
	return ok
}

// RecordStepCompletion marks agentID as done with step. Recording the same
// pair twice has no further effect. Completions for steps that are not yet
// current are buffered. Returns false if the step has already been passed.
func (b *Barrier) RecordStepCompletion(step uint64, agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.completion[step]
	if !ok {
		set = make(agentSet)
		b.completion[step] = set
	}
	set[agentID] = struct{}{}
	return step >= b.currentStep
}

// TryAdvanceStep moves to the next step iff every known agent completed the
// current step and at least one agent is known. State is unchanged otherwise.
func (b *Barrier) TryAdvanceStep() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isCompleteLocked(b.currentStep) {
		return false
	}
	b.currentStep++
	return true
}

// ForceAdvanceStep moves to the next step regardless of completion state and
// returns the agents that had not reported for the step being left.
func (b *Barrier) ForceAdvanceStep() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := b.pendingLocked(b.currentStep)
	b.currentStep++
	return pending
}

// ForceAdvanceFrom forces past step only while step is still the current
// step, checking and advancing under one lock. It returns the agents that had
// not completed step and whether the barrier moved. A step that was already
// passed, or that is not yet current, is left alone.
func (b *Barrier) ForceAdvanceFrom(step uint64) (pending []string, forced bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending = b.pendingLocked(step)
	if b.currentStep != step {
		return pending, false
	}
	b.currentStep++
	return pending, true
}

// IsStepComplete reports whether every known agent completed step.
// It is false while no agents are known.
func (b *Barrier) IsStepComplete(step uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.isCompleteLocked(step)
}

// PendingAgents returns the known agents that have not completed step, sorted.
func (b *Barrier) PendingAgents(step uint64) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.pendingLocked(step)
}

// CompletedAgents returns the agents recorded as done with step, sorted.
func (b *Barrier) CompletedAgents(step uint64) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return sortedKeys(b.completion[step])
}

// CurrentStep returns the step the barrier is waiting on.
func (b *Barrier) CurrentStep() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.currentStep
}

// KnownAgents returns the known agents, sorted.
func (b *Barrier) KnownAgents() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return sortedKeys(b.known)
}

// Prune drops completion sets for steps below keepFrom. Sets at or above the
// current step are never dropped.
func (b *Barrier) Prune(keepFrom uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if keepFrom > b.currentStep {
		keepFrom = b.currentStep
	}
	removed := 0
	for step := range b.completion {
		if step < keepFrom {
			delete(b.completion, step)
			removed++
		}
	}
	return removed
}

// Snapshot is a point-in-time copy of the barrier state.
type Snapshot struct {
	CurrentStep uint64
	Known       []string
	Completed   []string
	Pending     []string
}

// Snapshot returns a consistent copy of the state for the current step.
func (b *Barrier) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		CurrentStep: b.currentStep,
		Known:       sortedKeys(b.known),
		Completed:   sortedKeys(b.completion[b.currentStep]),
		Pending:     b.pendingLocked(b.currentStep),
	}
}

func (b *Barrier) isCompleteLocked(step uint64) bool {
	if len(b.known) == 0 {
		return false
	}
	done := b.completion[step]
	for id := range b.known {
		if _, ok := done[id]; !ok {
			return false
		}
	}
	return true
}

func (b *Barrier) pendingLocked(step uint64) []string {
	done := b.completion[step]
	pending := make([]string, 0, len(b.known))
	for id := range b.known {
		if _, ok := done[id]; !ok {
			pending = append(pending, id)
		}
	}
	sort.Strings(pending)
	return pending
}

func sortedKeys(s agentSet) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
