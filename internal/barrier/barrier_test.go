// ABOUTME: Tests for the step barrier state machine
// ABOUTME: Covers membership, idempotent completion, advancement, forcing, pruning and concurrency

package barrier

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGroup(t *testing.T, ids ...string) *Barrier {
	t.Helper()
	b := New()
	for _, id := range ids {
		require.NoError(t, b.AddAgent(id))
	}
	return b
}

func TestBarrier_StartsAtFirstStep(t *testing.T) {
	b := New()
	assert.Equal(t, FirstStep, b.CurrentStep())
	assert.Empty(t, b.KnownAgents())
}

func TestBarrier_AddRemove(t *testing.T) {
	b := New()

	require.NoError(t, b.AddAgent("a"))
	assert.ErrorIs(t, b.AddAgent("a"), ErrAgentAlreadyExists)

	assert.ErrorIs(t, b.RemoveAgent("missing"), ErrAgentNotFound)
	require.NoError(t, b.RemoveAgent("a"))
	assert.False(t, b.HasAgent("a"))
}

func TestBarrier_KnownAgentsIsNetSet(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		b := New()
		want := map[string]bool{}

		for op := 0; op < 40; op++ {
			id := fmt.Sprintf("agent-%d", rng.Intn(8))
			if rng.Intn(2) == 0 {
				err := b.AddAgent(id)
				if want[id] {
					assert.ErrorIs(t, err, ErrAgentAlreadyExists)
				} else {
					assert.NoError(t, err)
				}
				want[id] = true
			} else {
				err := b.RemoveAgent(id)
				if want[id] {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, ErrAgentNotFound)
				}
				delete(want, id)
			}
		}

		expected := make([]string, 0, len(want))
		for id := range want {
			expected = append(expected, id)
		}
		sort.Strings(expected)
		assert.Equal(t, expected, b.KnownAgents(), "round %d", round)
	}
}

func TestBarrier_TryAdvanceStep(t *testing.T) {
	t.Run("empty group never advances", func(t *testing.T) {
		b := New()
		b.RecordStepCompletion(1, "a")
		assert.False(t, b.TryAdvanceStep())
		assert.Equal(t, uint64(1), b.CurrentStep())
	})

	t.Run("partial completion leaves state unchanged", func(t *testing.T) {
		b := newGroup(t, "a", "b", "c")
		b.RecordStepCompletion(1, "a")
		b.RecordStepCompletion(1, "b")

		before := b.Snapshot()
		assert.False(t, b.TryAdvanceStep())
		assert.Equal(t, before, b.Snapshot())
	})

	t.Run("full completion advances by exactly one", func(t *testing.T) {
		b := newGroup(t, "a", "b", "c")
		for _, id := range []string{"a", "b", "c"} {
			b.RecordStepCompletion(1, id)
		}
		assert.True(t, b.TryAdvanceStep())
		assert.Equal(t, uint64(2), b.CurrentStep())

		// step 2 has no completions yet
		assert.False(t, b.TryAdvanceStep())
		assert.Equal(t, uint64(2), b.CurrentStep())
	})

	t.Run("completions from unknown agents do not block", func(t *testing.T) {
		b := newGroup(t, "a")
		b.RecordStepCompletion(1, "stranger")
		b.RecordStepCompletion(1, "a")
		assert.True(t, b.TryAdvanceStep())
	})

	t.Run("removing a laggard unblocks", func(t *testing.T) {
		b := newGroup(t, "a", "b")
		b.RecordStepCompletion(1, "a")
		assert.False(t, b.TryAdvanceStep())
		require.NoError(t, b.RemoveAgent("b"))
		assert.True(t, b.TryAdvanceStep())
	})
}

func TestBarrier_RecordIsIdempotent(t *testing.T) {
	b := newGroup(t, "a", "b")

	assert.True(t, b.RecordStepCompletion(1, "a"))
	first := b.PendingAgents(1)
	b.RecordStepCompletion(1, "a")

	assert.Equal(t, first, b.PendingAgents(1))
	assert.Equal(t, []string{"b"}, first)
	assert.Equal(t, []string{"a"}, b.CompletedAgents(1))
}

func TestBarrier_BuffersFutureSteps(t *testing.T) {
	b := newGroup(t, "a", "b")

	// a races ahead to step 2 before b finishes step 1
	b.RecordStepCompletion(1, "a")
	b.RecordStepCompletion(2, "a")
	assert.False(t, b.IsStepComplete(1))

	b.RecordStepCompletion(1, "b")
	assert.True(t, b.TryAdvanceStep())
	assert.Equal(t, []string{"b"}, b.PendingAgents(2))

	b.RecordStepCompletion(2, "b")
	assert.True(t, b.TryAdvanceStep())
	assert.Equal(t, uint64(3), b.CurrentStep())
}

func TestBarrier_RecordPastStep(t *testing.T) {
	b := newGroup(t, "a")
	b.RecordStepCompletion(1, "a")
	require.True(t, b.TryAdvanceStep())

	assert.False(t, b.RecordStepCompletion(1, "late"))
	assert.Equal(t, uint64(2), b.CurrentStep())
}

func TestBarrier_ForceAdvanceStep(t *testing.T) {
	tests := []struct {
		name      string
		agents    []string
		completed []string
		pending   []string
	}{
		{"no agents", nil, nil, []string{}},
		{"none reported", []string{"a", "b"}, nil, []string{"a", "b"}},
		{"some reported", []string{"a", "b", "c"}, []string{"a", "c"}, []string{"b"}},
		{"all reported", []string{"a"}, []string{"a"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newGroup(t, tt.agents...)
			for _, id := range tt.completed {
				b.RecordStepCompletion(1, id)
			}

			pending := b.ForceAdvanceStep()
			assert.Equal(t, tt.pending, pending)
			assert.Equal(t, uint64(2), b.CurrentStep())
			assert.Equal(t, tt.pending, b.PendingAgents(1))
		})
	}
}

func TestBarrier_ForceAdvanceFrom(t *testing.T) {
	b := newGroup(t, "a", "b")
	b.RecordStepCompletion(1, "a")

	pending, forced := b.ForceAdvanceFrom(1)
	assert.True(t, forced)
	assert.Equal(t, []string{"b"}, pending)
	assert.Equal(t, uint64(2), b.CurrentStep())

	// step 1 is already passed, a second force must not skip step 2
	pending, forced = b.ForceAdvanceFrom(1)
	assert.False(t, forced)
	assert.Equal(t, []string{"b"}, pending)
	assert.Equal(t, uint64(2), b.CurrentStep())

	// a future step is never forced
	pending, forced = b.ForceAdvanceFrom(3)
	assert.False(t, forced)
	assert.Equal(t, []string{"a", "b"}, pending)
	assert.Equal(t, uint64(2), b.CurrentStep())
}

func TestBarrier_ForceAdvanceFromRacesTryAdvance(t *testing.T) {
	for i := 0; i < 200; i++ {
		b := newGroup(t, "a", "b")
		b.RecordStepCompletion(1, "a")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.RecordStepCompletion(1, "b")
			b.TryAdvanceStep()
		}()
		go func() {
			defer wg.Done()
			b.ForceAdvanceFrom(1)
		}()
		wg.Wait()

		require.Equal(t, uint64(2), b.CurrentStep(), "iteration %d skipped a step", i)
	}
}

func TestBarrier_Prune(t *testing.T) {
	b := newGroup(t, "a")
	for step := uint64(1); step <= 5; step++ {
		b.RecordStepCompletion(step, "a")
		require.True(t, b.TryAdvanceStep())
	}
	b.RecordStepCompletion(7, "a")
	require.Equal(t, uint64(6), b.CurrentStep())

	removed := b.Prune(4)
	assert.Equal(t, 3, removed)
	assert.Empty(t, b.CompletedAgents(1))
	assert.Equal(t, []string{"a"}, b.CompletedAgents(4))

	// never prunes the current step or buffered future steps
	b.Prune(100)
	assert.Equal(t, []string{"a"}, b.CompletedAgents(7))
	assert.Equal(t, []string{"a"}, b.PendingAgents(6))
}

func TestBarrier_Concurrent(t *testing.T) {
	const agents = 32
	b := New()
	for i := 0; i < agents; i++ {
		require.NoError(t, b.AddAgent(fmt.Sprintf("agent-%d", i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			b.RecordStepCompletion(1, id)
			b.RecordStepCompletion(1, id)
			b.TryAdvanceStep()
			_ = b.PendingAgents(1)
		}(fmt.Sprintf("agent-%d", i))
	}
	wg.Wait()

	b.TryAdvanceStep()
	assert.Equal(t, uint64(2), b.CurrentStep())
	assert.Empty(t, b.PendingAgents(1))
}
