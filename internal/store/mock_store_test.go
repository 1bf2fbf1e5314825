// ABOUTME: Shared MissionStore contract run against MockStore and SQLiteStore
// ABOUTME: Ensures the in-memory implementation behaves like the SQLite one

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMission(id, namespace string) *Mission {
	now := time.Now().UTC().Truncate(time.Second)
	return &Mission{
		ID:          id,
		Namespace:   namespace,
		Leader:      "agent-a",
		Description: "ship the release",
		Members:     []string{"agent-a", "agent-b"},
		Status:      MissionActive,
		CurrentStep: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMockStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) MissionStore {
		return NewMockStore()
	})
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	m := testMission("mission-1", "account.alice.builder")
	require.NoError(t, store.CreateMission(ctx, m))
	m.Members[0] = "mutated"

	got, err := store.GetMission(ctx, "mission-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-a", got.Members[0])

	got.Members[1] = "mutated"
	again, err := store.GetMission(ctx, "mission-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-b", again.Members[1])
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) MissionStore) {
	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		m := testMission("mission-1", "account.alice.builder")
		require.NoError(t, store.CreateMission(ctx, m))

		got, err := store.GetMission(ctx, "mission-1")
		require.NoError(t, err)
		assert.Equal(t, m.ID, got.ID)
		assert.Equal(t, m.Namespace, got.Namespace)
		assert.Equal(t, m.Leader, got.Leader)
		assert.Equal(t, m.Description, got.Description)
		assert.Equal(t, m.Members, got.Members)
		assert.Equal(t, MissionActive, got.Status)
		assert.Equal(t, uint64(1), got.CurrentStep)
		assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("duplicate", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.CreateMission(ctx, testMission("mission-1", "account.alice.builder")))
		err := store.CreateMission(ctx, testMission("mission-1", "account.alice.builder"))
		assert.ErrorIs(t, err, ErrDuplicateMission)
	})

	t.Run("get missing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetMission(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		m := testMission("mission-1", "account.alice.builder")
		require.NoError(t, store.CreateMission(ctx, m))

		m.Status = MissionCompleted
		m.CurrentStep = 4
		m.Members = append(m.Members, "agent-c")
		m.UpdatedAt = m.UpdatedAt.Add(time.Minute)
		require.NoError(t, store.UpdateMission(ctx, m))

		got, err := store.GetMission(ctx, "mission-1")
		require.NoError(t, err)
		assert.Equal(t, MissionCompleted, got.Status)
		assert.Equal(t, uint64(4), got.CurrentStep)
		assert.Equal(t, []string{"agent-a", "agent-b", "agent-c"}, got.Members)
		assert.True(t, m.UpdatedAt.Equal(got.UpdatedAt))

		assert.ErrorIs(t, store.UpdateMission(ctx, testMission("nope", "x")), ErrNotFound)
	})

	t.Run("list by namespace newest first", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		base := time.Now().UTC().Truncate(time.Second)
		for i, id := range []string{"m-old", "m-mid", "m-new"} {
			m := testMission(id, "account.alice.builder")
			m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, store.CreateMission(ctx, m))
		}
		require.NoError(t, store.CreateMission(ctx, testMission("m-bob", "account.bob.builder")))

		got, err := store.ListMissions(ctx, "account.alice.builder", 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "m-new", got[0].ID)
		assert.Equal(t, "m-old", got[2].ID)

		limited, err := store.ListMissions(ctx, "account.alice.builder", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		all, err := store.ListMissions(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("step ledger", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.CreateMission(ctx, testMission("mission-1", "account.alice.builder")))

		now := time.Now().UTC().Truncate(time.Second)
		events := []*StepEvent{
			{MissionID: "mission-1", Step: 2, AgentID: "agent-a", Outcome: StepForced, Pending: []string{"agent-c"}, Duration: 5 * time.Second, CreatedAt: now},
			{MissionID: "mission-1", Step: 1, AgentID: "agent-a", Outcome: StepAdvanced, Duration: 1200 * time.Millisecond, CreatedAt: now},
		}
		for _, e := range events {
			require.NoError(t, store.SaveStepEvent(ctx, e))
			assert.NotEmpty(t, e.ID, "SaveStepEvent should assign an id")
		}

		got, err := store.ListStepEvents(ctx, "mission-1")
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, uint64(1), got[0].Step)
		assert.Equal(t, StepAdvanced, got[0].Outcome)
		assert.Empty(t, got[0].Pending)
		assert.Equal(t, 1200*time.Millisecond, got[0].Duration)

		assert.Equal(t, uint64(2), got[1].Step)
		assert.Equal(t, StepForced, got[1].Outcome)
		assert.Equal(t, []string{"agent-c"}, got[1].Pending)

		none, err := store.ListStepEvents(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("step event for unknown mission", func(t *testing.T) {
		store := newStore(t)
		err := store.SaveStepEvent(context.Background(), &StepEvent{
			MissionID: "missing",
			Step:      1,
			AgentID:   "agent-a",
			Outcome:   StepAdvanced,
			CreatedAt: time.Now().UTC(),
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
