// ABOUTME: Tests for the mission coordinator over the in-memory broker.
// ABOUTME: Covers create/announce/join, multi-step runs, forced steps and access checks.

package mission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/acp-hive/internal/agent"
	"github.com/2389/acp-hive/internal/auth"
	"github.com/2389/acp-hive/internal/config"
	"github.com/2389/acp-hive/internal/protocol"
	"github.com/2389/acp-hive/internal/store"
	"github.com/2389/acp-hive/internal/transport"
)

const testNamespace = "account.alice.builder"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startAgent(t *testing.T, broker *transport.MemoryBroker, id string) *agent.Agent {
	t.Helper()
	a, err := agent.New(context.Background(), config.AgentSettings{
		AgentID:   id,
		Role:      "builder",
		Namespace: testNamespace,
		BrokerURL: "mem://mission-tests",
		Timeout:   2 * time.Second,
	},
		agent.WithTransport(broker.Connect(id)),
		agent.WithLogger(quietLogger()),
		agent.WithPollInterval(5*time.Millisecond),
		agent.WithWaitInterval(5*time.Millisecond),
	)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// announceUntilJoined re-announces until the worker has seen the mission.
func announceUntilJoined(t *testing.T, leader *Coordinator, found <-chan *Announcement) *Announcement {
	t.Helper()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(2 * time.Second)

	for {
		select {
		case ann := <-found:
			require.NotNil(t, ann)
			return ann
		case <-ticker.C:
			require.NoError(t, leader.Announce(context.Background()))
		case <-deadline:
			t.Fatal("worker never saw the mission announcement")
			return nil
		}
	}
}

func TestCreateJoinAndRunSteps(t *testing.T) {
	broker := transport.NewMemoryBroker(nil)
	ledger := store.NewMockStore()
	ctx := context.Background()

	leaderAgent := startAgent(t, broker, "agent-a")
	workerAgent := startAgent(t, broker, "agent-b")
	leader := NewCoordinator(leaderAgent, ledger, quietLogger())
	worker := NewCoordinator(workerAgent, ledger, quietLogger())

	found := make(chan *Announcement, 1)
	go func() {
		ann, err := worker.AwaitAnnouncement(ctx, 2*time.Second)
		if err != nil {
			found <- nil
			return
		}
		found <- ann
	}()

	m, err := leader.Create(ctx, Plan{ID: "mission-1", Description: "ship it", Members: []string{"agent-b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a", "agent-b"}, m.Members)
	assert.Equal(t, store.MissionActive, m.Status)

	ann := announceUntilJoined(t, leader, found)
	assert.Equal(t, "mission-1", ann.MissionID)
	assert.Equal(t, "agent-a", ann.Leader)
	assert.Equal(t, testNamespace, ann.Namespace)

	_, err = worker.Join(ctx, ann)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"agent-a", "agent-b"}, workerAgent.KnownAgents())

	missing, err := leader.AwaitMembers(ctx, 2*time.Second, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, missing)

	type outcome struct {
		results []*StepResult
		err     error
	}
	run := func(c *Coordinator, out chan<- outcome) {
		var o outcome
		for i := 0; i < 2; i++ {
			res, err := c.RunStep(ctx, func(ctx context.Context, step uint64) error { return nil }, 2*time.Second)
			if err != nil {
				o.err = err
				break
			}
			o.results = append(o.results, res)
		}
		out <- o
	}

	leaderOut := make(chan outcome, 1)
	workerOut := make(chan outcome, 1)
	go run(leader, leaderOut)
	go run(worker, workerOut)

	for _, ch := range []chan outcome{leaderOut, workerOut} {
		o := <-ch
		require.NoError(t, o.err)
		require.Len(t, o.results, 2)
		assert.Equal(t, uint64(1), o.results[0].Step)
		assert.Equal(t, uint64(2), o.results[1].Step)
		for _, r := range o.results {
			assert.Equal(t, store.StepAdvanced, r.Outcome)
			assert.Empty(t, r.Pending)
		}
	}

	assert.Equal(t, uint64(3), leaderAgent.CurrentStep())
	assert.Equal(t, uint64(3), workerAgent.CurrentStep())

	events, err := ledger.ListStepEvents(ctx, "mission-1")
	require.NoError(t, err)
	assert.Len(t, events, 4)

	require.NoError(t, leader.Finish(ctx))
	saved, err := ledger.GetMission(ctx, "mission-1")
	require.NoError(t, err)
	assert.Equal(t, store.MissionCompleted, saved.Status)
	assert.Equal(t, uint64(3), saved.CurrentStep)

	_, err = leader.RunStep(ctx, nil, time.Second)
	assert.ErrorIs(t, err, ErrNoMission)
	assert.ErrorIs(t, leader.Finish(ctx), ErrNoMission)
}

func TestRunStep_ForcedStepRecorded(t *testing.T) {
	broker := transport.NewMemoryBroker(nil)
	ctx := context.Background()

	ledger, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "missions.db"))
	require.NoError(t, err)
	defer ledger.Close()

	a := startAgent(t, broker, "agent-a")
	c := NewCoordinator(a, ledger, quietLogger())

	_, err = c.Create(ctx, Plan{ID: "mission-forced", Members: []string{"agent-ghost"}})
	require.NoError(t, err)

	res, err := c.RunStep(ctx, nil, 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrStepTimeout)
	require.NotNil(t, res)
	assert.Equal(t, store.StepForced, res.Outcome)
	assert.Equal(t, []string{"agent-ghost"}, res.Pending)
	assert.Equal(t, uint64(2), a.CurrentStep())

	events, err := ledger.ListStepEvents(ctx, "mission-forced")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, store.StepForced, events[0].Outcome)
	assert.Equal(t, []string{"agent-ghost"}, events[0].Pending)

	saved, err := ledger.GetMission(ctx, "mission-forced")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), saved.CurrentStep)
}

func TestRunStep_WorkError(t *testing.T) {
	broker := transport.NewMemoryBroker(nil)
	ctx := context.Background()
	a := startAgent(t, broker, "agent-a")
	c := NewCoordinator(a, nil, quietLogger())

	_, err := c.Create(ctx, Plan{ID: "mission-1"})
	require.NoError(t, err)

	boom := errors.New("build failed")
	_, err = c.RunStep(ctx, func(ctx context.Context, step uint64) error { return boom }, time.Second)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), a.CurrentStep())
	assert.Equal(t, store.MissionActive, c.Mission().Status)
}

func TestCreate_Validation(t *testing.T) {
	broker := transport.NewMemoryBroker(nil)
	ctx := context.Background()
	c := NewCoordinator(startAgent(t, broker, "agent-a"), nil, quietLogger())

	_, err := c.Create(ctx, Plan{ID: "../etc/passwd"})
	assert.ErrorIs(t, err, auth.ErrInvalidMissionID)

	m, err := c.Create(ctx, Plan{})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID, "empty plan id should be replaced")

	_, err = c.Create(ctx, Plan{ID: "second"})
	assert.ErrorIs(t, err, ErrMissionActive)

	require.NoError(t, c.Abort(ctx, "changed plans"))
	assert.Equal(t, store.MissionAborted, c.Mission().Status)

	_, err = c.Create(ctx, Plan{ID: "second"})
	assert.NoError(t, err)
}

func TestJoin_AccessChecks(t *testing.T) {
	broker := transport.NewMemoryBroker(nil)
	ctx := context.Background()
	c := NewCoordinator(startAgent(t, broker, "agent-b"), nil, quietLogger())

	_, err := c.Join(ctx, &Announcement{
		MissionID: "mission-1",
		Namespace: "account.bob.builder",
		Leader:    "agent-x",
		Members:   []string{"agent-x", "agent-b"},
	})
	assert.ErrorIs(t, err, auth.ErrAccessDenied)

	_, err = c.Join(ctx, &Announcement{
		MissionID: "mission-1",
		Namespace: testNamespace,
		Leader:    "agent-a",
		Members:   []string{"agent-a", "agent-c"},
	})
	assert.ErrorIs(t, err, auth.ErrAccessDenied)
	assert.Nil(t, c.Mission())
}

func TestAnnounce_OnlyLeader(t *testing.T) {
	broker := transport.NewMemoryBroker(nil)
	ctx := context.Background()
	c := NewCoordinator(startAgent(t, broker, "agent-b"), nil, quietLogger())

	assert.ErrorIs(t, c.Announce(ctx), ErrNoMission)

	_, err := c.Join(ctx, &Announcement{
		MissionID: "mission-1",
		Namespace: testNamespace,
		Leader:    "agent-a",
		Members:   []string{"agent-a", "agent-b"},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Announce(ctx), auth.ErrAccessDenied)
}

func TestAwaitAnnouncement(t *testing.T) {
	broker := transport.NewMemoryBroker(nil)

	t.Run("requires started agent", func(t *testing.T) {
		a, err := agent.New(context.Background(), config.AgentSettings{
			AgentID:   "agent-idle",
			Role:      "builder",
			Namespace: testNamespace,
			BrokerURL: "mem://mission-tests",
			Timeout:   time.Second,
		}, agent.WithTransport(broker.Connect("agent-idle")), agent.WithLogger(quietLogger()))
		require.NoError(t, err)
		defer a.Close()

		_, err = NewCoordinator(a, nil, quietLogger()).AwaitAnnouncement(context.Background(), 10*time.Millisecond)
		assert.ErrorIs(t, err, agent.ErrNotStarted)
	})

	t.Run("times out", func(t *testing.T) {
		c := NewCoordinator(startAgent(t, broker, "agent-waiting"), nil, quietLogger())
		_, err := c.AwaitAnnouncement(context.Background(), 30*time.Millisecond)
		assert.ErrorIs(t, err, transport.ErrReceiveTimeout)
	})

	t.Run("ignores other namespaces", func(t *testing.T) {
		c := NewCoordinator(startAgent(t, broker, "agent-listening"), nil, quietLogger())

		got := make(chan *Announcement, 1)
		go func() {
			ann, err := c.AwaitAnnouncement(context.Background(), 2*time.Second)
			assert.NoError(t, err)
			got <- ann
		}()
		time.Sleep(20 * time.Millisecond)

		raw := broker.Connect("raw")
		publish := func(from string, ann Announcement) {
			env, err := protocol.Propose(from, 1, agent.ProposalPayload{Action: ActionCreate, Data: ann})
			require.NoError(t, err)
			require.NoError(t, raw.Publish(context.Background(), env.Subject(testNamespace), env))
		}
		publish("agent-x", Announcement{MissionID: "m-foreign", Namespace: "account.bob.builder", Leader: "agent-x", Members: []string{"agent-listening"}})
		publish("agent-y", Announcement{MissionID: "m-local", Namespace: testNamespace, Leader: "agent-y", Members: []string{"agent-listening"}})

		select {
		case ann := <-got:
			require.NotNil(t, ann)
			assert.Equal(t, "m-local", ann.MissionID)
		case <-time.After(3 * time.Second):
			t.Fatal("no announcement accepted")
		}
	})
}

func TestAwaitMembers(t *testing.T) {
	broker := transport.NewMemoryBroker(nil)
	ctx := context.Background()

	leader := NewCoordinator(startAgent(t, broker, "agent-a"), nil, quietLogger())
	worker := NewCoordinator(startAgent(t, broker, "agent-b"), nil, quietLogger())

	_, err := leader.AwaitMembers(ctx, time.Second, 0)
	assert.ErrorIs(t, err, ErrNoMission)

	joined := make(chan error, 1)
	go func() {
		ann, err := worker.AwaitAnnouncement(ctx, 2*time.Second)
		if err != nil {
			joined <- err
			return
		}
		_, err = worker.Join(ctx, ann)
		joined <- err
	}()

	_, err = leader.Create(ctx, Plan{ID: "mission-1", Members: []string{"agent-b", "agent-c"}})
	require.NoError(t, err)

	missing, err := leader.AwaitMembers(ctx, 300*time.Millisecond, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-c"}, missing)
	require.NoError(t, <-joined)

	_, err = worker.AwaitMembers(ctx, time.Second, 0)
	assert.ErrorIs(t, err, auth.ErrAccessDenied)
}
