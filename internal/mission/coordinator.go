// ABOUTME: Mission coordinator driving create/join, step execution and completion over an Agent.
// ABOUTME: Validates mission access through the namespace enforcer and records the step ledger.

package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/acp-hive/internal/agent"
	"github.com/2389/acp-hive/internal/auth"
	"github.com/2389/acp-hive/internal/protocol"
	"github.com/2389/acp-hive/internal/store"
	"github.com/2389/acp-hive/internal/transport"
)

// Proposal and status actions used by missions.
const (
	ActionCreate = "mission.create"
	ActionJoin   = "mission.join"
	ActionFinish = "mission.finish"
	ActionAbort  = "mission.abort"
	ActionFailed = "step.failed"
)

var (
	// ErrNoMission indicates RunStep or Finish before Create or Join.
	ErrNoMission = errors.New("no active mission")
	// ErrMissionActive indicates Create or Join while a mission is running.
	ErrMissionActive = errors.New("mission already active")
)

// Announcement is the payload of a mission.create proposal.
type Announcement struct {
	MissionID   string   `json:"mission_id"`
	Namespace   string   `json:"namespace"`
	Leader      string   `json:"leader"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members"`
}

// Plan describes a mission to create. An empty ID is replaced by a UUID.
type Plan struct {
	ID          string
	Description string
	Members     []string // other agents; the leader is always included
}

// StepResult summarizes one finished step.
type StepResult struct {
	Step     uint64
	Outcome  store.StepOutcome
	Pending  []string
	Duration time.Duration
}

// WorkFunc performs the local share of a step.
type WorkFunc func(ctx context.Context, step uint64) error

// Coordinator runs one mission at a time for an agent.
type Coordinator struct {
	agent  *agent.Agent
	store  store.MissionStore // nil disables persistence
	logger *slog.Logger
	now    func() time.Time

	joinSignal chan struct{}

	mu      sync.Mutex
	mission *store.Mission
	joined  map[string]struct{} // members that sent mission.join, leader only
}

// NewCoordinator creates a coordinator for a. s may be nil.
func NewCoordinator(a *agent.Agent, s store.MissionStore, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		agent:  a,
		store:  s,
		logger: logger.With("component", "mission", "agent_id", a.ID()),
		now:    time.Now,

		joinSignal: make(chan struct{}, 1),
	}
}

// Mission returns a copy of the active mission, or nil.
func (c *Coordinator) Mission() *store.Mission {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mission == nil {
		return nil
	}
	m := *c.mission
	m.Members = slices.Clone(c.mission.Members)
	return &m
}

// Create starts a mission led by this agent and announces it.
func (c *Coordinator) Create(ctx context.Context, plan Plan) (*store.Mission, error) {
	id := plan.ID
	if id == "" {
		id = uuid.New().String()
	}
	if err := c.enforcer().ValidateMissionAccess(id, c.agent.Namespace()); err != nil {
		return nil, err
	}

	members := c.withSelf(plan.Members)
	ann := Announcement{
		MissionID:   id,
		Namespace:   c.agent.Namespace(),
		Leader:      c.agent.ID(),
		Description: plan.Description,
		Members:     members,
	}
	m, err := c.begin(ctx, ann)
	if err != nil {
		return nil, err
	}
	c.trackJoins(id)

	if err := c.agent.SendPropose(ctx, ActionCreate, ann); err != nil {
		return nil, fmt.Errorf("announcing mission: %w", err)
	}
	c.logger.Info("mission created", "mission_id", id, "members", members)
	return m, nil
}

// Announce repeats the mission.create proposal for workers that started
// listening late. Only the leader may announce.
func (c *Coordinator) Announce(ctx context.Context) error {
	m := c.Mission()
	if m == nil || m.Status != store.MissionActive {
		return ErrNoMission
	}
	if m.Leader != c.agent.ID() {
		return fmt.Errorf("%w: only leader %s announces mission %s", auth.ErrAccessDenied, m.Leader, m.ID)
	}
	return c.agent.SendPropose(ctx, ActionCreate, Announcement{
		MissionID:   m.ID,
		Namespace:   m.Namespace,
		Leader:      m.Leader,
		Description: m.Description,
		Members:     m.Members,
	})
}

// AwaitAnnouncement waits for a mission.create proposal from another agent.
// The agent must be started. A timeout of zero uses the agent default.
func (c *Coordinator) AwaitAnnouncement(ctx context.Context, timeout time.Duration) (*Announcement, error) {
	if !c.agent.IsRunning() {
		return nil, agent.ErrNotStarted
	}
	if timeout <= 0 {
		timeout = c.agent.Timeout()
	}

	found := make(chan *Announcement, 1)
	c.agent.OnMessage(protocol.MessageTypePropose, agent.HandlerFunc(func(ctx context.Context, msg *transport.Message) error {
		var p struct {
			Action string       `json:"action"`
			Data   Announcement `json:"data"`
		}
		if err := msg.Envelope.DecodePayload(&p); err != nil {
			return fmt.Errorf("decoding proposal: %w", err)
		}
		if p.Action != ActionCreate || p.Data.Leader == c.agent.ID() {
			return nil
		}
		namespace := c.agent.Namespace()
		if sc := auth.FromContext(ctx); sc != nil {
			namespace = sc.Namespace
		}
		if p.Data.Namespace != namespace {
			c.logger.Warn("ignoring announcement from another namespace",
				"mission_id", p.Data.MissionID, "namespace", p.Data.Namespace)
			return nil
		}
		ann := p.Data
		select {
		case found <- &ann:
		default:
		}
		return nil
	}))
	defer c.agent.OnMessage(protocol.MessageTypePropose, nil)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ann := <-found:
		return ann, nil
	case <-timer.C:
		return nil, fmt.Errorf("waiting for mission announcement: %w", transport.ErrReceiveTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AwaitMembers re-announces the mission every interval until every member
// has joined or timeout passes. It returns the members that never joined.
// Only the leader may call it, and the agent must be started.
func (c *Coordinator) AwaitMembers(ctx context.Context, timeout, interval time.Duration) ([]string, error) {
	m := c.Mission()
	if m == nil || m.Status != store.MissionActive {
		return nil, ErrNoMission
	}
	if m.Leader != c.agent.ID() {
		return nil, fmt.Errorf("%w: only leader %s waits for members", auth.ErrAccessDenied, m.Leader)
	}
	if !c.agent.IsRunning() {
		return nil, agent.ErrNotStarted
	}
	if timeout <= 0 {
		timeout = c.agent.Timeout()
	}
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		missing := c.missingMembers(m.Members)
		if len(missing) == 0 {
			return nil, nil
		}
		select {
		case <-c.joinSignal:
		case <-ticker.C:
			if err := c.Announce(ctx); err != nil {
				return nil, err
			}
		case <-deadline.C:
			return missing, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// trackJoins records mission.join statuses for missionID. The coordinator
// owns the STATUS handler while it leads a mission.
func (c *Coordinator) trackJoins(missionID string) {
	c.mu.Lock()
	c.joined = make(map[string]struct{})
	c.mu.Unlock()

	c.agent.OnMessage(protocol.MessageTypeStatus, agent.HandlerFunc(func(ctx context.Context, msg *transport.Message) error {
		var p struct {
			Description string            `json:"description"`
			Data        map[string]string `json:"data"`
		}
		if err := msg.Envelope.DecodePayload(&p); err != nil {
			return nil
		}
		if p.Description != ActionJoin || p.Data["mission_id"] != missionID {
			return nil
		}

		c.mu.Lock()
		c.joined[msg.Envelope.AgentID] = struct{}{}
		c.mu.Unlock()
		c.logger.Info("member joined mission", "mission_id", missionID, "member", msg.Envelope.AgentID)

		select {
		case c.joinSignal <- struct{}{}:
		default:
		}
		return nil
	}))
}

func (c *Coordinator) missingMembers(members []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var missing []string
	for _, member := range members {
		if member == c.agent.ID() {
			continue
		}
		if _, ok := c.joined[member]; !ok {
			missing = append(missing, member)
		}
	}
	slices.Sort(missing)
	return missing
}

// Join takes part in an announced mission.
func (c *Coordinator) Join(ctx context.Context, ann *Announcement) (*store.Mission, error) {
	if err := c.enforcer().ValidateMissionAccess(ann.MissionID, ann.Namespace); err != nil {
		return nil, err
	}
	if !slices.Contains(ann.Members, c.agent.ID()) {
		return nil, fmt.Errorf("%w: %s is not a member of mission %s", auth.ErrAccessDenied, c.agent.ID(), ann.MissionID)
	}

	m, err := c.begin(ctx, *ann)
	if err != nil {
		return nil, err
	}

	if err := c.agent.SendStatus(ctx, ActionJoin, map[string]string{"mission_id": ann.MissionID}); err != nil {
		return nil, fmt.Errorf("announcing join: %w", err)
	}
	c.logger.Info("mission joined", "mission_id", ann.MissionID, "leader", ann.Leader)
	return m, nil
}

// RunStep performs work for the current step, completes it and waits for the
// group. A forced step yields both the result and an *agent.StepTimeoutError.
func (c *Coordinator) RunStep(ctx context.Context, work WorkFunc, timeout time.Duration) (*StepResult, error) {
	m := c.Mission()
	if m == nil || m.Status != store.MissionActive {
		return nil, ErrNoMission
	}

	step := c.agent.CurrentStep()
	start := c.now()

	if work != nil {
		if err := work(ctx, step); err != nil {
			if sendErr := c.agent.SendStatus(ctx, ActionFailed, map[string]any{
				"mission_id": m.ID,
				"step":       step,
				"error":      err.Error(),
			}); sendErr != nil {
				c.logger.Warn("failed to report step failure", "error", sendErr)
			}
			return nil, fmt.Errorf("step %d work: %w", step, err)
		}
	}

	if _, err := c.agent.CompleteStep(ctx); err != nil {
		return nil, fmt.Errorf("completing step %d: %w", step, err)
	}

	waitErr := c.agent.WaitForStepComplete(ctx, step, timeout)
	result := &StepResult{Step: step, Outcome: store.StepAdvanced}

	var timeoutErr *agent.StepTimeoutError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &timeoutErr):
		result.Outcome = store.StepForced
		result.Pending = timeoutErr.Pending
	default:
		return nil, waitErr
	}
	result.Duration = c.now().Sub(start)

	if err := c.record(ctx, m.ID, result); err != nil {
		return result, err
	}

	c.logger.Info("step finished",
		"mission_id", m.ID,
		"step", step,
		"outcome", result.Outcome,
		"pending", result.Pending,
		"duration", result.Duration,
	)
	return result, waitErr
}

// Finish marks the mission completed and tells the group.
func (c *Coordinator) Finish(ctx context.Context) error {
	return c.end(ctx, store.MissionCompleted, ActionFinish, "")
}

// Abort marks the mission aborted with reason and tells the group.
func (c *Coordinator) Abort(ctx context.Context, reason string) error {
	return c.end(ctx, store.MissionAborted, ActionAbort, reason)
}

func (c *Coordinator) begin(ctx context.Context, ann Announcement) (*store.Mission, error) {
	c.mu.Lock()
	if c.mission != nil && c.mission.Status == store.MissionActive {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrMissionActive, c.mission.ID)
	}
	c.mu.Unlock()

	for _, member := range ann.Members {
		if c.agent.IsMember(member) {
			continue
		}
		if err := c.agent.AddAgent(member); err != nil {
			return nil, fmt.Errorf("adding member %s: %w", member, err)
		}
	}

	now := c.now().UTC()
	m := &store.Mission{
		ID:          ann.MissionID,
		Namespace:   ann.Namespace,
		Leader:      ann.Leader,
		Description: ann.Description,
		Members:     slices.Clone(ann.Members),
		Status:      store.MissionActive,
		CurrentStep: c.agent.CurrentStep(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if c.store != nil {
		err := c.store.CreateMission(ctx, m)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrDuplicateMission):
			// leader and workers may share one ledger
			if err := c.store.UpdateMission(ctx, m); err != nil {
				return nil, fmt.Errorf("updating mission: %w", err)
			}
		default:
			return nil, fmt.Errorf("saving mission: %w", err)
		}
	}

	c.mu.Lock()
	c.mission = m
	c.mu.Unlock()

	out := *m
	out.Members = slices.Clone(m.Members)
	return &out, nil
}

func (c *Coordinator) record(ctx context.Context, missionID string, res *StepResult) error {
	c.mu.Lock()
	c.mission.CurrentStep = c.agent.CurrentStep()
	c.mission.UpdatedAt = c.now().UTC()
	m := *c.mission
	m.Members = slices.Clone(c.mission.Members)
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.SaveStepEvent(ctx, &store.StepEvent{
		MissionID: missionID,
		Step:      res.Step,
		AgentID:   c.agent.ID(),
		Outcome:   res.Outcome,
		Pending:   res.Pending,
		Duration:  res.Duration,
		CreatedAt: c.now().UTC(),
	}); err != nil {
		return fmt.Errorf("saving step event: %w", err)
	}
	if err := c.store.UpdateMission(ctx, &m); err != nil {
		return fmt.Errorf("updating mission: %w", err)
	}
	return nil
}

func (c *Coordinator) end(ctx context.Context, status store.MissionStatus, action, reason string) error {
	c.mu.Lock()
	if c.mission == nil || c.mission.Status != store.MissionActive {
		c.mu.Unlock()
		return ErrNoMission
	}
	c.mission.Status = status
	c.mission.UpdatedAt = c.now().UTC()
	m := *c.mission
	m.Members = slices.Clone(c.mission.Members)
	c.mu.Unlock()

	if m.Leader == c.agent.ID() {
		c.agent.OnMessage(protocol.MessageTypeStatus, nil)
	}

	if c.store != nil {
		if err := c.store.UpdateMission(ctx, &m); err != nil {
			return fmt.Errorf("updating mission: %w", err)
		}
	}

	payload := map[string]any{"mission_id": m.ID, "step": m.CurrentStep}
	if reason != "" {
		payload["reason"] = reason
	}
	if err := c.agent.SendStatus(ctx, action, payload); err != nil {
		return fmt.Errorf("announcing %s: %w", action, err)
	}

	c.logger.Info("mission ended", "mission_id", m.ID, "status", status, "reason", reason)
	return nil
}

// enforcer returns the agent's enforcer. In development mode mission ids and
// namespaces are still checked against the configured namespace.
func (c *Coordinator) enforcer() *auth.NamespaceEnforcer {
	if e := c.agent.Enforcer(); e != nil {
		return e
	}
	return auth.NewNamespaceEnforcer(&auth.SecurityContext{Namespace: c.agent.Namespace()})
}

func (c *Coordinator) withSelf(members []string) []string {
	out := []string{c.agent.ID()}
	for _, m := range members {
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}
