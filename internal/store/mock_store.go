// ABOUTME: Mock MissionStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MockStore is an in-memory MissionStore implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	missions map[string]*Mission     // keyed by mission ID
	events   map[string][]*StepEvent // keyed by mission ID
}

var _ MissionStore = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		missions: make(map[string]*Mission),
		events:   make(map[string][]*StepEvent),
	}
}

// CreateMission stores a new mission.
func (m *MockStore) CreateMission(ctx context.Context, mission *Mission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.missions[mission.ID]; exists {
		return ErrDuplicateMission
	}
	m.missions[mission.ID] = copyMission(mission)
	return nil
}

// GetMission retrieves a mission by ID.
func (m *MockStore) GetMission(ctx context.Context, id string) (*Mission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mission, ok := m.missions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMission(mission), nil
}

// UpdateMission overwrites the mutable fields of a mission.
func (m *MockStore) UpdateMission(ctx context.Context, mission *Mission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.missions[mission.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Description = mission.Description
	existing.Members = slices.Clone(mission.Members)
	existing.Status = mission.Status
	existing.CurrentStep = mission.CurrentStep
	existing.UpdatedAt = mission.UpdatedAt
	return nil
}

// ListMissions returns missions in namespace, newest first.
func (m *MockStore) ListMissions(ctx context.Context, namespace string, limit int) ([]*Mission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var result []*Mission
	for _, mission := range m.missions {
		if namespace == "" || mission.Namespace == namespace {
			result = append(result, copyMission(mission))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SaveStepEvent appends a step outcome to the ledger.
func (m *MockStore) SaveStepEvent(ctx context.Context, e *StepEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.missions[e.MissionID]; !ok {
		return ErrNotFound
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	stored := *e
	stored.Pending = slices.Clone(e.Pending)
	m.events[e.MissionID] = append(m.events[e.MissionID], &stored)
	return nil
}

// ListStepEvents returns the ledger for a mission ordered by step.
func (m *MockStore) ListStepEvents(ctx context.Context, missionID string) ([]*StepEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.events[missionID]
	result := make([]*StepEvent, 0, len(events))
	for _, e := range events {
		c := *e
		c.Pending = slices.Clone(e.Pending)
		result = append(result, &c)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Step < result[j].Step })
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func copyMission(src *Mission) *Mission {
	c := *src
	c.Members = slices.Clone(src.Members)
	return &c
}
