// ABOUTME: Store interface and data types for mission persistence
// ABOUTME: Defines Mission and StepEvent records and the MissionStore interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMission is returned when trying to create a mission that already exists
var ErrDuplicateMission = errors.New("mission already exists")

// MissionStatus is the lifecycle state of a mission
type MissionStatus string

const (
	MissionActive    MissionStatus = "active"
	MissionCompleted MissionStatus = "completed"
	MissionAborted   MissionStatus = "aborted"
)

// Mission is a coordinated piece of work shared by a group of agents in one namespace
type Mission struct {
	ID          string
	Namespace   string
	Leader      string
	Description string
	Members     []string
	Status      MissionStatus
	CurrentStep uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StepOutcome records how a step ended for the agent that observed it
type StepOutcome string

const (
	StepAdvanced StepOutcome = "advanced" // every member reported
	StepForced   StepOutcome = "forced"   // timed out and forced forward
)

// StepEvent is one row of the step ledger
type StepEvent struct {
	ID        string
	MissionID string
	Step      uint64
	AgentID   string // agent that recorded the event
	Outcome   StepOutcome
	Pending   []string // members that had not reported, empty when advanced
	Duration  time.Duration
	CreatedAt time.Time
}

// MissionStore persists missions and their step ledger
type MissionStore interface {
	CreateMission(ctx context.Context, m *Mission) error
	GetMission(ctx context.Context, id string) (*Mission, error)
	UpdateMission(ctx context.Context, m *Mission) error
	ListMissions(ctx context.Context, namespace string, limit int) ([]*Mission, error)

	SaveStepEvent(ctx context.Context, e *StepEvent) error
	ListStepEvents(ctx context.Context, missionID string) ([]*StepEvent, error)

	Close() error
}
