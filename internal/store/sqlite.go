// ABOUTME: SQLite implementation of the MissionStore interface using modernc.org/sqlite
// ABOUTME: Provides mission and step ledger persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the MissionStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ MissionStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// pragmas below apply per connection
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS missions (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			leader TEXT NOT NULL,
			members_json TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			current_step INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (status IN ('active', 'completed', 'aborted'))
		);

		CREATE INDEX IF NOT EXISTS idx_missions_namespace
			ON missions(namespace, created_at);

		CREATE TABLE IF NOT EXISTS step_events (
			id TEXT PRIMARY KEY,
			mission_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			pending_json TEXT NOT NULL DEFAULT '[]',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY (mission_id) REFERENCES missions(id),

			CHECK (outcome IN ('advanced', 'forced'))
		);

		CREATE INDEX IF NOT EXISTS idx_step_events_mission_step
			ON step_events(mission_id, step);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		table  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('missions') WHERE name = 'description'`,
			apply:  `ALTER TABLE missions ADD COLUMN description TEXT NOT NULL DEFAULT ''`,
			table:  "missions",
			column: "description",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateMission inserts a new mission.
// Returns ErrDuplicateMission if the id is already in use.
func (s *SQLiteStore) CreateMission(ctx context.Context, m *Mission) error {
	members, err := encodeList(m.Members)
	if err != nil {
		return fmt.Errorf("encoding members: %w", err)
	}

	query := `
		INSERT INTO missions (id, namespace, leader, description, members_json, status, current_step, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		m.ID,
		m.Namespace,
		m.Leader,
		m.Description,
		members,
		string(m.Status),
		m.CurrentStep,
		m.CreatedAt.UTC().Format(time.RFC3339),
		m.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateMission
		}
		return fmt.Errorf("inserting mission: %w", err)
	}

	s.logger.Debug("created mission", "id", m.ID, "namespace", m.Namespace)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE or PRIMARY KEY constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

// GetMission retrieves a mission by ID.
// Returns ErrNotFound if the mission doesn't exist.
func (s *SQLiteStore) GetMission(ctx context.Context, id string) (*Mission, error) {
	query := `
		SELECT id, namespace, leader, description, members_json, status, current_step, created_at, updated_at
		FROM missions
		WHERE id = ?
	`

	m, err := scanMission(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying mission: %w", err)
	}
	return m, nil
}

// UpdateMission overwrites the mutable fields of a mission.
// Returns ErrNotFound if the mission doesn't exist.
func (s *SQLiteStore) UpdateMission(ctx context.Context, m *Mission) error {
	members, err := encodeList(m.Members)
	if err != nil {
		return fmt.Errorf("encoding members: %w", err)
	}

	query := `
		UPDATE missions
		SET description = ?, members_json = ?, status = ?, current_step = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		m.Description,
		members,
		string(m.Status),
		m.CurrentStep,
		m.UpdatedAt.UTC().Format(time.RFC3339),
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("updating mission: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMissions returns missions in namespace, newest first.
// An empty namespace lists every namespace. A limit of 0 or less means 100.
func (s *SQLiteStore) ListMissions(ctx context.Context, namespace string, limit int) ([]*Mission, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, namespace, leader, description, members_json, status, current_step, created_at, updated_at
		FROM missions
		WHERE (? = '' OR namespace = ?)
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, namespace, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("querying missions: %w", err)
	}
	defer rows.Close()

	var missions []*Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning mission: %w", err)
		}
		missions = append(missions, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating missions: %w", err)
	}
	return missions, nil
}

// SaveStepEvent appends a step outcome to the ledger. An empty ID is filled
// with a new UUID. Returns ErrNotFound if the mission doesn't exist.
func (s *SQLiteStore) SaveStepEvent(ctx context.Context, e *StepEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	pending, err := encodeList(e.Pending)
	if err != nil {
		return fmt.Errorf("encoding pending agents: %w", err)
	}

	query := `
		INSERT INTO step_events (id, mission_id, step, agent_id, outcome, pending_json, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.ID,
		e.MissionID,
		e.Step,
		e.AgentID,
		string(e.Outcome),
		pending,
		e.Duration.Milliseconds(),
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return ErrNotFound
		}
		return fmt.Errorf("inserting step event: %w", err)
	}

	s.logger.Debug("saved step event",
		"mission_id", e.MissionID,
		"step", e.Step,
		"outcome", e.Outcome,
		"pending", e.Pending,
	)
	return nil
}

// ListStepEvents returns the ledger for a mission ordered by step.
func (s *SQLiteStore) ListStepEvents(ctx context.Context, missionID string) ([]*StepEvent, error) {
	query := `
		SELECT id, mission_id, step, agent_id, outcome, pending_json, duration_ms, created_at
		FROM step_events
		WHERE mission_id = ?
		ORDER BY step, created_at, id
	`

	rows, err := s.db.QueryContext(ctx, query, missionID)
	if err != nil {
		return nil, fmt.Errorf("querying step events: %w", err)
	}
	defer rows.Close()

	var events []*StepEvent
	for rows.Next() {
		var e StepEvent
		var outcome, pendingJSON, createdAtStr string
		var durationMs int64

		if err := rows.Scan(&e.ID, &e.MissionID, &e.Step, &e.AgentID, &outcome, &pendingJSON, &durationMs, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning step event: %w", err)
		}
		e.Outcome = StepOutcome(outcome)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		if e.Pending, err = decodeList(pendingJSON); err != nil {
			return nil, fmt.Errorf("decoding pending agents: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating step events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(row rowScanner) (*Mission, error) {
	var m Mission
	var status, membersJSON, createdAtStr, updatedAtStr string

	err := row.Scan(
		&m.ID,
		&m.Namespace,
		&m.Leader,
		&m.Description,
		&membersJSON,
		&status,
		&m.CurrentStep,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	m.Status = MissionStatus(status)
	if m.Members, err = decodeList(membersJSON); err != nil {
		return nil, fmt.Errorf("decoding members: %w", err)
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &m, nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(data string) ([]string, error) {
	var items []string
	if data == "" {
		return items, nil
	}
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}
