// Package store provides persistence for ACP missions.
//
// # Overview
//
// A mission row records who leads it, which agents take part, its status and
// the last step the leader reached. The step ledger keeps one StepEvent per
// agent per finished step, including the agents that were still pending when
// a step had to be forced forward.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite (pure Go), WAL mode, schema created on open
//   - MockStore: in-memory, for tests
//
// Both satisfy MissionStore:
//
//	s, err := store.NewSQLiteStore("~/.local/share/acp/missions.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
// # Errors
//
//   - ErrNotFound: the mission does not exist
//   - ErrDuplicateMission: CreateMission with an id already in use
//
// Timestamps are stored as RFC3339 strings in UTC, so they round-trip at
// second precision.
package store
