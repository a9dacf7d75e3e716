package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/rulecore/internal/engine"
	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/timer"
)

// ErrNotFound is returned when no snapshot matches a lookup.
var ErrNotFound = errors.New("snapshot not found")

// SnapshotInfo summarizes one stored snapshot version.
type SnapshotInfo struct {
	SessionID   string          `json:"session_id"`
	Version     int64           `json:"version"`
	Clock       timer.ClockType `json:"clock"`
	Time        int64           `json:"time"`
	Facts       int             `json:"facts"`
	Activations int             `json:"activations"`
	Jobs        int             `json:"jobs"`
}

// LoadSnapshot returns the latest version of a session's snapshot.
// Returns ErrNotFound if the session has none.
func (s *Store) LoadSnapshot(ctx context.Context, sessionID string) (*engine.Snapshot, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM snapshots WHERE session_id = ?
	`, sessionID).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version == 0 {
		return nil, fmt.Errorf("load snapshot %s: %w", sessionID, ErrNotFound)
	}
	return s.LoadSnapshotVersion(ctx, sessionID, version)
}

// LoadSnapshotVersion returns one specific version of a session's snapshot.
// Returns ErrNotFound if that version does not exist.
func (s *Store) LoadSnapshotVersion(ctx context.Context, sessionID string, version int64) (*engine.Snapshot, error) {
	snap := &engine.Snapshot{SessionID: sessionID}
	var clock, focus string
	err := s.db.QueryRowContext(ctx, `
		SELECT clock, time, propagation, next_handle, focus
		FROM snapshots
		WHERE session_id = ? AND version = ?
	`, sessionID, version).Scan(&clock, &snap.Time, &snap.Propagation, &snap.NextHandle, &focus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load snapshot %s v%d: %w", sessionID, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap.Clock = timer.ClockType(clock)
	if snap.Focus, err = unmarshalFocus(focus); err != nil {
		return nil, err
	}

	if snap.Facts, err = s.readFacts(ctx, sessionID, version); err != nil {
		return nil, err
	}
	if snap.Activations, err = s.readActivations(ctx, sessionID, version); err != nil {
		return nil, err
	}
	if snap.Beliefs, err = s.readBeliefs(ctx, sessionID, version); err != nil {
		return nil, err
	}
	if snap.Jobs, err = s.readJobs(ctx, sessionID, version); err != nil {
		return nil, err
	}
	return snap, nil
}

// ListSnapshots returns a summary of every stored version.
// Ordered by session_id COLLATE BINARY ASC, version ASC.
//
// Returns an empty slice (not nil) when the store is empty.
func (s *Store) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_id, s.version, s.clock, s.time,
			(SELECT COUNT(*) FROM snapshot_facts f WHERE f.session_id = s.session_id AND f.version = s.version),
			(SELECT COUNT(*) FROM snapshot_activations a WHERE a.session_id = s.session_id AND a.version = s.version),
			(SELECT COUNT(*) FROM snapshot_jobs j WHERE j.session_id = s.session_id AND j.version = s.version)
		FROM snapshots s
		ORDER BY s.session_id COLLATE BINARY ASC, s.version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	infos := []SnapshotInfo{}
	for rows.Next() {
		var info SnapshotInfo
		var clock string
		if err := rows.Scan(&info.SessionID, &info.Version, &clock, &info.Time, &info.Facts, &info.Activations, &info.Jobs); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		info.Clock = timer.ClockType(clock)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return infos, nil
}

func (s *Store) readFacts(ctx context.Context, sessionID string, version int64) ([]factstore.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT handle, entry_point, equality, type, fields, timestamp, event, logical, recency
		FROM snapshot_facts
		WHERE session_id = ? AND version = ?
		ORDER BY handle ASC
	`, sessionID, version)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var facts []factstore.Snapshot
	for rows.Next() {
		var (
			f              factstore.Snapshot
			equality       int
			fields         string
			event, logical int
		)
		err := rows.Scan(&f.ID, &f.EntryPoint, &equality, &f.Fact.Type, &fields, &f.Timestamp, &event, &logical, &f.Recency)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		if f.Fact.Fields, err = unmarshalFields(fields); err != nil {
			return nil, fmt.Errorf("fact %d: %w", f.ID, err)
		}
		f.Equality = factstore.Equality(equality)
		f.Event = event != 0
		f.Logical = logical != 0
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return facts, nil
}

func (s *Store) readActivations(ctx context.Context, sessionID string, version int64) ([]engine.ActivationState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule, handles, recency
		FROM snapshot_activations
		WHERE session_id = ? AND version = ?
		ORDER BY position ASC
	`, sessionID, version)
	if err != nil {
		return nil, fmt.Errorf("query activations: %w", err)
	}
	defer rows.Close()

	var acts []engine.ActivationState
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		acts = append(acts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activations: %w", err)
	}
	return acts, nil
}

func (s *Store) readBeliefs(ctx context.Context, sessionID string, version int64) ([]engine.BeliefState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT handle, rule, handles, recency
		FROM snapshot_beliefs
		WHERE session_id = ? AND version = ?
		ORDER BY handle ASC, position ASC
	`, sessionID, version)
	if err != nil {
		return nil, fmt.Errorf("query beliefs: %w", err)
	}
	defer rows.Close()

	var beliefs []engine.BeliefState
	for rows.Next() {
		var handle int64
		var a engine.ActivationState
		var handles string
		if err := rows.Scan(&handle, &a.Rule, &handles, &a.Recency); err != nil {
			return nil, fmt.Errorf("scan belief: %w", err)
		}
		if a.Handles, err = unmarshalHandles(handles); err != nil {
			return nil, err
		}
		if n := len(beliefs); n == 0 || beliefs[n-1].Handle != handle {
			beliefs = append(beliefs, engine.BeliefState{Handle: handle})
		}
		last := &beliefs[len(beliefs)-1]
		last.Justification = append(last.Justification, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate beliefs: %w", err)
	}
	return beliefs, nil
}

func (s *Store) readJobs(ctx context.Context, sessionID string, version int64) ([]engine.JobState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, fire_time, rule, handles, recency, fired, handle
		FROM snapshot_jobs
		WHERE session_id = ? AND version = ?
		ORDER BY position ASC
	`, sessionID, version)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []engine.JobState
	for rows.Next() {
		var j engine.JobState
		var kind, handles string
		if err := rows.Scan(&kind, &j.FireTime, &j.Rule, &handles, &j.Recency, &j.Fired, &j.Handle); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Kind = engine.JobKind(kind)
		if j.Handles, err = unmarshalHandles(handles); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// scanActivation scans a (rule, handles, recency) row.
func scanActivation(rows *sql.Rows) (engine.ActivationState, error) {
	var a engine.ActivationState
	var handles string
	if err := rows.Scan(&a.Rule, &handles, &a.Recency); err != nil {
		return a, fmt.Errorf("scan activation: %w", err)
	}
	var err error
	if a.Handles, err = unmarshalHandles(handles); err != nil {
		return a, err
	}
	return a, nil
}
