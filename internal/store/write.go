package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/rulecore/internal/engine"
)

// SaveSnapshot appends snap as the next version of its session and returns
// that version. Versions start at 1. The whole snapshot is written in one
// transaction: a failed save leaves no partial rows behind.
func (s *Store) SaveSnapshot(ctx context.Context, snap *engine.Snapshot) (int64, error) {
	if snap == nil {
		return 0, errors.New("save snapshot: nil snapshot")
	}
	if snap.SessionID == "" {
		return 0, errors.New("save snapshot: empty session id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM snapshots WHERE session_id = ?
	`, snap.SessionID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: next version: %w", err)
	}

	w := snapshotWriter{ctx: ctx, tx: tx, session: snap.SessionID, version: version}
	if err := w.write(snap); err != nil {
		return 0, fmt.Errorf("save snapshot %s v%d: %w", snap.SessionID, version, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save snapshot: commit: %w", err)
	}
	return version, nil
}

// DeleteSnapshots removes every version of a session and reports how many
// versions were removed. Deleting an unknown session removes nothing.
func (s *Store) DeleteSnapshots(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	return n, nil
}

type snapshotWriter struct {
	ctx     context.Context
	tx      *sql.Tx
	session string
	version int64
}

func (w snapshotWriter) write(snap *engine.Snapshot) error {
	focus, err := marshalFocus(snap.Focus)
	if err != nil {
		return err
	}
	_, err = w.tx.ExecContext(w.ctx, `
		INSERT INTO snapshots
		(session_id, version, clock, time, propagation, next_handle, focus)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		w.session,
		w.version,
		string(snap.Clock),
		snap.Time,
		snap.Propagation,
		snap.NextHandle,
		focus,
	)
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if err := w.writeFacts(snap); err != nil {
		return err
	}
	if err := w.writeActivations(snap.Activations); err != nil {
		return err
	}
	if err := w.writeBeliefs(snap.Beliefs); err != nil {
		return err
	}
	return w.writeJobs(snap.Jobs)
}

func (w snapshotWriter) writeFacts(snap *engine.Snapshot) error {
	stmt, err := w.tx.PrepareContext(w.ctx, `
		INSERT INTO snapshot_facts
		(session_id, version, handle, entry_point, equality, type, fields, timestamp, event, logical, recency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write facts: %w", err)
	}
	defer stmt.Close()

	for _, f := range snap.Facts {
		fields, err := marshalFields(f.Fact.Fields)
		if err != nil {
			return fmt.Errorf("write fact %d: %w", f.ID, err)
		}
		_, err = stmt.ExecContext(w.ctx,
			w.session,
			w.version,
			f.ID,
			f.EntryPoint,
			int(f.Equality),
			f.Fact.Type,
			fields,
			f.Timestamp,
			boolInt(f.Event),
			boolInt(f.Logical),
			f.Recency,
		)
		if err != nil {
			return fmt.Errorf("write fact %d: %w", f.ID, err)
		}
	}
	return nil
}

func (w snapshotWriter) writeActivations(acts []engine.ActivationState) error {
	for i, a := range acts {
		handles, err := marshalHandles(a.Handles)
		if err != nil {
			return err
		}
		_, err = w.tx.ExecContext(w.ctx, `
			INSERT INTO snapshot_activations
			(session_id, version, position, rule, handles, recency)
			VALUES (?, ?, ?, ?, ?, ?)
		`, w.session, w.version, i, a.Rule, handles, a.Recency)
		if err != nil {
			return fmt.Errorf("write activation %d: %w", i, err)
		}
	}
	return nil
}

func (w snapshotWriter) writeBeliefs(beliefs []engine.BeliefState) error {
	for _, b := range beliefs {
		for i, a := range b.Justification {
			handles, err := marshalHandles(a.Handles)
			if err != nil {
				return err
			}
			_, err = w.tx.ExecContext(w.ctx, `
				INSERT INTO snapshot_beliefs
				(session_id, version, handle, position, rule, handles, recency)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, w.session, w.version, b.Handle, i, a.Rule, handles, a.Recency)
			if err != nil {
				return fmt.Errorf("write belief %d: %w", b.Handle, err)
			}
		}
	}
	return nil
}

func (w snapshotWriter) writeJobs(jobs []engine.JobState) error {
	for i, j := range jobs {
		handles, err := marshalHandles(j.Handles)
		if err != nil {
			return err
		}
		_, err = w.tx.ExecContext(w.ctx, `
			INSERT INTO snapshot_jobs
			(session_id, version, position, kind, fire_time, rule, handles, recency, fired, handle)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			w.session,
			w.version,
			i,
			string(j.Kind),
			j.FireTime,
			j.Rule,
			handles,
			j.Recency,
			j.Fired,
			j.Handle,
		)
		if err != nil {
			return fmt.Errorf("write job %d: %w", i, err)
		}
	}
	return nil
}
