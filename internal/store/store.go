package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/audiolens/audiolens/internal/align"
	"github.com/audiolens/audiolens/internal/session"
)

// ErrInvalidTransition is returned when a status write would violate the
// session lifecycle graph.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store is the relational subset the pipeline core touches: session status
// and duration, plus bulk-replaced perception frames. The full session
// record is owned by the API layer.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping verifies connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "failed to ping database")
	}
	return nil
}

// GetDuration returns the session's known duration in seconds, or 0 when the
// record has none yet (or does not exist).
func (s *Store) GetDuration(ctx context.Context, sessionID string) (float64, error) {
	var duration sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT duration_sec FROM audio_sessions WHERE id = $1`, sessionID,
	).Scan(&duration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read session duration")
	}
	return duration.Float64, nil
}

// TransitionStatus moves the session to next, recording an error message for
// failures. Writes violating the lifecycle graph are rejected.
func (s *Store) TransitionStatus(ctx context.Context, sessionID string, next session.Status, errMsg string) error {
	var current session.Status
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM audio_sessions WHERE id = $1`, sessionID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Errorf("session %s not found", sessionID)
		}
		return errors.Wrap(err, "failed to read session status")
	}

	if !session.CanTransition(current, next) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", current, next)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE audio_sessions SET status = $2, error_message = NULLIF($3, ''), updated_at = now() WHERE id = $1`,
		sessionID, string(next), errMsg,
	)
	return errors.Wrap(err, "failed to update session status")
}

// Complete marks the session completed and backfills the duration in one
// transaction. Re-running it for an already completed session is a no-op,
// keeping fusion refires idempotent.
func (s *Store) Complete(ctx context.Context, sessionID string, duration float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var current session.Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM audio_sessions WHERE id = $1 FOR UPDATE`, sessionID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Errorf("session %s not found", sessionID)
		}
		return errors.Wrap(err, "failed to read session status")
	}

	if current == session.StatusCompleted {
		log.Debug().Str("session_id", sessionID).Msg("Session already completed, skipping status write")
		return tx.Commit()
	}
	if !session.CanTransition(current, session.StatusCompleted) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", current, session.StatusCompleted)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE audio_sessions
		 SET status = $2, duration_sec = $3, error_message = NULL, updated_at = now()
		 WHERE id = $1`,
		sessionID, string(session.StatusCompleted), duration,
	)
	if err != nil {
		return errors.Wrap(err, "failed to complete session")
	}

	return errors.Wrap(tx.Commit(), "failed to commit completion")
}

// ReplaceFrames swaps the session's perception frames wholesale
// (delete-then-insert) so a repeated fusion run leaves the same rows.
func (s *Store) ReplaceFrames(ctx context.Context, sessionID string, frames []align.PerceptionFrame) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM perception_frames WHERE session_id = $1`, sessionID,
	); err != nil {
		return errors.Wrap(err, "failed to delete old frames")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO perception_frames (session_id, t, frame_data) VALUES ($1, $2, $3)`,
	)
	if err != nil {
		return errors.Wrap(err, "failed to prepare frame insert")
	}
	defer stmt.Close()

	for _, frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			return errors.Wrap(err, "failed to encode frame")
		}
		if _, err := stmt.ExecContext(ctx, sessionID, frame.T, data); err != nil {
			return errors.Wrapf(err, "failed to insert frame t=%.3f", frame.T)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit frames")
}
