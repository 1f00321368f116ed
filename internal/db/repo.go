package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"docongo/internal/core"
	"docongo/pkg"
	"docongo/pkg/errs"
)

// Store is the Postgres-backed session store.  Sessions and their
// transcripts live in separate tables; the transcript table is append-only
// and rows are only ever removed by the cascading session delete.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an existing sql.DB.  The caller owns the connection
// lifecycle.
func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

var _ core.SessionStore = (*Store)(nil)

// GetOrCreate loads the session, inserting a fresh one seeded with the
// given system turn when it does not exist yet.
func (s *Store) GetOrCreate(ctx context.Context, sessionID string, seed pkg.Turn) (*pkg.Session, bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO sessions (session_id, stage)
		 VALUES ($1, $2)
		 ON CONFLICT (session_id) DO NOTHING`,
		sessionID, core.FirstStage(),
	)
	if err != nil {
		return nil, false, errors.Wrap(err, "insert session")
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	created := inserted > 0
	if created {
		if _, err := s.DB.ExecContext(ctx,
			`INSERT INTO turns (session_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
			sessionID, seed.Role, seed.Content, seed.Timestamp,
		); err != nil {
			return nil, false, errors.Wrap(err, "seed system turn")
		}
	}
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return session, created, nil
}

// Get loads a full session including its transcript.
func (s *Store) Get(ctx context.Context, sessionID string) (*pkg.Session, error) {
	var (
		session     pkg.Session
		symptoms    pq.StringArray
		generatedAt sql.NullTime
		disclaimer  sql.NullString
		payload     []byte
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT session_id, owner_ref, stage, title, detected_symptoms,
		        prescription_generated_at, prescription_disclaimer, prescription_payload,
		        created_at, updated_at
		 FROM sessions WHERE session_id = $1`,
		sessionID,
	).Scan(&session.SessionID, &session.OwnerRef, &session.Stage, &session.Title, &symptoms,
		&generatedAt, &disclaimer, &payload, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errs.ErrNotFound, "session %s", sessionID)
		}
		return nil, errors.Wrap(err, "load session")
	}
	session.DetectedSymptoms = []string(symptoms)
	if session.DetectedSymptoms == nil {
		session.DetectedSymptoms = []string{}
	}
	if len(payload) > 0 {
		session.Prescription = &pkg.Prescription{
			GeneratedAt: generatedAt.Time,
			Disclaimer:  disclaimer.String,
			Payload:     payload,
		}
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT role, content, created_at FROM turns WHERE session_id = $1 ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "load transcript")
	}
	defer rows.Close()
	for rows.Next() {
		var t pkg.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan turn")
		}
		session.Transcript = append(session.Transcript, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &session, nil
}

// AppendTurns writes the turns in order and refreshes updated_at.
func (s *Store) AppendTurns(ctx context.Context, sessionID string, turns ...pkg.Turn) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin append")
	}
	defer tx.Rollback()

	for _, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
			sessionID, t.Role, t.Content, t.Timestamp,
		); err != nil {
			return errors.Wrap(err, "insert turn")
		}
	}
	if err := touch(ctx, tx, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateState persists the reconciled stage and symptom set.  The title is
// written only when the session has none, so the label derived from the
// first message is never overwritten by later turns.
func (s *Store) UpdateState(ctx context.Context, sessionID, stage string, symptoms []string, title string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sessions
		 SET stage = $2,
		     detected_symptoms = $3,
		     title = CASE WHEN title = '' AND $4 <> '' THEN $4 ELSE title END,
		     updated_at = NOW()
		 WHERE session_id = $1`,
		sessionID, stage, pq.Array(symptoms), title,
	)
	if err != nil {
		return errors.Wrap(err, "update session state")
	}
	return requireRow(res, sessionID)
}

// SetPrescriptionIfAbsent installs the prescription once.  The conditional
// update makes the check-then-write a single atomic statement, so two
// racing synthesizers persist exactly one artifact.
func (s *Store) SetPrescriptionIfAbsent(ctx context.Context, sessionID string, p pkg.Prescription) (bool, *pkg.Prescription, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sessions
		 SET prescription_generated_at = $2,
		     prescription_disclaimer = $3,
		     prescription_payload = $4,
		     updated_at = NOW()
		 WHERE session_id = $1
		   AND (prescription_payload IS NULL OR COALESCE(prescription_disclaimer, '') = '')`,
		sessionID, p.GeneratedAt, p.Disclaimer, []byte(p.Payload),
	)
	if err != nil {
		return false, nil, errors.Wrap(err, "set prescription")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}

	var (
		generatedAt time.Time
		disclaimer  string
		payload     []byte
	)
	err = s.DB.QueryRowContext(ctx,
		`SELECT prescription_generated_at, prescription_disclaimer, prescription_payload
		 FROM sessions WHERE session_id = $1`,
		sessionID,
	).Scan(&generatedAt, &disclaimer, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil, errors.Wrapf(errs.ErrNotFound, "session %s", sessionID)
		}
		return false, nil, errors.Wrap(err, "read back prescription")
	}
	return n > 0, &pkg.Prescription{GeneratedAt: generatedAt, Disclaimer: disclaimer, Payload: payload}, nil
}

// Delete removes the session and, via cascade, its transcript.  Missing
// sessions delete cleanly.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	return errors.Wrap(err, "delete session")
}

// ClaimOwner binds an anonymous session to the account.  Ownership never
// transfers between two different accounts.
func (s *Store) ClaimOwner(ctx context.Context, sessionID, ownerRef string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sessions SET owner_ref = $2, updated_at = NOW()
		 WHERE session_id = $1 AND owner_ref IN ('', $2)`,
		sessionID, ownerRef,
	)
	if err != nil {
		return errors.Wrap(err, "claim session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Either the session is missing or another account owns it.
	var exists bool
	if err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE session_id = $1)`, sessionID,
	).Scan(&exists); err != nil {
		return errors.Wrap(err, "check session")
	}
	if !exists {
		return errors.Wrapf(errs.ErrNotFound, "session %s", sessionID)
	}
	return errors.Wrapf(errs.ErrAuth, "session %s belongs to another account", sessionID)
}

// ListByOwner returns the account's sessions, most recently updated first.
func (s *Store) ListByOwner(ctx context.Context, ownerRef string) ([]pkg.SessionPreview, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT s.session_id, s.title, s.stage,
		        (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.session_id AND t.role <> 'system'),
		        s.prescription_payload IS NOT NULL AND COALESCE(s.prescription_disclaimer, '') <> '',
		        s.updated_at
		 FROM sessions s
		 WHERE s.owner_ref = $1
		 ORDER BY s.updated_at DESC`,
		ownerRef,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	previews := make([]pkg.SessionPreview, 0, 16)
	for rows.Next() {
		var p pkg.SessionPreview
		if err := rows.Scan(&p.SessionID, &p.Title, &p.Stage, &p.MessageCount, &p.HasPrescription, &p.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan preview")
		}
		previews = append(previews, p)
	}
	return previews, rows.Err()
}

// Rename sets the session title.
func (s *Store) Rename(ctx context.Context, sessionID, title string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sessions SET title = $2, updated_at = NOW() WHERE session_id = $1`,
		sessionID, title,
	)
	if err != nil {
		return errors.Wrap(err, "rename session")
	}
	return requireRow(res, sessionID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func touch(ctx context.Context, ex execer, sessionID string) error {
	res, err := ex.ExecContext(ctx, `UPDATE sessions SET updated_at = NOW() WHERE session_id = $1`, sessionID)
	if err != nil {
		return errors.Wrap(err, "touch session")
	}
	return requireRow(res, sessionID)
}

func requireRow(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(errs.ErrNotFound, "session %s", sessionID)
	}
	return nil
}
