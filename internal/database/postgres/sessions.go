package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

const sessionColumns = `id, person_id, person_name, entry_time, exit_time, duration_ms,
	detection_confidence, recognition_confidence, exit_detection_confidence, exit_recognition_confidence`

// SessionStore provides PostgreSQL-backed attendance session storage
type SessionStore struct {
	pool *Pool
}

// NewSessionStore creates a new PostgreSQL session store
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (database.Session, error) {
	var (
		s                    database.Session
		exitTime             sql.NullTime
		durationMs           sql.NullInt64
		detConf, exitDetConf sql.NullFloat64
		exitRecConf          sql.NullFloat64
	)
	if err := row.Scan(&s.ID, &s.PersonID, &s.PersonName, &s.EntryTime, &exitTime, &durationMs,
		&detConf, &s.RecognitionConfidence, &exitDetConf, &exitRecConf); err != nil {
		return database.Session{}, err
	}

	s.EntryTime = s.EntryTime.UTC()
	if exitTime.Valid {
		t := exitTime.Time.UTC()
		s.ExitTime = &t
	}
	if durationMs.Valid {
		d := time.Duration(durationMs.Int64) * time.Millisecond
		s.Duration = &d
	}
	s.DetectionConfidence = nullFloat(detConf)
	s.ExitDetectionConfidence = nullFloat(exitDetConf)
	s.ExitRecognitionConfidence = nullFloat(exitRecConf)
	return s, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func floatArg(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// Latest returns the person's session with the latest entry time, nil if none
func (r *SessionStore) Latest(ctx context.Context, personID string) (*database.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE person_id = $1
		ORDER BY entry_time DESC, seq DESC
		LIMIT 1
	`, personID)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Persistence("latest session", err)
	}
	return &s, nil
}

// Create inserts a new open session
func (r *SessionStore) Create(ctx context.Context, session database.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO attendance_sessions (id, person_id, person_name, entry_time, detection_confidence, recognition_confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, session.ID, session.PersonID, session.PersonName, session.EntryTime.UTC(),
		floatArg(session.DetectionConfidence), session.RecognitionConfidence)
	if err != nil {
		return database.Persistence("create session", err)
	}
	return nil
}

// Close sets the exit fields of an open session and returns the updated row
func (r *SessionStore) Close(ctx context.Context, sessionID string, update database.SessionClose) (*database.Session, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, database.Persistence("close session", err)
	}
	defer func() { _ = tx.Rollback() }()

	var entry time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT entry_time FROM attendance_sessions
		WHERE id = $1 AND exit_time IS NULL
		FOR UPDATE
	`, sessionID).Scan(&entry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open session %s: %w", sessionID, database.ErrNotFound)
	}
	if err != nil {
		return nil, database.Persistence("lock session", err)
	}

	exit := update.ExitTime.UTC()
	closed, err := scanSession(tx.QueryRowContext(ctx, `
		UPDATE attendance_sessions
		SET exit_time = $2, duration_ms = $3, exit_detection_confidence = $4, exit_recognition_confidence = $5
		WHERE id = $1
		RETURNING `+sessionColumns,
		sessionID, exit, exit.Sub(entry).Milliseconds(), floatArg(update.DetectionConfidence), update.RecognitionConfidence,
	))
	if err != nil {
		return nil, database.Persistence("close session", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, database.Persistence("commit session close", err)
	}
	return &closed, nil
}

// ListByPerson returns a person's sessions, newest entry first. limit <= 0 returns all.
func (r *SessionStore) ListByPerson(ctx context.Context, personID string, limit int) ([]database.Session, error) {
	return r.list(ctx, "WHERE person_id = $1", limit, personID)
}

// List returns all sessions, newest entry first. limit <= 0 returns all.
func (r *SessionStore) List(ctx context.Context, limit int) ([]database.Session, error) {
	return r.list(ctx, "", limit)
}

func (r *SessionStore) list(ctx context.Context, where string, limit int, args ...any) ([]database.Session, error) {
	query := "SELECT " + sessionColumns + " FROM attendance_sessions " + where + " ORDER BY entry_time DESC, seq DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, database.Persistence("list sessions", err)
	}
	defer rows.Close()

	var sessions []database.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, database.Persistence("scan session", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Persistence("iterate sessions", err)
	}
	return sessions, nil
}
