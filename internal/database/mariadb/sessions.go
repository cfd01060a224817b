package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

const sessionColumns = `id, person_id, person_name, entry_time_ms, exit_time_ms, duration_ms,
	detection_confidence, recognition_confidence, exit_detection_confidence, exit_recognition_confidence`

const sessionOrder = `ORDER BY entry_time_ms DESC, seq DESC`

// SessionStore provides MariaDB-backed attendance session storage.
type SessionStore struct {
	pool *Pool
}

// NewSessionStore creates a new MariaDB session store.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (database.Session, error) {
	var (
		s                    database.Session
		entryMs              int64
		exitMs, durationMs   sql.NullInt64
		detConf, exitDetConf sql.NullFloat64
		exitRecConf          sql.NullFloat64
	)
	if err := row.Scan(&s.ID, &s.PersonID, &s.PersonName, &entryMs, &exitMs, &durationMs,
		&detConf, &s.RecognitionConfidence, &exitDetConf, &exitRecConf); err != nil {
		return database.Session{}, err
	}

	s.EntryTime = time.UnixMilli(entryMs).UTC()
	if exitMs.Valid {
		t := time.UnixMilli(exitMs.Int64).UTC()
		s.ExitTime = &t
	}
	if durationMs.Valid {
		d := time.Duration(durationMs.Int64) * time.Millisecond
		s.Duration = &d
	}
	if detConf.Valid {
		s.DetectionConfidence = &detConf.Float64
	}
	if exitDetConf.Valid {
		s.ExitDetectionConfidence = &exitDetConf.Float64
	}
	if exitRecConf.Valid {
		s.ExitRecognitionConfidence = &exitRecConf.Float64
	}
	return s, nil
}

func nullable(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// Latest returns the person's session with the latest entry time, nil if none.
func (r *SessionStore) Latest(ctx context.Context, personID string) (*database.Session, error) {
	row := r.pool.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM attendance_sessions WHERE person_id = ? "+sessionOrder+" LIMIT 1",
		personID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Persistence("latest session", err)
	}
	return &s, nil
}

// Create inserts a new open session.
func (r *SessionStore) Create(ctx context.Context, session database.Session) error {
	_, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions (id, person_id, person_name, entry_time_ms, detection_confidence, recognition_confidence)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session.ID, session.PersonID, session.PersonName, session.EntryTime.UTC().UnixMilli(),
		nullable(session.DetectionConfidence), session.RecognitionConfidence)
	if err != nil {
		return database.Persistence("create session", err)
	}
	return nil
}

// Close sets the exit fields of an open session and returns the updated row.
func (r *SessionStore) Close(ctx context.Context, sessionID string, update database.SessionClose) (*database.Session, error) {
	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, database.Persistence("close session", err)
	}
	defer func() { _ = tx.Rollback() }()

	var entryMs int64
	err = tx.QueryRowContext(ctx,
		"SELECT entry_time_ms FROM attendance_sessions WHERE id = ? AND exit_time_ms IS NULL FOR UPDATE",
		sessionID).Scan(&entryMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open session %s: %w", sessionID, database.ErrNotFound)
	}
	if err != nil {
		return nil, database.Persistence("lock session", err)
	}

	exitMs := update.ExitTime.UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET exit_time_ms = ?, duration_ms = ?, exit_detection_confidence = ?, exit_recognition_confidence = ?
		WHERE id = ?
	`, exitMs, exitMs-entryMs, nullable(update.DetectionConfidence), update.RecognitionConfidence, sessionID); err != nil {
		return nil, database.Persistence("close session", err)
	}

	closed, err := scanSession(tx.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM attendance_sessions WHERE id = ?", sessionID))
	if err != nil {
		return nil, database.Persistence("reload session", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, database.Persistence("commit session close", err)
	}
	return &closed, nil
}

// ListByPerson returns a person's sessions, newest entry first. limit <= 0 returns all.
func (r *SessionStore) ListByPerson(ctx context.Context, personID string, limit int) ([]database.Session, error) {
	return r.list(ctx, "WHERE person_id = ?", limit, personID)
}

// List returns all sessions, newest entry first. limit <= 0 returns all.
func (r *SessionStore) List(ctx context.Context, limit int) ([]database.Session, error) {
	return r.list(ctx, "", limit)
}

func (r *SessionStore) list(ctx context.Context, where string, limit int, args ...any) ([]database.Session, error) {
	query := "SELECT " + sessionColumns + " FROM attendance_sessions " + where + " " + sessionOrder
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.pool.db.QueryContext(ctx, query, args...)
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
