package sqlite

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

// Ties on entry time resolve to the most recently inserted row.
const sessionOrder = `ORDER BY entry_time_ms DESC, rowid DESC`

// SessionStore implements database.SessionStore. Reads use the pool, writes
// use the worker.
type SessionStore struct {
	db     *sql.DB
	writer *Worker
}

func NewSessionStore(db *sql.DB, writer *Worker) *SessionStore {
	return &SessionStore{db: db, writer: writer}
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

// Latest returns the person's session with the latest entry time, nil if none.
func (s *SessionStore) Latest(ctx context.Context, personID string) (*database.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM attendance_sessions WHERE person_id = ? `+sessionOrder+` LIMIT 1;`,
		personID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Persistence("latest session", err)
	}
	return &session, nil
}

// Create inserts a new open session.
func (s *SessionStore) Create(ctx context.Context, session database.Session) error {
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO attendance_sessions(id, person_id, person_name, entry_time_ms, detection_confidence, recognition_confidence)
VALUES (?, ?, ?, ?, ?, ?);`,
			session.ID, session.PersonID, session.PersonName, session.EntryTime.UTC().UnixMilli(),
			floatArg(session.DetectionConfidence), session.RecognitionConfidence,
		)
		return err
	})
	if err != nil {
		return database.Persistence("create session", err)
	}
	return nil
}

// Close sets the exit fields of an open session and returns the updated row.
func (s *SessionStore) Close(ctx context.Context, sessionID string, update database.SessionClose) (*database.Session, error) {
	var closed database.Session
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var entryMs int64
		err := tx.QueryRowContext(ctx,
			`SELECT entry_time_ms FROM attendance_sessions WHERE id = ? AND exit_time_ms IS NULL;`,
			sessionID).Scan(&entryMs)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("open session %s: %w", sessionID, database.ErrNotFound)
		}
		if err != nil {
			return err
		}

		exitMs := update.ExitTime.UTC().UnixMilli()
		if _, err := tx.ExecContext(ctx, `
UPDATE attendance_sessions
SET exit_time_ms = ?, duration_ms = ?, exit_detection_confidence = ?, exit_recognition_confidence = ?
WHERE id = ?;`,
			exitMs, exitMs-entryMs, floatArg(update.DetectionConfidence), update.RecognitionConfidence, sessionID,
		); err != nil {
			return err
		}

		closed, err = scanSession(tx.QueryRowContext(ctx,
			`SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = ?;`, sessionID))
		return err
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, database.Persistence("close session", err)
	}
	return &closed, nil
}

// ListByPerson returns a person's sessions, newest entry first. limit <= 0 returns all.
func (s *SessionStore) ListByPerson(ctx context.Context, personID string, limit int) ([]database.Session, error) {
	return s.list(ctx, `WHERE person_id = ?`, limit, personID)
}

// List returns all sessions, newest entry first. limit <= 0 returns all.
func (s *SessionStore) List(ctx context.Context, limit int) ([]database.Session, error) {
	return s.list(ctx, "", limit)
}

func (s *SessionStore) list(ctx context.Context, where string, limit int, args ...any) ([]database.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions ` + where + ` ` + sessionOrder
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, database.Persistence("list sessions", err)
	}
	defer rows.Close()

	var sessions []database.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, database.Persistence("scan session", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Persistence("list sessions", err)
	}
	return sessions, nil
}
