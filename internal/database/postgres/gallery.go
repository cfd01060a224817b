package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// GalleryStore keeps identities in the identities table, one row each.
type GalleryStore struct {
	pool *Pool
}

// NewGalleryStore creates a PostgreSQL gallery store
func NewGalleryStore(pool *Pool) *GalleryStore {
	return &GalleryStore{pool: pool}
}

// galleryLockID is the advisory lock key held by Update.
const galleryLockID int64 = 0x67616c6c

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Load returns every identity in enrollment order
func (s *GalleryStore) Load(ctx context.Context) (database.GallerySnapshot, error) {
	return loadGallery(ctx, s.pool.DB())
}

// Save makes the table match snapshot in one transaction: identities missing
// from the snapshot are deleted, the rest are upserted.
func (s *GalleryStore) Save(ctx context.Context, snapshot database.GallerySnapshot) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return saveGallery(ctx, tx, snapshot)
	})
}

// Update reads and rewrites the gallery in one transaction holding the
// gallery advisory lock, so concurrent enrollments from other processes
// see each other's rows.
func (s *GalleryStore) Update(ctx context.Context, fn func(database.GallerySnapshot) (database.GallerySnapshot, error)) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := loadGallery(ctx, tx)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		return saveGallery(ctx, tx, next)
	})
}

func (s *GalleryStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return database.Persistence("save gallery", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", galleryLockID); err != nil {
		return database.Persistence("lock gallery", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return database.Persistence("commit gallery", err)
	}
	return nil
}

func loadGallery(ctx context.Context, q querier) (database.GallerySnapshot, error) {
	var snapshot database.GallerySnapshot

	err := q.QueryRowContext(ctx, "SELECT dim FROM gallery_meta WHERE singleton").Scan(&snapshot.Dim)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return database.GallerySnapshot{}, database.Persistence("load gallery dimension", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, name, embedding, enrolled_at
		FROM identities
		ORDER BY position
	`)
	if err != nil {
		return database.GallerySnapshot{}, database.Persistence("load identities", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id database.StoredIdentity
		var vec pgvector.Vector
		if err := rows.Scan(&id.ID, &id.Name, &vec, &id.EnrolledAt); err != nil {
			return database.GallerySnapshot{}, database.Persistence("scan identity", err)
		}
		id.Embedding = vec.Slice()
		id.EnrolledAt = id.EnrolledAt.UTC()
		snapshot.Identities = append(snapshot.Identities, id)
	}
	if err := rows.Err(); err != nil {
		return database.GallerySnapshot{}, database.Persistence("iterate identities", err)
	}
	return snapshot, nil
}

func saveGallery(ctx context.Context, tx *sql.Tx, snapshot database.GallerySnapshot) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO gallery_meta (singleton, dim) VALUES (TRUE, $1)
		ON CONFLICT (singleton) DO UPDATE SET dim = EXCLUDED.dim
	`, snapshot.Dim); err != nil {
		return database.Persistence("save gallery dimension", err)
	}

	ids := make([]string, len(snapshot.Identities))
	for i, id := range snapshot.Identities {
		ids[i] = id.ID
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM identities WHERE NOT (id = ANY($1))", pq.Array(ids)); err != nil {
		return database.Persistence("prune identities", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO identities (id, position, name, embedding, enrolled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			position = EXCLUDED.position,
			name = EXCLUDED.name,
			embedding = EXCLUDED.embedding,
			enrolled_at = EXCLUDED.enrolled_at
	`)
	if err != nil {
		return database.Persistence("prepare identity upsert", err)
	}
	defer stmt.Close()

	for i, id := range snapshot.Identities {
		if _, err := stmt.ExecContext(ctx, id.ID, i, id.Name, pgvector.NewVector(id.Embedding), id.EnrolledAt.UTC()); err != nil {
			return database.Persistence(fmt.Sprintf("save identity %s", id.ID), err)
		}
	}
	return nil
}
