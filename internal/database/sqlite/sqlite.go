// Package sqlite stores attendance sessions in a local SQLite file.
// All writes go through a single transaction worker.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func init() {
	database.RegisterSessionBackend(config.BackendSQLite, func(ctx context.Context, cfg *config.Config) (database.SessionStore, io.Closer, error) {
		db, err := Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		writer := NewWorker(db)
		return NewSessionStore(db, writer), closerFunc(func() error {
			writer.Close()
			return db.Close()
		}), nil
	})
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = "./data/attendance.db"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	// Per-connection PRAGMAs: foreign keys, WAL journal, NORMAL sync and a
	// busy timeout for the rare second process reading the file.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
