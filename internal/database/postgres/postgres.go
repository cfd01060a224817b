// Package postgres stores the gallery (as pgvector columns) and attendance
// sessions in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func init() {
	database.RegisterSessionBackend(config.BackendPostgres, func(ctx context.Context, cfg *config.Config) (database.SessionStore, io.Closer, error) {
		pool, err := sharedPool(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return NewSessionStore(pool), pool, nil
	})
	database.RegisterGalleryBackend(config.BackendPostgres, func(ctx context.Context, cfg *config.Config) (database.GalleryStore, io.Closer, error) {
		pool, err := sharedPool(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return NewGalleryStore(pool), pool, nil
	})
}

// Pool manages a PostgreSQL connection pool.
type Pool struct {
	db        *sql.DB
	closeOnce sync.Once
	closeErr  error
}

var (
	globalPool *Pool
	poolMu     sync.RWMutex
)

// NewPool creates a new PostgreSQL connection pool.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool. Only the first call has an effect, so
// the session and gallery stores can both own the shared pool.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		if p.db != nil {
			if err := p.db.Close(); err != nil {
				p.closeErr = fmt.Errorf("closing database connection: %w", err)
			}
		}
		poolMu.Lock()
		if globalPool == p {
			globalPool = nil
		}
		poolMu.Unlock()
	})
	return p.closeErr
}

// SetGlobalPool sets the pool shared by the registered backends.
func SetGlobalPool(p *Pool) {
	poolMu.Lock()
	defer poolMu.Unlock()
	globalPool = p
}

// GetGlobalPool returns the global pool instance.
func GetGlobalPool() *Pool {
	poolMu.RLock()
	defer poolMu.RUnlock()
	return globalPool
}

// QueryRow executes a query that returns a single row.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

// Query executes a query that returns rows.
func (p *Pool) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return rows, nil
}

// Exec executes a query that doesn't return rows.
func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing statement: %w", err)
	}
	return result, nil
}

// BeginTx starts a transaction.
func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return tx, nil
}

// Initialize connects, runs migrations and installs the pool as the global one.
func Initialize(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	SetGlobalPool(pool)
	return pool, nil
}

var initMu sync.Mutex

// sharedPool returns the global pool, initializing it on first use.
func sharedPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if pool := GetGlobalPool(); pool != nil {
		return pool, nil
	}
	return Initialize(ctx, cfg)
}
