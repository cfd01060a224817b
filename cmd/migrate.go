package cmd

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/mariadb"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/database/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending schema migrations for the configured storage backends.

Migrations also run automatically when a store is opened; this command lets
them run ahead of a deploy.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	usesPostgres := cfg.Storage.SessionBackend == config.BackendPostgres ||
		cfg.Storage.GalleryBackend == config.BackendPostgres

	if usesPostgres {
		pool, err := postgres.Initialize(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		defer pool.Close()

		versions, err := pool.MigrationsApplied(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("PostgreSQL schema up to date (%d migrations)\n", len(versions))
	}

	switch cfg.Storage.SessionBackend {
	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open SQLite: %w", err)
		}
		defer db.Close()
		fmt.Printf("SQLite schema up to date (%s)\n", cfg.Storage.SQLitePath)
	case config.BackendMySQL:
		pool, err := mariadb.NewPool(ctx, cfg.Storage.MySQLDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to MariaDB: %w", err)
		}
		defer pool.Close()
		if err := pool.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		fmt.Println("MariaDB schema up to date")
	case config.BackendMemory:
		log.Info("Memory session backend has no schema")
	}

	return nil
}
