// Package sqlite registers the "sqlite" datastore, intended for single node
// deployments and tests. It has no change feed of its own, so it is paired with
// the "local" or "redis" change stream.
package sqlite

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/config"
	"github.com/chirino/ulists/internal/plugin/store/sqlstore"
	registrymigrate "github.com/chirino/ulists/internal/registry/migrate"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed db/schema.sql
var schemaSQL string

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

const memoryDSN = ":memory:"

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.ListStore, error) {
			cfg := config.FromContext(ctx)
			db, err := Open(ctx, cfg.DBURL)
			if err != nil {
				return nil, err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlstore.WatchPool(ctx, sqlDB, 1)
			return sqlstore.New(db, UniqueViolation), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

// Open opens the database at dsn with a single connection, applies the
// pragmas and, since an in-memory database only lives as long as its
// connection, the schema. An empty dsn opens an in-memory database.
func Open(ctx context.Context, dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		log.Warn("No sqlite database configured; data will not survive a restart")
		dsn = memoryDSN
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	// SQLite only supports one writer at a time.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if dsn == memoryDSN || strings.Contains(dsn, "mode=memory") {
		if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to execute schema: %w", err)
		}
	}
	return db, nil
}

// UniqueViolation recognises UNIQUE and PRIMARY KEY constraint failures and
// reports the table, parsed from "UNIQUE constraint failed: table.column".
func UniqueViolation(err error) (string, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return "", false
	}
	if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique && sqliteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return "", false
	}
	msg := sqliteErr.Error()
	if _, rest, ok := strings.Cut(msg, "constraint failed: "); ok {
		if table, _, ok := strings.Cut(rest, "."); ok {
			return table, true
		}
	}
	return "", true
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string      { return "sqlite-schema" }
func (m *sqliteMigrator) Datastore() string { return "sqlite" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg == nil || cfg.DBURL == "" || cfg.DBURL == memoryDSN {
		// Applied when the store opens.
		return nil
	}
	db, err := Open(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}
