package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/config"
	"github.com/chirino/ulists/internal/plugin/store/sqlstore"
	registrymigrate "github.com/chirino/ulists/internal/registry/migrate"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed db/schema.sql
var schemaSQL string

// ForceImport can be referenced to make sure the plugin registers itself.
var ForceImport = 0

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.ListStore, error) {
			cfg := config.FromContext(ctx)
			db, err := open(cfg.DBURL)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			sqlstore.WatchPool(ctx, sqlDB, cfg.DBMaxOpenConns)
			return sqlstore.New(db, UniqueViolation), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

func open(dbURL string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dbURL), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

// UniqueViolation recognises SQLSTATE 23505 and reports the table it was raised on.
func UniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.TableName, true
	}
	return "", false
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string      { return "postgres-schema" }
func (m *postgresMigrator) Datastore() string { return "postgres" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	db, err := open(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}
