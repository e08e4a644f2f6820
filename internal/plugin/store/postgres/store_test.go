package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chirino/ulists/internal/config"
	"github.com/chirino/ulists/internal/plugin/store/postgres"
	registrymigrate "github.com/chirino/ulists/internal/registry/migrate"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/testutil/storetest"
	"github.com/chirino/ulists/internal/testutil/testpg"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, dbURL string) (registrystore.ListStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	t.Cleanup(cancel)

	// Ensure postgres store plugin is registered
	_ = postgres.ForceImport

	// Run migrations twice; the schema must be idempotent.
	require.NoError(t, registrymigrate.RunAll(ctx, "postgres"))
	require.NoError(t, registrymigrate.RunAll(ctx, "postgres"))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)

	conn, err := pgx.Connect(ctx, dbURL)
	require.NoError(t, err)
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "TRUNCATE profiles, shopping_lists, list_collaborators, list_items CASCADE")
	require.NoError(t, err)

	return store, ctx
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a postgres container")
	}
	dbURL := testpg.StartPostgres(t)
	storetest.Run(t, func(t *testing.T) (registrystore.ListStore, context.Context) {
		return setupTestStore(t, dbURL)
	})
}

func TestUniqueViolation(t *testing.T) {
	table, ok := postgres.UniqueViolation(&pgconn.PgError{Code: "23505", TableName: "list_collaborators"})
	assert.True(t, ok)
	assert.Equal(t, "list_collaborators", table)

	_, ok = postgres.UniqueViolation(&pgconn.PgError{Code: "23503"})
	assert.False(t, ok)

	_, ok = postgres.UniqueViolation(errors.New("duplicate key"))
	assert.False(t, ok)
}
