package sqlite_test

import (
	"context"
	"testing"

	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/testutil/storetest"
	"github.com/chirino/ulists/internal/testutil/testsqlite"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (registrystore.ListStore, context.Context) {
		return testsqlite.NewStore(t)
	})
}

func TestSQLiteStore_Names(t *testing.T) {
	_, _ = testsqlite.NewStore(t)
	require.Contains(t, registrystore.Names(), "sqlite")
}
