package testsqlite

import (
	"context"
	"testing"

	"github.com/chirino/ulists/internal/config"
	"github.com/chirino/ulists/internal/plugin/store/sqlite"
	registrystore "github.com/chirino/ulists/internal/registry/store"
)

// NewStore returns a ListStore backed by a private in-memory SQLite database,
// along with a context carrying its config.
func NewStore(t *testing.T) (registrystore.ListStore, context.Context) {
	t.Helper()
	_ = sqlite.ForceImport

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = ""
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	t.Cleanup(cancel)

	loader, err := registrystore.Select("sqlite")
	if err != nil {
		t.Fatalf("select sqlite store: %v", err)
	}
	store, err := loader(ctx)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return store, ctx
}
