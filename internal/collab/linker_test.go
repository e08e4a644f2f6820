package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chirino/ulists/internal/model"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/testutil/testsqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHandle(t *testing.T) {
	tests := []struct {
		in    string
		want  model.Handle
		valid bool
	}{
		{in: "4321", want: 4321, valid: true},
		{in: "  1000 ", want: 1000, valid: true},
		{in: "999999", want: 999999, valid: true},
		{in: "999"},
		{in: "1000000"},
		{in: "abc"},
		{in: ""},
		{in: "12.5"},
		{in: "-4321"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHandle(tt.in)
			if !tt.valid {
				var validation *registrystore.ValidationError
				require.ErrorAs(t, err, &validation)
				assert.Equal(t, "handle", validation.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type memCache struct {
	mu      sync.Mutex
	entries map[model.Handle]string
	gets    int
}

func (c *memCache) Available() bool { return true }
func (c *memCache) Get(_ context.Context, h model.Handle) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	id, ok := c.entries[h]
	return id, ok, nil
}
func (c *memCache) Set(_ context.Context, h model.Handle, id string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[h] = id
	return nil
}

func setup(t *testing.T) (registrystore.ListStore, context.Context, uuid.UUID) {
	store, ctx := testsqlite.NewStore(t)
	_, err := store.AssignHandle(ctx, "alice", 1111)
	require.NoError(t, err)
	_, err = store.AssignHandle(ctx, "bob", 4321)
	require.NoError(t, err)
	list, err := store.CreateList(ctx, "alice", "Groceries")
	require.NoError(t, err)
	return store, ctx, list.ID
}

func TestAddCollaborator(t *testing.T) {
	store, ctx, listID := setup(t)
	cache := &memCache{entries: map[model.Handle]string{}}
	linker := New(store, cache)

	grant, err := linker.AddCollaborator(ctx, "alice", listID, " 4321 ")
	require.NoError(t, err)
	assert.Equal(t, "bob", grant.UserID)
	assert.Equal(t, "bob", cache.entries[4321])

	// bob now sees the list.
	list, err := store.GetList(ctx, "bob", listID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", list.Title)

	// Second invite is a duplicate, resolved from the cache.
	_, err = linker.AddCollaborator(ctx, "alice", listID, "4321")
	var dup *registrystore.DuplicateGrantError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "bob", dup.AccountID)
	assert.Equal(t, 2, cache.gets)

	grants, err := store.ListGrants(ctx, "alice", listID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestAddCollaborator_Failures(t *testing.T) {
	store, ctx, listID := setup(t)
	linker := New(store, nil)

	var validation *registrystore.ValidationError
	_, err := linker.AddCollaborator(ctx, "alice", listID, "12")
	require.ErrorAs(t, err, &validation)

	_, err = linker.AddCollaborator(ctx, "alice", listID, "1111")
	require.ErrorAs(t, err, &validation)

	var notFound *registrystore.NotFoundError
	_, err = linker.AddCollaborator(ctx, "alice", listID, "5555")
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "profile", notFound.Resource)

	_, err = linker.AddCollaborator(ctx, "mallory", listID, "4321")
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "list", notFound.Resource)
}
