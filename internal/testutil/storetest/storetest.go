// Package storetest holds behaviour tests every ListStore implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chirino/ulists/internal/model"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) (registrystore.ListStore, context.Context)

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("HandleAssignment", func(t *testing.T) { testHandleAssignment(t, newStore) })
	t.Run("HandleCollision", func(t *testing.T) { testHandleCollision(t, newStore) })
	t.Run("ListAccess", func(t *testing.T) { testListAccess(t, newStore) })
	t.Run("Grants", func(t *testing.T) { testGrants(t, newStore) })
	t.Run("Items", func(t *testing.T) { testItems(t, newStore) })
	t.Run("ConcurrentItemUpdates", func(t *testing.T) { testConcurrentItemUpdates(t, newStore) })
	t.Run("DeleteListCascades", func(t *testing.T) { testDeleteListCascades(t, newStore) })
}

func testHandleAssignment(t *testing.T, newStore Factory) {
	store, ctx := newStore(t)

	_, err := store.GetProfile(ctx, "alice")
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)

	taken, err := store.HandleTaken(ctx, 4321)
	require.NoError(t, err)
	assert.False(t, taken)

	p, err := store.AssignHandle(ctx, "alice", 4321)
	require.NoError(t, err)
	h, ok := p.AssignedHandle()
	require.True(t, ok)
	assert.Equal(t, model.Handle(4321), h)

	// A second assignment keeps the first handle.
	p, err = store.AssignHandle(ctx, "alice", 5555)
	require.NoError(t, err)
	h, _ = p.AssignedHandle()
	assert.Equal(t, model.Handle(4321), h)

	taken, err = store.HandleTaken(ctx, 4321)
	require.NoError(t, err)
	assert.True(t, taken)

	found, err := store.FindProfileByHandle(ctx, 4321)
	require.NoError(t, err)
	assert.Equal(t, "alice", found.ID)

	_, err = store.FindProfileByHandle(ctx, 5555)
	require.ErrorAs(t, err, &notFound)

	var validation *registrystore.ValidationError
	_, err = store.AssignHandle(ctx, "bob", 5)
	require.ErrorAs(t, err, &validation)
}

func testHandleCollision(t *testing.T, newStore Factory) {
	store, ctx := newStore(t)

	_, err := store.AssignHandle(ctx, "alice", 4321)
	require.NoError(t, err)

	_, err = store.AssignHandle(ctx, "bob", 4321)
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, registrystore.ConflictHandleTaken, conflict.Code)

	// bob has no handle after the failed attempt.
	_, err = store.GetProfile(ctx, "bob")
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func testListAccess(t *testing.T, newStore Factory) {
	store, ctx := newStore(t)

	_, err := store.CreateList(ctx, "alice", "   ")
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)

	older, err := store.CreateList(ctx, "alice", " Groceries ")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", older.Title)
	time.Sleep(5 * time.Millisecond)
	newer, err := store.CreateList(ctx, "alice", "Hardware")
	require.NoError(t, err)

	lists, err := store.ListLists(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.Equal(t, newer.ID, lists[0].ID)
	assert.Equal(t, older.ID, lists[1].ID)
	assert.True(t, lists[0].Owned)

	var notFound *registrystore.NotFoundError
	_, err = store.GetList(ctx, "mallory", older.ID)
	require.ErrorAs(t, err, &notFound)
	_, err = store.ListItems(ctx, "mallory", older.ID)
	require.ErrorAs(t, err, &notFound)

	lists, err = store.ListLists(ctx, "mallory")
	require.NoError(t, err)
	assert.Empty(t, lists)

	_, err = store.CreateList(ctx, "alice", strings.Repeat("x", model.MaxTextLength+1))
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "title", validation.Field)

	renamed, err := store.RenameList(ctx, "alice", older.ID, "Weekly groceries")
	require.NoError(t, err)
	assert.Equal(t, "Weekly groceries", renamed.Title)
	got, err := store.GetList(ctx, "alice", older.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly groceries", got.Title)
}

func testGrants(t *testing.T, newStore Factory) {
	store, ctx := newStore(t)

	list, err := store.CreateList(ctx, "alice", "Groceries")
	require.NoError(t, err)

	grant, err := store.AddGrant(ctx, "alice", list.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", grant.UserID)
	assert.Equal(t, list.ID, grant.ListID)

	_, err = store.AddGrant(ctx, "alice", list.ID, "bob")
	var dup *registrystore.DuplicateGrantError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "bob", dup.AccountID)
	assert.Equal(t, list.ID, dup.ListID)

	// bob now sees the list as shared, not owned.
	lists, err := store.ListLists(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.False(t, lists[0].Owned)

	_, err = store.CreateItem(ctx, "bob", list.ID, registrystore.NewItem{Name: "milk"})
	require.NoError(t, err)

	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, store.DeleteList(ctx, "bob", list.ID), &forbidden)
	_, err = store.RenameList(ctx, "bob", list.ID, "Mine")
	require.ErrorAs(t, err, &forbidden)

	_, err = store.AddGrant(ctx, "alice", list.ID, "carol")
	require.NoError(t, err)
	grants, err := store.ListGrants(ctx, "bob", list.ID)
	require.NoError(t, err)
	require.Len(t, grants, 2)

	// A collaborator may leave but not remove others.
	require.ErrorAs(t, store.RemoveGrant(ctx, "bob", list.ID, "carol"), &forbidden)
	require.NoError(t, store.RemoveGrant(ctx, "bob", list.ID, "bob"))
	var notFound *registrystore.NotFoundError
	_, err = store.GetList(ctx, "bob", list.ID)
	require.ErrorAs(t, err, &notFound)

	require.NoError(t, store.RemoveGrant(ctx, "alice", list.ID, "carol"))
	require.ErrorAs(t, store.RemoveGrant(ctx, "alice", list.ID, "carol"), &notFound)
}

func testItems(t *testing.T, newStore Factory) {
	store, ctx := newStore(t)

	list, err := store.CreateList(ctx, "alice", "Groceries")
	require.NoError(t, err)

	clientID := uuid.New()
	milk, err := store.CreateItem(ctx, "alice", list.ID, registrystore.NewItem{ID: clientID, Name: " milk "})
	require.NoError(t, err)
	assert.Equal(t, clientID, milk.ID)
	assert.Equal(t, "milk", milk.Name)
	assert.False(t, milk.Completed)

	_, err = store.CreateItem(ctx, "alice", list.ID, registrystore.NewItem{ID: clientID, Name: "milk"})
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, registrystore.ConflictItemExists, conflict.Code)

	time.Sleep(5 * time.Millisecond)
	eggs, err := store.CreateItem(ctx, "alice", list.ID, registrystore.NewItem{Name: "eggs"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, eggs.ID)

	var validation *registrystore.ValidationError
	_, err = store.CreateItem(ctx, "alice", list.ID, registrystore.NewItem{Name: ""})
	require.ErrorAs(t, err, &validation)
	_, err = store.CreateItem(ctx, "alice", list.ID, registrystore.NewItem{Name: strings.Repeat("é", model.MaxTextLength+1)})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "name", validation.Field)
	longest, err := store.CreateItem(ctx, "alice", list.ID, registrystore.NewItem{Name: strings.Repeat("é", model.MaxTextLength)})
	require.NoError(t, err)
	require.NoError(t, store.DeleteItem(ctx, "alice", list.ID, longest.ID))

	done := true
	updated, err := store.UpdateItem(ctx, "alice", list.ID, milk.ID, model.ItemUpdate{Completed: &done})
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	assert.Equal(t, "milk", updated.Name)

	// The returned row is what the database holds, including fields this
	// update did not touch.
	oat := " oat milk "
	renamed, err := store.UpdateItem(ctx, "alice", list.ID, milk.ID, model.ItemUpdate{Name: &oat})
	require.NoError(t, err)
	assert.Equal(t, "oat milk", renamed.Name)
	assert.True(t, renamed.Completed)
	fresh, err := store.ListItems(ctx, "alice", list.ID)
	require.NoError(t, err)
	require.NotEmpty(t, fresh)
	assert.Equal(t, fresh[0].ID, renamed.ID)
	assert.Equal(t, fresh[0].Name, renamed.Name)
	assert.Equal(t, fresh[0].Completed, renamed.Completed)
	assert.True(t, fresh[0].CreatedAt.Equal(renamed.CreatedAt))
	assert.Equal(t, milk.ListID, renamed.ListID)

	_, err = store.UpdateItem(ctx, "alice", list.ID, milk.ID, model.ItemUpdate{})
	require.ErrorAs(t, err, &validation)

	var notFound *registrystore.NotFoundError
	_, err = store.UpdateItem(ctx, "alice", list.ID, uuid.New(), model.ItemUpdate{Completed: &done})
	require.ErrorAs(t, err, &notFound)

	items, err := store.ListItems(ctx, "alice", list.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, milk.ID, items[0].ID)
	assert.True(t, items[0].Completed)
	assert.Equal(t, eggs.ID, items[1].ID)

	require.NoError(t, store.DeleteItem(ctx, "alice", list.ID, milk.ID))
	require.NoError(t, store.DeleteItem(ctx, "alice", list.ID, milk.ID))
	items, err = store.ListItems(ctx, "alice", list.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, eggs.ID, items[0].ID)
}

// testConcurrentItemUpdates races a rename against a toggle. Whichever commits
// last must report both changes, since that is what the row now holds.
func testConcurrentItemUpdates(t *testing.T, newStore Factory) {
	store, ctx := newStore(t)

	list, err := store.CreateList(ctx, "alice", "Groceries")
	require.NoError(t, err)

	for round := 0; round < 20; round++ {
		item, err := store.CreateItem(ctx, "alice", list.ID, registrystore.NewItem{Name: "bread"})
		require.NoError(t, err)

		name := fmt.Sprintf("rye bread %d", round)
		done := true
		var wg sync.WaitGroup
		rows := make([]*model.ListItem, 2)
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			rows[0], errs[0] = store.UpdateItem(ctx, "alice", list.ID, item.ID, model.ItemUpdate{Name: &name})
		}()
		go func() {
			defer wg.Done()
			rows[1], errs[1] = store.UpdateItem(ctx, "alice", list.ID, item.ID, model.ItemUpdate{Completed: &done})
		}()
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		both := func(row *model.ListItem) bool { return row.Name == name && row.Completed }
		require.True(t, both(rows[0]) || both(rows[1]), "round %d: rename=%+v toggle=%+v", round, *rows[0], *rows[1])
	}
}

func testDeleteListCascades(t *testing.T, newStore Factory) {
	store, ctx := newStore(t)

	list, err := store.CreateList(ctx, "alice", "Groceries")
	require.NoError(t, err)
	_, err = store.CreateItem(ctx, "alice", list.ID, registrystore.NewItem{Name: "milk"})
	require.NoError(t, err)
	_, err = store.AddGrant(ctx, "alice", list.ID, "bob")
	require.NoError(t, err)

	require.NoError(t, store.DeleteList(ctx, "alice", list.ID))

	var notFound *registrystore.NotFoundError
	_, err = store.GetList(ctx, "alice", list.ID)
	require.ErrorAs(t, err, &notFound)
	lists, err := store.ListLists(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, lists)
	assert.True(t, errors.As(store.DeleteList(ctx, "alice", list.ID), &notFound))
}
