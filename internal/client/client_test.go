package client_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chirino/ulists/internal/client"
	"github.com/chirino/ulists/internal/model"
	"github.com/chirino/ulists/internal/reconcile"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	registrystream "github.com/chirino/ulists/internal/registry/stream"
	"github.com/chirino/ulists/internal/testutil/testserver"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *testserver.Server, token string) *client.Client {
	t.Helper()
	c, err := client.New(srv.URL, token)
	require.NoError(t, err)
	return c
}

func requireKind(t *testing.T, err error, kind client.Kind) {
	t.Helper()
	var se *client.StoreError
	require.ErrorAs(t, err, &se)
	require.Equal(t, kind, se.Kind, se.Error())
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := client.New("ftp://example.com", "alice")
	require.Error(t, err)
}

func TestListsAndItems(t *testing.T) {
	srv := testserver.New(t)
	ctx := context.Background()
	alice := newClient(t, srv, "alice")

	list, err := alice.CreateList(ctx, "Groceries")
	require.NoError(t, err)

	lists, err := alice.ListLists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	require.True(t, lists[0].Owned)

	id := uuid.New()
	milk, err := alice.CreateItem(ctx, list.ID, id, "milk")
	require.NoError(t, err)
	require.Equal(t, id, milk.ID)

	done := true
	toggled, err := alice.UpdateItem(ctx, list.ID, id, model.ItemUpdate{Completed: &done})
	require.NoError(t, err)
	require.True(t, toggled.Completed)

	items, err := alice.ListItems(ctx, list.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, items[0].Completed)

	require.NoError(t, alice.DeleteItem(ctx, list.ID, id))
	items, err = alice.ListItems(ctx, list.ID)
	require.NoError(t, err)
	require.Empty(t, items)

	renamed, err := alice.RenameList(ctx, list.ID, "Weekend")
	require.NoError(t, err)
	require.Equal(t, "Weekend", renamed.Title)

	require.NoError(t, alice.DeleteList(ctx, list.ID))
	_, err = alice.GetList(ctx, list.ID)
	requireKind(t, err, client.KindNotFound)
}

func TestErrorKinds(t *testing.T) {
	srv := testserver.New(t)
	ctx := context.Background()
	alice := newClient(t, srv, "alice")
	bob := newClient(t, srv, "bob")
	mallory := newClient(t, srv, "mallory")

	list, err := alice.CreateList(ctx, "Groceries")
	require.NoError(t, err)
	profile, err := bob.Profile(ctx)
	require.NoError(t, err)
	require.NotNil(t, profile.Handle)

	t.Run("not found wraps the typed cause", func(t *testing.T) {
		_, err := mallory.GetList(ctx, list.ID)
		requireKind(t, err, client.KindNotFound)
		var notFound *registrystore.NotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := alice.CreateItem(ctx, list.ID, uuid.Nil, "  ")
		requireKind(t, err, client.KindValidation)
		var validation *registrystore.ValidationError
		require.ErrorAs(t, err, &validation)
	})

	t.Run("duplicate grant", func(t *testing.T) {
		_, err := alice.AddCollaborator(ctx, list.ID, profile.Handle.String())
		require.NoError(t, err)
		_, err = alice.AddCollaborator(ctx, list.ID, profile.Handle.String())
		requireKind(t, err, client.KindConflict)
		var dup *registrystore.DuplicateGrantError
		require.ErrorAs(t, err, &dup)
		require.Equal(t, list.ID, dup.ListID)
	})

	t.Run("permission", func(t *testing.T) {
		_, err := bob.RenameList(ctx, list.ID, "Mine")
		requireKind(t, err, client.KindPermission)
		var forbidden *registrystore.ForbiddenError
		require.ErrorAs(t, err, &forbidden)
	})

	t.Run("conflict", func(t *testing.T) {
		id := uuid.New()
		_, err := alice.CreateItem(ctx, list.ID, id, "milk")
		require.NoError(t, err)
		_, err = bob.CreateItem(ctx, list.ID, id, "milk")
		requireKind(t, err, client.KindConflict)
		var conflict *registrystore.ConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, registrystore.ConflictItemExists, conflict.Code)
	})

	t.Run("network", func(t *testing.T) {
		offline, err := client.New("http://127.0.0.1:1", "alice")
		require.NoError(t, err)
		_, err = offline.ListLists(ctx)
		requireKind(t, err, client.KindNetwork)
	})
}

func TestSubscribe(t *testing.T) {
	srv := testserver.New(t)
	ctx := context.Background()
	alice := newClient(t, srv, "alice")
	list, err := alice.CreateList(ctx, "Groceries")
	require.NoError(t, err)

	t.Run("strangers cannot subscribe", func(t *testing.T) {
		_, err := newClient(t, srv, "mallory").Subscribe(ctx, list.ID)
		requireKind(t, err, client.KindNotFound)
	})

	t.Run("delivers events and closes cleanly", func(t *testing.T) {
		sub, err := alice.Subscribe(ctx, list.ID)
		require.NoError(t, err)

		item, err := alice.CreateItem(ctx, list.ID, uuid.Nil, "milk")
		require.NoError(t, err)
		select {
		case ev := <-sub.Events():
			require.Equal(t, model.EventInserted, ev.EventType)
			require.Equal(t, item.ID, ev.ItemID())
		case <-time.After(5 * time.Second):
			t.Fatal("no event received")
		}

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())
		drain(t, sub)
		require.NoError(t, sub.Err())
	})

	t.Run("drops surface as stream errors", func(t *testing.T) {
		sub, err := alice.Subscribe(ctx, list.ID)
		require.NoError(t, err)
		defer sub.Close()
		require.Eventually(t, func() bool { return srv.Hub.Subscribers(list.ID) == 1 }, 5*time.Second, 10*time.Millisecond)

		srv.Hub.DropAll(errors.New("restarting"))
		drain(t, sub)
		var streamErr *registrystream.StreamError
		require.ErrorAs(t, sub.Err(), &streamErr)
		require.Equal(t, list.ID, streamErr.ListID)
	})

	t.Run("context cancel ends the subscription", func(t *testing.T) {
		subCtx, cancel := context.WithCancel(ctx)
		sub, err := alice.Subscribe(subCtx, list.ID)
		require.NoError(t, err)
		cancel()
		drain(t, sub)
		require.NoError(t, sub.Err())
	})
}

// drain waits for the events channel to close.
func drain(t *testing.T, sub registrystream.Subscription) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("subscription did not end")
		}
	}
}

func TestReconcilersConvergeOverHTTP(t *testing.T) {
	srv := testserver.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alice := newClient(t, srv, "alice")
	bob := newClient(t, srv, "bob")
	list, err := alice.CreateList(ctx, "Groceries")
	require.NoError(t, err)
	profile, err := bob.Profile(ctx)
	require.NoError(t, err)
	_, err = alice.AddCollaborator(ctx, list.ID, profile.Handle.String())
	require.NoError(t, err)

	aliceView := reconcile.New(list.ID, alice)
	bobView := reconcile.New(list.ID, bob)
	require.NoError(t, aliceView.Open(ctx))
	defer aliceView.Close()
	require.NoError(t, bobView.Open(ctx))
	defer bobView.Close()
	require.NoError(t, aliceView.WaitSynced(ctx))
	require.NoError(t, bobView.WaitSynced(ctx))

	milk, err := aliceView.CreateItem(ctx, "milk")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := bobView.Item(milk.ID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, bobView.ToggleItem(ctx, milk.ID))
	_, err = bobView.CreateItem(ctx, "eggs")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, b := aliceView.Items(), bobView.Items()
		if len(a) != 2 || len(b) != 2 {
			return false
		}
		for i := range a {
			if a[i].ID != b[i].ID || a[i].Name != b[i].Name || a[i].Completed != b[i].Completed {
				return false
			}
		}
		return a[0].Completed
	}, 10*time.Second, 20*time.Millisecond)
}
