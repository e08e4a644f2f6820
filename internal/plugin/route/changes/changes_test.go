package changes_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chirino/ulists/internal/model"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/testutil/testserver"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *testserver.Server, token, listID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/lists/" + listID + "/changes"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readEvent(t *testing.T, conn *websocket.Conn) model.ChangeEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev model.ChangeEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected a close frame, got %v", err)
		return closeErr.Code
	}
}

func TestChangeStream(t *testing.T) {
	srv := testserver.New(t)
	list, err := srv.Store.CreateList(srv.Ctx, "alice", "Groceries")
	require.NoError(t, err)

	t.Run("requires a token", func(t *testing.T) {
		_, resp, err := dial(t, srv, "", list.ID.String())
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("hidden from strangers", func(t *testing.T) {
		_, resp, err := dial(t, srv, "mallory", list.ID.String())
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("forwards item changes", func(t *testing.T) {
		conn, _, err := dial(t, srv, "alice", list.ID.String())
		require.NoError(t, err)
		require.Eventually(t, func() bool { return srv.Hub.Subscribers(list.ID) == 1 }, 5*time.Second, 10*time.Millisecond)

		item, err := srv.Store.CreateItem(srv.Ctx, "alice", list.ID, registrystore.NewItem{Name: "milk"})
		require.NoError(t, err)
		ev := readEvent(t, conn)
		require.Equal(t, model.EventInserted, ev.EventType)
		require.Equal(t, item.ID, ev.ItemID())
		require.Equal(t, "milk", ev.New.Name)

		require.NoError(t, srv.Store.DeleteItem(srv.Ctx, "alice", list.ID, item.ID))
		ev = readEvent(t, conn)
		require.Equal(t, model.EventDeleted, ev.EventType)
		require.Equal(t, item.ID, ev.ItemID())

		require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
		require.Eventually(t, func() bool { return srv.Hub.Subscribers(list.ID) == 0 }, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("dropped subscriptions close with try again later", func(t *testing.T) {
		conn, _, err := dial(t, srv, "alice", list.ID.String())
		require.NoError(t, err)
		require.Eventually(t, func() bool { return srv.Hub.Subscribers(list.ID) == 1 }, 5*time.Second, 10*time.Millisecond)

		srv.Hub.DropAll(errors.New("node restarting"))
		require.Equal(t, websocket.CloseTryAgainLater, readCloseCode(t, conn))
	})
}

func TestChangeStreamShutdown(t *testing.T) {
	shutdown := make(chan struct{})
	srv := testserver.New(t, testserver.WithShutdown(shutdown))
	list, err := srv.Store.CreateList(srv.Ctx, "alice", "Groceries")
	require.NoError(t, err)

	conn, _, err := dial(t, srv, "alice", list.ID.String())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Hub.Subscribers(list.ID) == 1 }, 5*time.Second, 10*time.Millisecond)

	close(shutdown)
	require.Equal(t, websocket.CloseGoingAway, readCloseCode(t, conn))
}

func TestChangeStreamRejectsForeignOrigin(t *testing.T) {
	srv := testserver.New(t, testserver.WithCheckOrigin(func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "https://app.example"
	}))
	list, err := srv.Store.CreateList(srv.Ctx, "alice", "Groceries")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/lists/" + list.ID.String() + "/changes"
	header := http.Header{}
	header.Set("Authorization", "Bearer alice")
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Eventually(t, func() bool { return srv.Hub.Subscribers(list.ID) == 0 }, 5*time.Second, 10*time.Millisecond)

	header.Set("Origin", "https://app.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = conn.Close()
}
