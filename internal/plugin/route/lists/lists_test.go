package lists_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/chirino/ulists/internal/model"
	"github.com/chirino/ulists/internal/testutil/testserver"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	Status int
	Body   []byte
}

func (r apiResponse) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body, v), string(r.Body))
}

func (r apiResponse) code(t *testing.T) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	r.decode(t, &body)
	return body.Code
}

func call(t *testing.T, srv *testserver.Server, token, method, path string, body any) apiResponse {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return apiResponse{Status: resp.StatusCode, Body: data}
}

func createList(t *testing.T, srv *testserver.Server, token, title string) model.ShoppingList {
	t.Helper()
	resp := call(t, srv, token, http.MethodPost, "/v1/lists", map[string]string{"title": title})
	require.Equal(t, http.StatusCreated, resp.Status, string(resp.Body))
	var list model.ShoppingList
	resp.decode(t, &list)
	return list
}

func handleOf(t *testing.T, srv *testserver.Server, token string) int {
	t.Helper()
	resp := call(t, srv, token, http.MethodGet, "/v1/profile", nil)
	require.Equal(t, http.StatusOK, resp.Status, string(resp.Body))
	var p struct {
		Handle *int `json:"handle"`
	}
	resp.decode(t, &p)
	require.NotNil(t, p.Handle)
	return *p.Handle
}

func TestRequiresBearerToken(t *testing.T) {
	srv := testserver.New(t)
	resp, err := srv.Client().Get(srv.URL + "/v1/lists")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLists(t *testing.T) {
	srv := testserver.New(t)
	list := createList(t, srv, "alice", "  Groceries ")
	require.Equal(t, "Groceries", list.Title)
	require.Equal(t, "alice", list.UserID)

	t.Run("creator can read", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodGet, "/v1/lists/"+list.ID.String(), nil)
		require.Equal(t, http.StatusOK, resp.Status)
	})

	t.Run("strangers get not found", func(t *testing.T) {
		resp := call(t, srv, "mallory", http.MethodGet, "/v1/lists/"+list.ID.String(), nil)
		require.Equal(t, http.StatusNotFound, resp.Status)
		require.Equal(t, "not_found", resp.code(t))
	})

	t.Run("malformed id is not found", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodGet, "/v1/lists/not-a-uuid", nil)
		require.Equal(t, http.StatusNotFound, resp.Status)
	})

	t.Run("blank title is rejected", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodPost, "/v1/lists", map[string]string{"title": "   "})
		require.Equal(t, http.StatusBadRequest, resp.Status)
		require.Equal(t, "validation_error", resp.code(t))
	})

	t.Run("dashboard shows owned lists", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodGet, "/v1/lists", nil)
		require.Equal(t, http.StatusOK, resp.Status)
		var body struct {
			Data []struct {
				ID    uuid.UUID `json:"id"`
				Owned bool      `json:"owned"`
			} `json:"data"`
		}
		resp.decode(t, &body)
		require.Len(t, body.Data, 1)
		require.Equal(t, list.ID, body.Data[0].ID)
		require.True(t, body.Data[0].Owned)
	})

	t.Run("rename", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodPatch, "/v1/lists/"+list.ID.String(), map[string]string{"title": "Weekend"})
		require.Equal(t, http.StatusOK, resp.Status)
		var renamed model.ShoppingList
		resp.decode(t, &renamed)
		require.Equal(t, "Weekend", renamed.Title)
	})

	t.Run("delete", func(t *testing.T) {
		doomed := createList(t, srv, "alice", "Doomed")
		resp := call(t, srv, "alice", http.MethodDelete, "/v1/lists/"+doomed.ID.String(), nil)
		require.Equal(t, http.StatusNoContent, resp.Status)
		resp = call(t, srv, "alice", http.MethodGet, "/v1/lists/"+doomed.ID.String(), nil)
		require.Equal(t, http.StatusNotFound, resp.Status)
	})
}

func TestItems(t *testing.T) {
	srv := testserver.New(t)
	list := createList(t, srv, "alice", "Groceries")
	itemsPath := "/v1/lists/" + list.ID.String() + "/items"

	id := uuid.New()
	resp := call(t, srv, "alice", http.MethodPost, itemsPath, map[string]any{"id": id, "name": "milk"})
	require.Equal(t, http.StatusCreated, resp.Status, string(resp.Body))
	var milk model.ListItem
	resp.decode(t, &milk)
	require.Equal(t, id, milk.ID)
	require.Equal(t, list.ID, milk.ListID)
	require.False(t, milk.Completed)

	t.Run("duplicate id conflicts", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodPost, itemsPath, map[string]any{"id": id, "name": "milk again"})
		require.Equal(t, http.StatusConflict, resp.Status)
		require.Equal(t, "item_exists", resp.code(t))
	})

	t.Run("server picks an id when none is sent", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodPost, itemsPath, map[string]any{"name": "eggs"})
		require.Equal(t, http.StatusCreated, resp.Status)
		var eggs model.ListItem
		resp.decode(t, &eggs)
		require.NotEqual(t, uuid.Nil, eggs.ID)
	})

	t.Run("snapshot is in creation order", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodGet, itemsPath, nil)
		require.Equal(t, http.StatusOK, resp.Status)
		var body struct {
			Data []model.ListItem `json:"data"`
		}
		resp.decode(t, &body)
		require.Len(t, body.Data, 2)
		require.Equal(t, "milk", body.Data[0].Name)
		require.Equal(t, "eggs", body.Data[1].Name)
	})

	t.Run("update needs a field", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodPatch, itemsPath+"/"+id.String(), map[string]any{})
		require.Equal(t, http.StatusBadRequest, resp.Status)
	})

	t.Run("overlong names are rejected", func(t *testing.T) {
		long := strings.Repeat("a", model.MaxTextLength+1)
		resp := call(t, srv, "alice", http.MethodPost, itemsPath, map[string]any{"name": long})
		require.Equal(t, http.StatusBadRequest, resp.Status)
		resp = call(t, srv, "alice", http.MethodPatch, itemsPath+"/"+id.String(), map[string]any{"name": long})
		require.Equal(t, http.StatusBadRequest, resp.Status)
	})

	t.Run("toggle", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodPatch, itemsPath+"/"+id.String(), map[string]any{"completed": true})
		require.Equal(t, http.StatusOK, resp.Status)
		var updated model.ListItem
		resp.decode(t, &updated)
		require.True(t, updated.Completed)
		require.Equal(t, "milk", updated.Name)
	})

	t.Run("update of a missing item", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodPatch, itemsPath+"/"+uuid.NewString(), map[string]any{"name": "x"})
		require.Equal(t, http.StatusNotFound, resp.Status)
	})

	t.Run("strangers cannot add", func(t *testing.T) {
		resp := call(t, srv, "mallory", http.MethodPost, itemsPath, map[string]any{"name": "bread"})
		require.Equal(t, http.StatusNotFound, resp.Status)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			resp := call(t, srv, "alice", http.MethodDelete, itemsPath+"/"+id.String(), nil)
			require.Equal(t, http.StatusNoContent, resp.Status)
		}
	})
}

func TestCollaborators(t *testing.T) {
	srv := testserver.New(t)
	list := createList(t, srv, "alice", "Groceries")
	path := "/v1/lists/" + list.ID.String() + "/collaborators"
	bob := handleOf(t, srv, "bob")
	alice := handleOf(t, srv, "alice")

	t.Run("add by handle", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodPost, path, map[string]string{"handle": fmt.Sprintf(" %d ", bob)})
		require.Equal(t, http.StatusCreated, resp.Status, string(resp.Body))
		var grant model.ListCollaborator
		resp.decode(t, &grant)
		require.Equal(t, "bob", grant.UserID)
		require.Equal(t, list.ID, grant.ListID)
	})

	t.Run("collaborator sees the list", func(t *testing.T) {
		resp := call(t, srv, "bob", http.MethodGet, "/v1/lists", nil)
		require.Equal(t, http.StatusOK, resp.Status)
		var body struct {
			Data []struct {
				ID    uuid.UUID `json:"id"`
				Owned bool      `json:"owned"`
			} `json:"data"`
		}
		resp.decode(t, &body)
		require.Len(t, body.Data, 1)
		require.False(t, body.Data[0].Owned)
	})

	t.Run("duplicate grant", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodPost, path, map[string]any{"handle": bob})
		require.Equal(t, http.StatusConflict, resp.Status)
		require.Equal(t, "duplicate_grant", resp.code(t))
	})

	t.Run("malformed handles", func(t *testing.T) {
		for _, h := range []any{"", "abc", "999", "1000000", 12.5, nil} {
			resp := call(t, srv, "alice", http.MethodPost, path, map[string]any{"handle": h})
			require.Equal(t, http.StatusBadRequest, resp.Status, "handle %v", h)
		}
	})

	t.Run("unknown handle", func(t *testing.T) {
		unknown := model.MinHandle
		for int(unknown) == bob || int(unknown) == alice {
			unknown++
		}
		resp := call(t, srv, "alice", http.MethodPost, path, map[string]string{"handle": unknown.String()})
		require.Equal(t, http.StatusNotFound, resp.Status)
	})

	t.Run("creator cannot be invited", func(t *testing.T) {
		resp := call(t, srv, "alice", http.MethodPost, path, map[string]any{"handle": alice})
		require.Equal(t, http.StatusBadRequest, resp.Status)
	})

	t.Run("collaborators cannot rename", func(t *testing.T) {
		resp := call(t, srv, "bob", http.MethodPatch, "/v1/lists/"+list.ID.String(), map[string]string{"title": "Mine"})
		require.Equal(t, http.StatusForbidden, resp.Status)
		require.Equal(t, "forbidden", resp.code(t))
	})

	t.Run("listing", func(t *testing.T) {
		resp := call(t, srv, "bob", http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, resp.Status)
		var body struct {
			Data []model.ListCollaborator `json:"data"`
		}
		resp.decode(t, &body)
		require.Len(t, body.Data, 1)
	})

	t.Run("collaborator leaves", func(t *testing.T) {
		resp := call(t, srv, "bob", http.MethodDelete, path+"/bob", nil)
		require.Equal(t, http.StatusNoContent, resp.Status)
		resp = call(t, srv, "bob", http.MethodGet, "/v1/lists/"+list.ID.String(), nil)
		require.Equal(t, http.StatusNotFound, resp.Status)
	})
}
