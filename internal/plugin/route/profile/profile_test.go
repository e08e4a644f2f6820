package profile_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/ulists/internal/identity"
	"github.com/chirino/ulists/internal/model"
	"github.com/chirino/ulists/internal/plugin/route/profile"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/security"
	"github.com/chirino/ulists/internal/testutil/testserver"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type profileBody struct {
	AccountID string `json:"accountId"`
	Handle    *int   `json:"handle"`
}

func getProfile(t *testing.T, url, token string) (int, profileBody) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url+"/v1/profile", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body profileBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestProfileAssignsStableHandle(t *testing.T) {
	srv := testserver.New(t)

	status, first := getProfile(t, srv.URL, "alice")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "alice", first.AccountID)
	require.NotNil(t, first.Handle)
	require.True(t, model.Handle(*first.Handle).Valid())

	_, second := getProfile(t, srv.URL, "alice")
	require.Equal(t, *first.Handle, *second.Handle)

	_, other := getProfile(t, srv.URL, "bob")
	require.NotEqual(t, *first.Handle, *other.Handle)
}

// brokenStore fails every handle assignment.
type brokenStore struct {
	registrystore.ListStore
}

func (brokenStore) GetProfile(_ context.Context, accountID string) (*model.Profile, error) {
	return nil, &registrystore.NotFoundError{Resource: "profile", ID: accountID}
}

func (brokenStore) HandleTaken(context.Context, model.Handle) (bool, error) {
	return false, nil
}

func (brokenStore) AssignHandle(context.Context, string, model.Handle) (*model.Profile, error) {
	return nil, errors.New("database is read only")
}

func TestProfileWithoutHandle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	auth := func(c *gin.Context) {
		c.Set(security.ContextKeyUserID, "alice")
		c.Next()
	}
	registry := identity.New(brokenStore{}, identity.WithMaxAttempts(2), identity.WithRetryDelay(0))
	profile.MountRoutes(router, registry, auth)

	req := httptest.NewRequest(http.MethodGet, "/v1/profile", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"accountId":"alice","handle":null}`, rec.Body.String())
}
