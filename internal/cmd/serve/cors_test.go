package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestOriginPolicy(t *testing.T) {
	open := newOriginPolicy(" ")
	require.True(t, open.allows("https://anywhere.example"))

	p := newOriginPolicy("https://app.example, https://admin.example")
	require.True(t, p.allows("https://admin.example"))
	require.False(t, p.allows("https://evil.example"))

	req := httptest.NewRequest(http.MethodGet, "/v1/lists/x/changes", nil)
	require.True(t, p.checkOrigin(req), "requests without Origin come from non-browser clients")
	req.Header.Set("Origin", "https://evil.example")
	require.False(t, p.checkOrigin(req))
}

func TestOriginPolicyMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(newOriginPolicy("https://app.example").middleware())
	router.GET("/v1/lists", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/lists", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/lists", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
