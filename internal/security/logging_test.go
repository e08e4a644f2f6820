package security

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestAccessLogMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AccessLogMiddleware("/health"))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/v1/lists/:listId", func(c *gin.Context) {
		c.Set(ContextKeyUserID, "alice")
		c.Status(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Empty(t, buf.String())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/lists/abc", nil))
	out := buf.String()
	require.Contains(t, out, "HTTP request")
	require.Contains(t, out, "userId=alice")
	require.Contains(t, out, "listId=abc")
}
