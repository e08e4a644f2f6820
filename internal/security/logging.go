package security

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware logs one line per request. Paths in skipPaths are not
// logged. Server errors log at error level; change streams log when they end,
// so their duration is the lifetime of the connection.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"clientIP", c.ClientIP(),
		}
		if user := GetUserID(c); user != "" {
			kv = append(kv, "userId", user)
		}
		if listID := c.Param("listId"); listID != "" {
			kv = append(kv, "listId", listID)
		}
		switch {
		case status >= http.StatusInternalServerError:
			if len(c.Errors) > 0 {
				kv = append(kv, "err", c.Errors.Last().Err)
			}
			log.Error("HTTP request", kv...)
		case c.IsWebsocket():
			log.Info("Change stream closed", kv...)
		default:
			log.Info("HTTP request", kv...)
		}
	}
}
