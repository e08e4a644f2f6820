package serve

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// originPolicy decides which browser origins may call the API and open
// change streams. An empty list allows every origin.
type originPolicy struct {
	any     bool
	allowed map[string]bool
}

func newOriginPolicy(originsCSV string) *originPolicy {
	p := &originPolicy{allowed: map[string]bool{}}
	for _, part := range strings.Split(originsCSV, ",") {
		if v := strings.TrimSpace(part); v != "" {
			p.allowed[v] = true
		}
	}
	p.any = len(p.allowed) == 0 || p.allowed["*"]
	return p
}

func (p *originPolicy) allows(origin string) bool {
	return p.any || p.allowed[origin]
}

// checkOrigin is the websocket upgrade check. Non-browser clients send no
// Origin header and are always accepted.
func (p *originPolicy) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	return origin == "" || p.allows(origin)
}

// middleware answers preflights and sets CORS headers. Callers authenticate
// with bearer tokens, so credentials are never allowed.
func (p *originPolicy) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if origin != "" && p.allows(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Max-Age", "600")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
