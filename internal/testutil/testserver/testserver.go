// Package testserver runs the ulists HTTP API in-process on an in-memory
// SQLite store and the local change hub.
package testserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/ulists/internal/collab"
	"github.com/chirino/ulists/internal/config"
	"github.com/chirino/ulists/internal/identity"
	"github.com/chirino/ulists/internal/plugin/route/changes"
	"github.com/chirino/ulists/internal/plugin/route/lists"
	"github.com/chirino/ulists/internal/plugin/route/profile"
	"github.com/chirino/ulists/internal/plugin/store/publish"
	"github.com/chirino/ulists/internal/plugin/stream/local"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/security"
	"github.com/chirino/ulists/internal/testutil/testsqlite"
	"github.com/gin-gonic/gin"
)

// Server is a running test API. Bearer tokens are used verbatim as account ids.
type Server struct {
	*httptest.Server
	Store registrystore.ListStore
	Hub   *local.Hub
	Ctx   context.Context
}

// Option adjusts the server before it starts.
type Option func(*options)

type options struct {
	pingInterval time.Duration
	buffer       int
	shutdown     <-chan struct{}
	checkOrigin  func(*http.Request) bool
}

// WithPingInterval sets the websocket ping interval.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

// WithStreamBuffer sets the hub's per-subscription buffer.
func WithStreamBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}

// WithShutdown ends open change streams when ch is closed.
func WithShutdown(ch <-chan struct{}) Option {
	return func(o *options) { o.shutdown = ch }
}

// WithCheckOrigin filters websocket upgrades by origin.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(o *options) { o.checkOrigin = fn }
}

// New starts a server that is closed when the test ends.
func New(t *testing.T, opts ...Option) *Server {
	t.Helper()
	o := options{pingInterval: time.Second, buffer: 64}
	for _, opt := range opts {
		opt(&o)
	}

	store, ctx := testsqlite.NewStore(t)
	hub := local.NewHub(o.buffer)
	store = publish.Wrap(store, hub)

	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.HandleRetryDelay = time.Millisecond
	auth := security.AuthMiddleware(security.NewTokenResolver(&cfg))

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())
	profile.MountRoutes(router, identity.NewFromConfig(store, &cfg), auth)
	lists.MountRoutes(router, store, collab.New(store, nil), auth)
	changes.MountRoutes(router, store, hub, auth, changes.Options{
		PingInterval: o.pingInterval,
		Shutdown:     o.shutdown,
		CheckOrigin:  o.checkOrigin,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &Server{Server: srv, Store: store, Hub: hub, Ctx: ctx}
}
