// Package changes serves a list's change stream over a websocket.
//
// Each event is written as one JSON text frame. The server pings every
// PingInterval and expects the peer's pong within two intervals. Close codes:
// 1000 when the peer or request context ends the stream, 1001 when the server
// shuts down, and 1013 when the underlying subscription was dropped, in which
// case the client must resubscribe and refetch.
package changes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	registrystream "github.com/chirino/ulists/internal/registry/stream"
	"github.com/chirino/ulists/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Options tunes the change stream endpoint.
type Options struct {
	PingInterval time.Duration
	// Shutdown, when closed, ends every open stream with a going-away close frame.
	Shutdown <-chan struct{}
	// CheckOrigin filters browser upgrades. Nil accepts every origin: callers
	// authenticate with a bearer token, not cookies.
	CheckOrigin func(*http.Request) bool
}

func allowAnyOrigin(*http.Request) bool { return true }

// MountRoutes mounts GET /v1/lists/:listId/changes.
func MountRoutes(r *gin.Engine, store registrystore.ListStore, stream registrystream.ChangeStream, auth gin.HandlerFunc, opts Options) {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = allowAnyOrigin
	}
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     opts.CheckOrigin,
	}
	g := r.Group("/v1", auth)
	g.GET("/lists/:listId/changes", func(c *gin.Context) {
		streamChanges(c, upgrader, store, stream, opts)
	})
}

func streamChanges(c *gin.Context, upgrader *websocket.Upgrader, store registrystore.ListStore, stream registrystream.ChangeStream, opts Options) {
	userID := security.GetUserID(c)
	listID, err := uuid.Parse(c.Param("listId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "list not found"})
		return
	}
	if _, err := store.GetList(c.Request.Context(), userID, listID); err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "internal server error"})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before upgrading so a failing backend is still reported as a
	// plain HTTP error.
	sub, err := stream.Subscribe(ctx, listID)
	if err != nil {
		log.Error("Failed to subscribe to list changes", "listId", listID, "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "unavailable", "error": "change stream unavailable"})
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug("Websocket upgrade failed", "listId", listID, "err", err)
		return
	}
	defer conn.Close()
	log.Debug("Change stream opened", "listId", listID, "userId", userID)

	// The peer never sends data frames; reading only serves to process pongs
	// and to notice when it goes away.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(2 * opts.PingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * opts.PingInterval))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			closeWith(conn, websocket.CloseNormalClosure, "")
			return
		case <-opts.Shutdown:
			closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					log.Info("Change stream dropped", "listId", listID, "userId", userID, "err", err)
					closeWith(conn, websocket.CloseTryAgainLater, "subscription dropped")
				} else {
					closeWith(conn, websocket.CloseNormalClosure, "")
				}
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("Change stream write failed", "listId", listID, "err", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
