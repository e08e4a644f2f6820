package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/model"
	registrystream "github.com/chirino/ulists/internal/registry/stream"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Subscribe opens the list's change stream. The subscription ends with a nil
// Err when Close is called or ctx ends, and with a *registrystream.StreamError
// when the server or the connection drops it.
func (c *Client) Subscribe(ctx context.Context, listID uuid.UUID) (registrystream.Subscription, error) {
	const op = "subscribe"
	u := *c.baseURL.JoinPath(listPath(listID)...).JoinPath("changes")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			body, _ := io.ReadAll(resp.Body)
			return nil, statusError(op, resp.StatusCode, body, listID, "list", listID.String())
		}
		return nil, networkError(op, fmt.Errorf("failed to dial change stream: %w", err))
	}

	ch := registrystream.NewChannel(listID, c.streamBuffer, func() { _ = conn.Close() })
	go func() {
		select {
		case <-ctx.Done():
			_ = ch.Close()
		case <-ch.Done():
		}
	}()
	go c.readEvents(ctx, conn, ch)
	return ch, nil
}

func (c *Client) readEvents(ctx context.Context, conn *websocket.Conn, ch *registrystream.Channel) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.Done():
				ch.Finish(nil)
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				ch.Finish(nil)
			} else {
				ch.Finish(err)
			}
			return
		}
		var ev model.ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn("Ignoring undecodable change event", "listId", ch.ListID(), "err", err)
			continue
		}
		if err := ev.Validate(); err != nil {
			log.Warn("Ignoring malformed change event", "listId", ch.ListID(), "err", err)
			continue
		}
		if !ch.Send(ctx, ev) {
			ch.Finish(nil)
			return
		}
	}
}
