// Package pgnotify streams list item changes from the postgres row trigger
// installed by the postgres store schema. Each subscription holds its own
// connection, LISTENing on the list's channel.
package pgnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/config"
	"github.com/chirino/ulists/internal/model"
	registrystream "github.com/chirino/ulists/internal/registry/stream"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const defaultBuffer = 256

func init() {
	registrystream.Register(registrystream.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystream.ChangeStream, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("postgres stream: ULISTS_DB_URL is required")
			}
			return New(cfg.DBURL, cfg.StreamBufferSize), nil
		},
	})
}

// Stream implements ChangeStream with LISTEN/NOTIFY.
type Stream struct {
	dbURL  string
	buffer int
}

// New returns a Stream connecting to dbURL for every subscription.
func New(dbURL string, buffer int) *Stream {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Stream{dbURL: dbURL, buffer: buffer}
}

// ChannelName is the notification channel the trigger uses for listID.
func ChannelName(listID uuid.UUID) string {
	return "list_items_" + strings.ReplaceAll(listID.String(), "-", "")
}

func (s *Stream) Subscribe(ctx context.Context, listID uuid.UUID) (registrystream.Subscription, error) {
	conn, err := pgx.Connect(ctx, s.dbURL)
	if err != nil {
		return nil, fmt.Errorf("postgres stream: connect failed: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChannelName(listID)}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("postgres stream: listen failed: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	ch := registrystream.NewChannel(listID, s.buffer, cancel)
	go func() {
		defer cancel()
		defer conn.Close(context.Background())
		for {
			n, err := conn.WaitForNotification(loopCtx)
			if err != nil {
				if loopCtx.Err() != nil {
					ch.Finish(nil)
				} else {
					ch.Finish(err)
				}
				return
			}
			var ev model.ChangeEvent
			if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
				log.Warn("Ignoring malformed change notification", "listId", listID, "err", err)
				continue
			}
			if err := ev.Validate(); err != nil {
				log.Warn("Ignoring invalid change notification", "listId", listID, "err", err)
				continue
			}
			if !ch.Send(loopCtx, ev) {
				ch.Finish(nil)
				return
			}
		}
	}()
	return ch, nil
}

var _ registrystream.ChangeStream = (*Stream)(nil)
