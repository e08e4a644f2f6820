// Package redis carries change events over Redis pub/sub so that every server
// node sees the writes of every other node.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/config"
	"github.com/chirino/ulists/internal/model"
	registrystream "github.com/chirino/ulists/internal/registry/stream"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultBuffer = 256

func init() {
	registrystream.Register(registrystream.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrystream.ChangeStream, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis stream: ULISTS_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL, cfg.StreamBufferSize)
}

// LoadFromURL connects to Redis and returns a stream that is also a Publisher.
func LoadFromURL(ctx context.Context, redisURL string, buffer int) (*Stream, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis stream: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis stream: ping failed: %w", err)
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Stream{client: client, buffer: buffer}, nil
}

// Stream implements ChangeStream and Publisher on Redis pub/sub.
type Stream struct {
	client *goredis.Client
	buffer int
}

// ChannelName is the pub/sub channel carrying the changes of listID.
func ChannelName(listID uuid.UUID) string {
	return "ulists:list-items:" + listID.String()
}

func (s *Stream) Publish(ctx context.Context, ev model.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, ChannelName(ev.ListID), data).Err()
}

func (s *Stream) Subscribe(ctx context.Context, listID uuid.UUID) (registrystream.Subscription, error) {
	ps := s.client.Subscribe(ctx, ChannelName(listID))
	// Wait for the subscription to be confirmed so no publish after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis stream: subscribe failed: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	ch := registrystream.NewChannel(listID, s.buffer, cancel)
	// A blocked read only notices cancellation when the connection closes.
	go func() {
		<-loopCtx.Done()
		_ = ps.Close()
	}()
	go func() {
		defer cancel()
		for {
			// ReceiveMessage surfaces connection failures instead of silently
			// resubscribing, so the consumer knows to refetch.
			msg, err := ps.ReceiveMessage(loopCtx)
			if err != nil {
				if loopCtx.Err() != nil {
					ch.Finish(nil)
				} else {
					ch.Finish(err)
				}
				return
			}
			var ev model.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn("Ignoring malformed change event", "listId", listID, "err", err)
				continue
			}
			if err := ev.Validate(); err != nil {
				log.Warn("Ignoring invalid change event", "listId", listID, "err", err)
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

// Close releases the Redis client.
func (s *Stream) Close() error {
	err := s.client.Close()
	if errors.Is(err, goredis.ErrClosed) {
		return nil
	}
	return err
}

var (
	_ registrystream.ChangeStream = (*Stream)(nil)
	_ registrystream.Publisher    = (*Stream)(nil)
)
