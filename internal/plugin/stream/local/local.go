// Package local provides an in-process change stream. It only sees changes
// made through this process, which is enough for single node deployments.
package local

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/config"
	"github.com/chirino/ulists/internal/model"
	registrystream "github.com/chirino/ulists/internal/registry/stream"
	"github.com/google/uuid"
)

// ErrSlowSubscriber ends a subscription whose buffer filled up. Dropping it
// forces the consumer to resync rather than blocking every writer.
var ErrSlowSubscriber = errors.New("subscriber fell behind")

const defaultBuffer = 256

func init() {
	registrystream.Register(registrystream.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrystream.ChangeStream, error) {
			buffer := defaultBuffer
			if cfg := config.FromContext(ctx); cfg != nil && cfg.StreamBufferSize > 0 {
				buffer = cfg.StreamBufferSize
			}
			return NewHub(buffer), nil
		},
	})
}

// Hub fans published events out to the subscribers of each list.
type Hub struct {
	buffer int

	mu   sync.Mutex
	subs map[uuid.UUID]map[*registrystream.Channel]struct{}
}

// NewHub returns a Hub giving each subscription buffer events of slack.
func NewHub(buffer int) *Hub {
	return &Hub{
		buffer: buffer,
		subs:   map[uuid.UUID]map[*registrystream.Channel]struct{}{},
	}
}

func (h *Hub) Subscribe(ctx context.Context, listID uuid.UUID) (registrystream.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ch *registrystream.Channel
	ch = registrystream.NewChannel(listID, h.buffer, func() { h.remove(listID, ch, nil) })

	h.mu.Lock()
	if h.subs[listID] == nil {
		h.subs[listID] = map[*registrystream.Channel]struct{}{}
	}
	h.subs[listID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = ch.Close()
		case <-ch.Done():
		}
	}()
	return ch, nil
}

func (h *Hub) Publish(_ context.Context, ev model.ChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.ListID] {
		if !ch.TrySend(ev) {
			log.Warn("Dropping slow change stream subscriber", "listId", ev.ListID)
			h.removeLocked(ev.ListID, ch, ErrSlowSubscriber)
		}
	}
	return nil
}

// DropAll ends every open subscription with cause, prompting consumers to
// resync. The hub stays usable.
func (h *Hub) DropAll(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for listID, subs := range h.subs {
		for ch := range subs {
			h.removeLocked(listID, ch, cause)
		}
	}
}

// Subscribers returns the number of open subscriptions for listID.
func (h *Hub) Subscribers(listID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[listID])
}

func (h *Hub) remove(listID uuid.UUID, ch *registrystream.Channel, cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(listID, ch, cause)
}

func (h *Hub) removeLocked(listID uuid.UUID, ch *registrystream.Channel, cause error) {
	subs := h.subs[listID]
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(h.subs, listID)
	}
	ch.Finish(cause)
}

var (
	_ registrystream.ChangeStream = (*Hub)(nil)
	_ registrystream.Publisher    = (*Hub)(nil)
)
