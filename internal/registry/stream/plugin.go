package stream

import (
	"context"
	"fmt"

	"github.com/chirino/ulists/internal/model"
	"github.com/google/uuid"
)

// Subscription delivers the row-level changes of one list.
//
// Events is closed exactly once when the subscription ends. After that Err
// returns a *StreamError if the subscription was dropped, or nil if it was
// closed by the caller or its context.
type Subscription interface {
	Events() <-chan model.ChangeEvent
	Err() error
	Close() error
}

// ChangeStream opens subscriptions to list item changes.
type ChangeStream interface {
	Subscribe(ctx context.Context, listID uuid.UUID) (Subscription, error)
}

// Publisher is implemented by streams that do not observe the database
// themselves; the store is wrapped so successful item mutations are published.
type Publisher interface {
	Publish(ctx context.Context, event model.ChangeEvent) error
}

// StreamError reports that a subscription was dropped. Consumers resubscribe
// and refetch the snapshot.
type StreamError struct {
	ListID uuid.UUID
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("change stream for list %s dropped: %v", e.ListID, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Loader creates a ChangeStream from config.
type Loader func(ctx context.Context) (ChangeStream, error)

// Plugin represents a change stream plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a change stream plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered change stream plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named change stream plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown change stream %q; valid: %v", name, Names())
}
