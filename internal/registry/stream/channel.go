package stream

import (
	"context"
	"sync"

	"github.com/chirino/ulists/internal/model"
	"github.com/chirino/ulists/internal/security"
	"github.com/google/uuid"
)

// Channel is a Subscription fed by a producer. Send, TrySend and Finish must
// not be called concurrently with each other; Close may be called from anywhere.
type Channel struct {
	listID  uuid.UUID
	events  chan model.ChangeEvent
	done    chan struct{}
	onClose func()

	closeOnce  sync.Once
	finishOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewChannel returns a Channel buffering up to buffer events. onClose, if not
// nil, runs once when the consumer calls Close; it should make the producer
// call Finish.
func NewChannel(listID uuid.UUID, buffer int, onClose func()) *Channel {
	if buffer < 0 {
		buffer = 0
	}
	security.TrackStreamSubscription(1)
	return &Channel{
		listID:  listID,
		events:  make(chan model.ChangeEvent, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// ListID returns the list the subscription is for.
func (c *Channel) ListID() uuid.UUID { return c.listID }

func (c *Channel) Events() <-chan model.ChangeEvent { return c.events }

// Done is closed once the consumer calls Close.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Send delivers ev, waiting for buffer space. It returns false if ctx ends or
// the consumer closed the subscription first.
func (c *Channel) Send(ctx context.Context, ev model.ChangeEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// TrySend delivers ev only if there is buffer space.
func (c *Channel) TrySend(ev model.ChangeEvent) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// Finish ends the subscription. A non-nil cause is reported by Err as a
// *StreamError. Only the first call has any effect.
func (c *Channel) Finish(cause error) {
	c.finishOnce.Do(func() {
		if cause != nil {
			c.mu.Lock()
			c.err = &StreamError{ListID: c.listID, Err: cause}
			c.mu.Unlock()
			security.RecordStreamDrop()
		}
		security.TrackStreamSubscription(-1)
		close(c.events)
	})
}

func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops the subscription. It is idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

var _ Subscription = (*Channel)(nil)
