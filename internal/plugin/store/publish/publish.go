// Package publish decorates a ListStore so that every successful item
// mutation is announced on a change stream Publisher. It is used with streams
// that do not observe the database themselves.
package publish

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/model"
	"github.com/chirino/ulists/internal/registry/store"
	registrystream "github.com/chirino/ulists/internal/registry/stream"
	"github.com/google/uuid"
)

// Wrap returns a ListStore that publishes item changes to pub.
func Wrap(inner store.ListStore, pub registrystream.Publisher) store.ListStore {
	return &publishingStore{ListStore: inner, pub: pub}
}

type publishingStore struct {
	store.ListStore
	pub registrystream.Publisher
}

// publish is best effort: the write already committed, and subscribers that
// miss an event recover on their next snapshot.
func (p *publishingStore) publish(ctx context.Context, ev model.ChangeEvent) {
	if err := p.pub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn("Failed to publish change event", "listId", ev.ListID, "itemId", ev.ItemID(), "eventType", ev.EventType, "err", err)
	}
}

func (p *publishingStore) CreateItem(ctx context.Context, userID string, listID uuid.UUID, item store.NewItem) (*model.ListItem, error) {
	created, err := p.ListStore.CreateItem(ctx, userID, listID, item)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, model.Inserted(*created))
	return created, nil
}

func (p *publishingStore) UpdateItem(ctx context.Context, userID string, listID uuid.UUID, itemID uuid.UUID, update model.ItemUpdate) (*model.ListItem, error) {
	updated, err := p.ListStore.UpdateItem(ctx, userID, listID, itemID, update)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, model.Updated(*updated))
	return updated, nil
}

func (p *publishingStore) DeleteItem(ctx context.Context, userID string, listID uuid.UUID, itemID uuid.UUID) error {
	if err := p.ListStore.DeleteItem(ctx, userID, listID, itemID); err != nil {
		return err
	}
	p.publish(ctx, model.Deleted(listID, itemID))
	return nil
}

// DeleteList announces a DELETE for every item the cascade removes.
func (p *publishingStore) DeleteList(ctx context.Context, userID string, listID uuid.UUID) error {
	items, err := p.ListStore.ListItems(ctx, userID, listID)
	if err != nil {
		return err
	}
	if err := p.ListStore.DeleteList(ctx, userID, listID); err != nil {
		return err
	}
	for _, item := range items {
		p.publish(ctx, model.Deleted(listID, item.ID))
	}
	return nil
}
