package reconcile

import (
	"context"

	"github.com/chirino/ulists/internal/model"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	registrystream "github.com/chirino/ulists/internal/registry/stream"
	"github.com/google/uuid"
)

// ForUser adapts a server side store and change stream into a Backend acting
// as userID.
func ForUser(store registrystore.ListStore, stream registrystream.ChangeStream, userID string) Backend {
	return &storeBackend{store: store, stream: stream, userID: userID}
}

type storeBackend struct {
	store  registrystore.ListStore
	stream registrystream.ChangeStream
	userID string
}

func (b *storeBackend) ListItems(ctx context.Context, listID uuid.UUID) ([]model.ListItem, error) {
	return b.store.ListItems(ctx, b.userID, listID)
}

func (b *storeBackend) CreateItem(ctx context.Context, listID uuid.UUID, id uuid.UUID, name string) (*model.ListItem, error) {
	return b.store.CreateItem(ctx, b.userID, listID, registrystore.NewItem{ID: id, Name: name})
}

func (b *storeBackend) UpdateItem(ctx context.Context, listID uuid.UUID, itemID uuid.UUID, update model.ItemUpdate) (*model.ListItem, error) {
	return b.store.UpdateItem(ctx, b.userID, listID, itemID, update)
}

func (b *storeBackend) DeleteItem(ctx context.Context, listID uuid.UUID, itemID uuid.UUID) error {
	return b.store.DeleteItem(ctx, b.userID, listID, itemID)
}

// Subscribe only opens the stream for callers who can see the list.
func (b *storeBackend) Subscribe(ctx context.Context, listID uuid.UUID) (registrystream.Subscription, error) {
	if _, err := b.store.GetList(ctx, b.userID, listID); err != nil {
		return nil, err
	}
	return b.stream.Subscribe(ctx, listID)
}
