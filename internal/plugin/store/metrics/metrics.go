package metrics

import (
	"context"
	"time"

	"github.com/chirino/ulists/internal/model"
	"github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a ListStore that records StoreLatency for every operation.
func Wrap(inner store.ListStore) store.ListStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ListStore
}

func observe(op string, start time.Time) {
	security.ObserveStoreLatency(op, start)
}

func (m *metricsStore) GetProfile(ctx context.Context, accountID string) (*model.Profile, error) {
	defer observe("get_profile", time.Now())
	return m.inner.GetProfile(ctx, accountID)
}

func (m *metricsStore) HandleTaken(ctx context.Context, handle model.Handle) (bool, error) {
	defer observe("handle_taken", time.Now())
	return m.inner.HandleTaken(ctx, handle)
}

func (m *metricsStore) AssignHandle(ctx context.Context, accountID string, handle model.Handle) (*model.Profile, error) {
	defer observe("assign_handle", time.Now())
	return m.inner.AssignHandle(ctx, accountID, handle)
}

func (m *metricsStore) FindProfileByHandle(ctx context.Context, handle model.Handle) (*model.Profile, error) {
	defer observe("find_profile_by_handle", time.Now())
	return m.inner.FindProfileByHandle(ctx, handle)
}

func (m *metricsStore) CreateList(ctx context.Context, userID string, title string) (*model.ShoppingList, error) {
	defer observe("create_list", time.Now())
	return m.inner.CreateList(ctx, userID, title)
}

func (m *metricsStore) ListLists(ctx context.Context, userID string) ([]store.ListSummary, error) {
	defer observe("list_lists", time.Now())
	return m.inner.ListLists(ctx, userID)
}

func (m *metricsStore) GetList(ctx context.Context, userID string, listID uuid.UUID) (*model.ShoppingList, error) {
	defer observe("get_list", time.Now())
	return m.inner.GetList(ctx, userID, listID)
}

func (m *metricsStore) RenameList(ctx context.Context, userID string, listID uuid.UUID, title string) (*model.ShoppingList, error) {
	defer observe("rename_list", time.Now())
	return m.inner.RenameList(ctx, userID, listID, title)
}

func (m *metricsStore) DeleteList(ctx context.Context, userID string, listID uuid.UUID) error {
	defer observe("delete_list", time.Now())
	return m.inner.DeleteList(ctx, userID, listID)
}

func (m *metricsStore) AddGrant(ctx context.Context, userID string, listID uuid.UUID, accountID string) (*model.ListCollaborator, error) {
	defer observe("add_grant", time.Now())
	return m.inner.AddGrant(ctx, userID, listID, accountID)
}

func (m *metricsStore) ListGrants(ctx context.Context, userID string, listID uuid.UUID) ([]model.ListCollaborator, error) {
	defer observe("list_grants", time.Now())
	return m.inner.ListGrants(ctx, userID, listID)
}

func (m *metricsStore) RemoveGrant(ctx context.Context, userID string, listID uuid.UUID, accountID string) error {
	defer observe("remove_grant", time.Now())
	return m.inner.RemoveGrant(ctx, userID, listID, accountID)
}

func (m *metricsStore) ListItems(ctx context.Context, userID string, listID uuid.UUID) ([]model.ListItem, error) {
	defer observe("list_items", time.Now())
	return m.inner.ListItems(ctx, userID, listID)
}

func (m *metricsStore) CreateItem(ctx context.Context, userID string, listID uuid.UUID, item store.NewItem) (*model.ListItem, error) {
	defer observe("create_item", time.Now())
	return m.inner.CreateItem(ctx, userID, listID, item)
}

func (m *metricsStore) UpdateItem(ctx context.Context, userID string, listID uuid.UUID, itemID uuid.UUID, update model.ItemUpdate) (*model.ListItem, error) {
	defer observe("update_item", time.Now())
	return m.inner.UpdateItem(ctx, userID, listID, itemID, update)
}

func (m *metricsStore) DeleteItem(ctx context.Context, userID string, listID uuid.UUID, itemID uuid.UUID) error {
	defer observe("delete_item", time.Now())
	return m.inner.DeleteItem(ctx, userID, listID, itemID)
}

var _ store.ListStore = (*metricsStore)(nil)
