package store

import (
	"context"
	"fmt"

	"github.com/chirino/ulists/internal/model"
	"github.com/google/uuid"
)

// ListSummary is a list as shown on the caller's dashboard.
type ListSummary struct {
	model.ShoppingList
	// Owned is true when the caller created the list, false when it was shared with them.
	Owned bool `json:"owned"`
}

// NewItem describes an item to insert. A zero ID lets the store generate one;
// clients supply their own so the stream echo matches the optimistic row.
type NewItem struct {
	ID   uuid.UUID
	Name string
}

// ListStore is the durable store behind the shopping list service.
// Every list-scoped operation takes the caller's account id and fails with
// NotFoundError when the caller is neither the creator nor a collaborator.
type ListStore interface {
	// Profiles
	GetProfile(ctx context.Context, accountID string) (*model.Profile, error)
	HandleTaken(ctx context.Context, handle model.Handle) (bool, error)
	// AssignHandle sets the account's handle unless one is already stored, and
	// returns the stored profile. A handle owned by another account yields a
	// ConflictError with Code ConflictHandleTaken.
	AssignHandle(ctx context.Context, accountID string, handle model.Handle) (*model.Profile, error)
	FindProfileByHandle(ctx context.Context, handle model.Handle) (*model.Profile, error)

	// Lists
	CreateList(ctx context.Context, userID string, title string) (*model.ShoppingList, error)
	ListLists(ctx context.Context, userID string) ([]ListSummary, error)
	GetList(ctx context.Context, userID string, listID uuid.UUID) (*model.ShoppingList, error)
	RenameList(ctx context.Context, userID string, listID uuid.UUID, title string) (*model.ShoppingList, error)
	DeleteList(ctx context.Context, userID string, listID uuid.UUID) error

	// Collaborators
	AddGrant(ctx context.Context, userID string, listID uuid.UUID, accountID string) (*model.ListCollaborator, error)
	ListGrants(ctx context.Context, userID string, listID uuid.UUID) ([]model.ListCollaborator, error)
	RemoveGrant(ctx context.Context, userID string, listID uuid.UUID, accountID string) error

	// Items
	ListItems(ctx context.Context, userID string, listID uuid.UUID) ([]model.ListItem, error)
	CreateItem(ctx context.Context, userID string, listID uuid.UUID, item NewItem) (*model.ListItem, error)
	UpdateItem(ctx context.Context, userID string, listID uuid.UUID, itemID uuid.UUID, update model.ItemUpdate) (*model.ListItem, error)
	DeleteItem(ctx context.Context, userID string, listID uuid.UUID, itemID uuid.UUID) error
}

// Loader creates a ListStore from config.
type Loader func(ctx context.Context) (ListStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
