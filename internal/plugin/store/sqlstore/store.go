// Package sqlstore implements the ListStore on top of GORM. The postgres and
// sqlite plugins share it and only differ in how they open the database and
// recognise unique constraint violations.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/model"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/security"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UniqueViolation reports whether err is a unique constraint violation and, if
// so, the table it happened on.
type UniqueViolation func(err error) (table string, ok bool)

// Store implements registrystore.ListStore.
type Store struct {
	db              *gorm.DB
	uniqueViolation UniqueViolation
}

// New returns a Store using db. uniqueViolation must recognise the driver's
// unique constraint errors.
func New(db *gorm.DB, uniqueViolation UniqueViolation) *Store {
	return &Store{db: db, uniqueViolation: uniqueViolation}
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WatchPool periodically publishes the pool's open connection count until ctx is done.
func WatchPool(ctx context.Context, sqlDB *sql.DB, maxOpen int) {
	if security.DBPoolMaxConnections != nil {
		security.DBPoolMaxConnections.Set(float64(maxOpen))
	}
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if security.DBPoolOpenConnections != nil {
					security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()
}

// now is truncated to microseconds so returned rows match what postgres stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *Store) isUniqueViolation(err error, table string) bool {
	if s.uniqueViolation == nil {
		return false
	}
	got, ok := s.uniqueViolation(err)
	return ok && (got == "" || got == table)
}

func requireText(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", &registrystore.ValidationError{Field: field, Message: "must not be empty"}
	}
	if model.TextTooLong(value) {
		return "", &registrystore.ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters", model.MaxTextLength)}
	}
	return value, nil
}

// --- Profiles ---

func (s *Store) GetProfile(ctx context.Context, accountID string) (*model.Profile, error) {
	var p model.Profile
	result := s.db.WithContext(ctx).Where("id = ?", accountID).Limit(1).Find(&p)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get profile: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "profile", ID: accountID}
	}
	return &p, nil
}

func (s *Store) HandleTaken(ctx context.Context, handle model.Handle) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Profile{}).Where("handle = ?", int(handle)).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check handle: %w", err)
	}
	return count > 0, nil
}

func (s *Store) AssignHandle(ctx context.Context, accountID string, handle model.Handle) (*model.Profile, error) {
	if !handle.Valid() {
		return nil, &registrystore.ValidationError{Field: "handle", Message: fmt.Sprintf("must be between %d and %d", model.MinHandle, model.MaxHandle)}
	}
	// A profile that already has a handle keeps it; the caller reads back the stored value.
	err := s.db.WithContext(ctx).Exec(`
		INSERT INTO profiles (id, handle, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET handle = excluded.handle
		WHERE profiles.handle IS NULL`,
		accountID, int(handle), now()).Error
	if err != nil {
		if s.isUniqueViolation(err, "profiles") {
			return nil, &registrystore.ConflictError{
				Message: fmt.Sprintf("handle %d is already taken", handle),
				Code:    registrystore.ConflictHandleTaken,
				Details: map[string]interface{}{"handle": int(handle)},
			}
		}
		return nil, fmt.Errorf("failed to assign handle: %w", err)
	}
	return s.GetProfile(ctx, accountID)
}

func (s *Store) FindProfileByHandle(ctx context.Context, handle model.Handle) (*model.Profile, error) {
	var p model.Profile
	result := s.db.WithContext(ctx).Where("handle = ?", int(handle)).Limit(1).Find(&p)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find profile: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "profile", ID: handle.String()}
	}
	return &p, nil
}

// --- Lists ---

const accessCondition = `(shopping_lists.user_id = ? OR EXISTS (
	SELECT 1 FROM list_collaborators c WHERE c.list_id = shopping_lists.id AND c.user_id = ?))`

// accessibleList loads the list if the user created it or collaborates on it.
func (s *Store) accessibleList(ctx context.Context, userID string, listID uuid.UUID) (*model.ShoppingList, error) {
	var list model.ShoppingList
	result := s.db.WithContext(ctx).
		Where("shopping_lists.id = ?", listID).
		Where(accessCondition, userID, userID).
		Limit(1).
		Find(&list)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get list: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "list", ID: listID.String()}
	}
	return &list, nil
}

func (s *Store) ownedList(ctx context.Context, userID string, listID uuid.UUID) (*model.ShoppingList, error) {
	list, err := s.accessibleList(ctx, userID, listID)
	if err != nil {
		return nil, err
	}
	if list.UserID != userID {
		return nil, &registrystore.ForbiddenError{}
	}
	return list, nil
}

func (s *Store) CreateList(ctx context.Context, userID string, title string) (*model.ShoppingList, error) {
	title, err := requireText("title", title)
	if err != nil {
		return nil, err
	}
	list := model.ShoppingList{
		ID:        uuid.New(),
		Title:     title,
		UserID:    userID,
		CreatedAt: now(),
	}
	if err := s.db.WithContext(ctx).Create(&list).Error; err != nil {
		if s.isUniqueViolation(err, "shopping_lists") {
			return nil, &registrystore.ConflictError{Message: "list already exists", Code: registrystore.ConflictListExists}
		}
		return nil, fmt.Errorf("failed to create list: %w", err)
	}
	log.Debug("Created list", "listId", list.ID, "userId", userID)
	return &list, nil
}

func (s *Store) ListLists(ctx context.Context, userID string) ([]registrystore.ListSummary, error) {
	var lists []model.ShoppingList
	err := s.db.WithContext(ctx).
		Where(accessCondition, userID, userID).
		Order("shopping_lists.created_at DESC, shopping_lists.id DESC").
		Find(&lists).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	summaries := make([]registrystore.ListSummary, len(lists))
	for i, l := range lists {
		summaries[i] = registrystore.ListSummary{ShoppingList: l, Owned: l.UserID == userID}
	}
	return summaries, nil
}

func (s *Store) GetList(ctx context.Context, userID string, listID uuid.UUID) (*model.ShoppingList, error) {
	return s.accessibleList(ctx, userID, listID)
}

func (s *Store) RenameList(ctx context.Context, userID string, listID uuid.UUID, title string) (*model.ShoppingList, error) {
	title, err := requireText("title", title)
	if err != nil {
		return nil, err
	}
	list, err := s.ownedList(ctx, userID, listID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&model.ShoppingList{}).Where("id = ?", listID).Update("title", title).Error; err != nil {
		return nil, fmt.Errorf("failed to rename list: %w", err)
	}
	list.Title = title
	return list, nil
}

// DeleteList removes the list; items and grants go with it through ON DELETE CASCADE.
func (s *Store) DeleteList(ctx context.Context, userID string, listID uuid.UUID) error {
	if _, err := s.ownedList(ctx, userID, listID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("id = ?", listID).Delete(&model.ShoppingList{}).Error; err != nil {
		return fmt.Errorf("failed to delete list: %w", err)
	}
	log.Debug("Deleted list", "listId", listID, "userId", userID)
	return nil
}

// --- Collaborators ---

func (s *Store) AddGrant(ctx context.Context, userID string, listID uuid.UUID, accountID string) (*model.ListCollaborator, error) {
	if _, err := s.accessibleList(ctx, userID, listID); err != nil {
		return nil, err
	}
	grant := model.ListCollaborator{
		ListID:    listID,
		UserID:    accountID,
		CreatedAt: now(),
	}
	if err := s.db.WithContext(ctx).Create(&grant).Error; err != nil {
		if s.isUniqueViolation(err, "list_collaborators") {
			return nil, &registrystore.DuplicateGrantError{ListID: listID, AccountID: accountID}
		}
		return nil, fmt.Errorf("failed to add collaborator: %w", err)
	}
	return &grant, nil
}

func (s *Store) ListGrants(ctx context.Context, userID string, listID uuid.UUID) ([]model.ListCollaborator, error) {
	if _, err := s.accessibleList(ctx, userID, listID); err != nil {
		return nil, err
	}
	var grants []model.ListCollaborator
	err := s.db.WithContext(ctx).
		Where("list_id = ?", listID).
		Order("created_at ASC, user_id ASC").
		Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list collaborators: %w", err)
	}
	return grants, nil
}

// RemoveGrant revokes a collaborator. The list creator may remove anyone; a
// collaborator may only remove themselves.
func (s *Store) RemoveGrant(ctx context.Context, userID string, listID uuid.UUID, accountID string) error {
	list, err := s.accessibleList(ctx, userID, listID)
	if err != nil {
		return err
	}
	if list.UserID != userID && accountID != userID {
		return &registrystore.ForbiddenError{}
	}
	result := s.db.WithContext(ctx).
		Where("list_id = ? AND user_id = ?", listID, accountID).
		Delete(&model.ListCollaborator{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove collaborator: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "collaborator", ID: accountID}
	}
	return nil
}

// --- Items ---

func (s *Store) ListItems(ctx context.Context, userID string, listID uuid.UUID) ([]model.ListItem, error) {
	if _, err := s.accessibleList(ctx, userID, listID); err != nil {
		return nil, err
	}
	items := []model.ListItem{}
	err := s.db.WithContext(ctx).
		Where("list_id = ?", listID).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

func (s *Store) CreateItem(ctx context.Context, userID string, listID uuid.UUID, item registrystore.NewItem) (*model.ListItem, error) {
	name, err := requireText("name", item.Name)
	if err != nil {
		return nil, err
	}
	if _, err := s.accessibleList(ctx, userID, listID); err != nil {
		return nil, err
	}
	id := item.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	row := model.ListItem{
		ID:        id,
		ListID:    listID,
		Name:      name,
		Completed: false,
		CreatedAt: now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if s.isUniqueViolation(err, "list_items") {
			return nil, &registrystore.ConflictError{
				Message: fmt.Sprintf("item %s already exists", id),
				Code:    registrystore.ConflictItemExists,
			}
		}
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return &row, nil
}

func (s *Store) UpdateItem(ctx context.Context, userID string, listID uuid.UUID, itemID uuid.UUID, update model.ItemUpdate) (*model.ListItem, error) {
	if update.Empty() {
		return nil, &registrystore.ValidationError{Field: "update", Message: "no fields to update"}
	}
	updates := map[string]interface{}{}
	if update.Name != nil {
		name, err := requireText("name", *update.Name)
		if err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if update.Completed != nil {
		updates["completed"] = *update.Completed
	}
	if _, err := s.accessibleList(ctx, userID, listID); err != nil {
		return nil, err
	}

	// The UPDATE takes the row lock first, so the re-read inside the same
	// transaction sees exactly the row this call committed.
	var item model.ListItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.ListItem{}).Where("id = ? AND list_id = ?", itemID, listID).Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update item: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return &registrystore.NotFoundError{Resource: "item", ID: itemID.String()}
		}
		if err := tx.Where("id = ? AND list_id = ?", itemID, listID).Take(&item).Error; err != nil {
			return fmt.Errorf("failed to read updated item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteItem hard-deletes the item. Deleting an item that is already gone succeeds.
func (s *Store) DeleteItem(ctx context.Context, userID string, listID uuid.UUID, itemID uuid.UUID) error {
	if _, err := s.accessibleList(ctx, userID, listID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("id = ? AND list_id = ?", itemID, listID).Delete(&model.ListItem{}).Error; err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

var _ registrystore.ListStore = (*Store)(nil)
