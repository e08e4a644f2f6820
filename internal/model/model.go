package model

import (
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Handle is the short numeric identifier a user shares to be invited as a
// collaborator. It is distinct from the opaque account id.
type Handle int

const (
	MinHandle Handle = 1000
	MaxHandle Handle = 999999
)

// Valid reports whether h is inside the assignable range.
func (h Handle) Valid() bool {
	return h >= MinHandle && h <= MaxHandle
}

func (h Handle) String() string {
	return strconv.Itoa(int(h))
}

// MaxTextLength bounds list titles and item names, in characters. Postgres
// change notifications carry the row and must stay under 8000 bytes.
const MaxTextLength = 500

// TextTooLong reports whether s exceeds MaxTextLength.
func TextTooLong(s string) bool {
	return utf8.RuneCountInString(s) > MaxTextLength
}

// Profile links an account to its handle. Handle is nil until first assigned
// and never changes afterwards.
type Profile struct {
	ID        string    `json:"accountId"        gorm:"primaryKey"`
	Handle    *int      `json:"handle,omitempty" gorm:"uniqueIndex:profiles_handle_unique"`
	CreatedAt time.Time `json:"createdAt"        gorm:"not null"`
}

func (Profile) TableName() string { return "profiles" }

// AssignedHandle returns the profile's handle, if one has been assigned.
func (p *Profile) AssignedHandle() (Handle, bool) {
	if p == nil || p.Handle == nil {
		return 0, false
	}
	return Handle(*p.Handle), true
}

// ShoppingList is a titled collection of items. UserID is the creator.
type ShoppingList struct {
	ID        uuid.UUID `json:"id"        gorm:"primaryKey;type:uuid"`
	Title     string    `json:"title"     gorm:"not null"`
	UserID    string    `json:"userId"    gorm:"not null;index"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (ShoppingList) TableName() string { return "shopping_lists" }

// ListItem is one entry of a shopping list. ListID never changes after creation;
// CreatedAt is the display order key.
type ListItem struct {
	ID        uuid.UUID `json:"id"        gorm:"primaryKey;type:uuid"`
	ListID    uuid.UUID `json:"listId"    gorm:"not null;type:uuid;index"`
	Name      string    `json:"name"      gorm:"not null"`
	Completed bool      `json:"completed" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (ListItem) TableName() string { return "list_items" }

// ItemUpdate carries the field-level changes of an item update. Nil fields are left untouched.
type ItemUpdate struct {
	Name      *string `json:"name,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ItemUpdate) Empty() bool {
	return u.Name == nil && u.Completed == nil
}

// ApplyTo returns a copy of item with the update applied.
func (u ItemUpdate) ApplyTo(item ListItem) ListItem {
	if u.Name != nil {
		item.Name = *u.Name
	}
	if u.Completed != nil {
		item.Completed = *u.Completed
	}
	return item
}

// ListCollaborator grants an account access to a list it did not create.
// A (ListID, UserID) pair exists at most once.
type ListCollaborator struct {
	ListID    uuid.UUID `json:"listId"    gorm:"primaryKey;type:uuid"`
	UserID    string    `json:"userId"    gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (ListCollaborator) TableName() string { return "list_collaborators" }
