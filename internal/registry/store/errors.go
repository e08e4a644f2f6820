package store

import (
	"fmt"

	"github.com/google/uuid"
)

// NotFoundError indicates the resource was not found (or the caller lacks access).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// Conflict codes reported by ConflictError.
const (
	ConflictHandleTaken = "handle_taken"
	ConflictItemExists  = "item_exists"
	ConflictListExists  = "list_exists"
)

// ConflictError indicates a uniqueness/conflict violation.
type ConflictError struct {
	Message string
	Code    string
	Details map[string]interface{}
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ForbiddenError indicates the caller can see the resource but may not perform the operation.
type ForbiddenError struct{}

func (e *ForbiddenError) Error() string {
	return "forbidden"
}

// DuplicateGrantError reports that the account already collaborates on the list.
type DuplicateGrantError struct {
	ListID    uuid.UUID
	AccountID string
}

func (e *DuplicateGrantError) Error() string {
	return fmt.Sprintf("account %s is already a collaborator on list %s", e.AccountID, e.ListID)
}
