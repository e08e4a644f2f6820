// Package collab links accounts to shopping lists they did not create.
package collab

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/model"
	registrycache "github.com/chirino/ulists/internal/registry/cache"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/security"
	"github.com/google/uuid"
)

// ParseHandle parses user input as a handle. Surrounding whitespace is ignored.
func ParseHandle(text string) (model.Handle, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, &registrystore.ValidationError{Field: "handle", Message: "is required"}
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, &registrystore.ValidationError{Field: "handle", Message: fmt.Sprintf("%q is not a number", text)}
	}
	h := model.Handle(n)
	if !h.Valid() {
		return 0, &registrystore.ValidationError{
			Field:   "handle",
			Message: fmt.Sprintf("must be between %d and %d", model.MinHandle, model.MaxHandle),
		}
	}
	return h, nil
}

// Linker grants list access by handle.
type Linker struct {
	store registrystore.ListStore
	cache registrycache.HandleCache
}

// New returns a Linker. cache may be nil.
func New(store registrystore.ListStore, cache registrycache.HandleCache) *Linker {
	return &Linker{store: store, cache: cache}
}

// AddCollaborator gives the account owning handleText access to the list.
//
// It fails with a ValidationError for malformed or out of range handles and
// for the list's own creator, a NotFoundError when no account holds the handle
// or the caller cannot see the list, and a DuplicateGrantError when the
// account already collaborates on it.
func (l *Linker) AddCollaborator(ctx context.Context, callerID string, listID uuid.UUID, handleText string) (*model.ListCollaborator, error) {
	handle, err := ParseHandle(handleText)
	if err != nil {
		security.RecordCollaboratorInvite("invalid")
		return nil, err
	}
	list, err := l.store.GetList(ctx, callerID, listID)
	if err != nil {
		return nil, err
	}
	accountID, err := l.resolve(ctx, handle)
	if err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			security.RecordCollaboratorInvite("unknown_handle")
		}
		return nil, err
	}
	if accountID == list.UserID {
		security.RecordCollaboratorInvite("invalid")
		return nil, &registrystore.ValidationError{Field: "handle", Message: "the list creator already has access"}
	}

	grant, err := l.store.AddGrant(ctx, callerID, listID, accountID)
	if err != nil {
		var dup *registrystore.DuplicateGrantError
		if errors.As(err, &dup) {
			security.RecordCollaboratorInvite("duplicate")
			log.Info("Account is already a collaborator", "listId", listID, "handle", handle)
		}
		return nil, err
	}
	security.RecordCollaboratorInvite("added")
	log.Info("Added collaborator", "listId", listID, "handle", handle, "by", callerID)
	return grant, nil
}

func (l *Linker) resolve(ctx context.Context, handle model.Handle) (string, error) {
	if l.cache != nil && l.cache.Available() {
		accountID, ok, err := l.cache.Get(ctx, handle)
		if err != nil {
			log.Warn("Handle cache lookup failed", "handle", handle, "err", err)
		} else {
			security.RecordCacheLookup(ok)
			if ok {
				return accountID, nil
			}
		}
	}

	profile, err := l.store.FindProfileByHandle(ctx, handle)
	if err != nil {
		return "", err
	}
	if l.cache != nil && l.cache.Available() {
		if err := l.cache.Set(ctx, handle, profile.ID, 0); err != nil {
			log.Warn("Handle cache store failed", "handle", handle, "err", err)
		}
	}
	return profile.ID, nil
}
