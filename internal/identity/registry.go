// Package identity assigns every account a short, unique, numeric handle that
// other users type to invite it to a list.
package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/config"
	"github.com/chirino/ulists/internal/model"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/security"
)

// RegistryError reports that no handle could be ensured within the attempt budget.
type RegistryError struct {
	AccountID string
	Attempts  int
	Err       error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("could not ensure handle for account %s after %d attempts: %v", e.AccountID, e.Attempts, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }

var errCollision = errors.New("candidate handle already taken")

// Registry ensures accounts have a handle.
type Registry struct {
	store       registrystore.ListStore
	maxAttempts int
	retryDelay  time.Duration
	candidate   func() model.Handle
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxAttempts bounds the number of attempts made by EnsureHandle.
func WithMaxAttempts(n int) Option {
	return func(r *Registry) { r.maxAttempts = n }
}

// WithRetryDelay sets the pause after an attempt that failed on a store error.
// Collisions are retried immediately.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Registry) { r.retryDelay = d }
}

// WithCandidates replaces the random candidate source.
func WithCandidates(next func() model.Handle) Option {
	return func(r *Registry) { r.candidate = next }
}

// New returns a Registry backed by store.
func New(store registrystore.ListStore, opts ...Option) *Registry {
	r := &Registry{
		store:       store,
		maxAttempts: 10,
		retryDelay:  100 * time.Millisecond,
		candidate:   RandomHandle,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 1
	}
	return r
}

// NewFromConfig returns a Registry using the handle settings of cfg.
func NewFromConfig(store registrystore.ListStore, cfg *config.Config) *Registry {
	return New(store, WithMaxAttempts(cfg.HandleMaxAttempts), WithRetryDelay(cfg.HandleRetryDelay))
}

// RandomHandle draws uniformly from [MinHandle, MaxHandle].
func RandomHandle() model.Handle {
	return model.MinHandle + model.Handle(rand.IntN(int(model.MaxHandle-model.MinHandle)+1))
}

// EnsureHandle returns the account's handle, assigning one if it has none.
//
// The handle is durably written at most once per account. Concurrent callers
// for the same account all receive the stored value, and a candidate held by
// another account is retried with a fresh one.
func (r *Registry) EnsureHandle(ctx context.Context, accountID string) (model.Handle, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 && !errors.Is(lastErr, errCollision) {
			if err := sleep(ctx, r.retryDelay); err != nil {
				return 0, r.fail(accountID, attempt-1, err)
			}
		}

		h, err := r.attempt(ctx, accountID)
		if err == nil {
			return h, nil
		}
		if ctx.Err() != nil {
			return 0, r.fail(accountID, attempt, ctx.Err())
		}
		lastErr = err
		if errors.Is(err, errCollision) {
			security.RecordHandleCollision()
			log.Debug("Handle collision", "accountId", accountID, "attempt", attempt)
		} else {
			log.Warn("Handle assignment attempt failed", "accountId", accountID, "attempt", attempt, "err", err)
		}
	}
	return 0, r.fail(accountID, r.maxAttempts, lastErr)
}

func (r *Registry) attempt(ctx context.Context, accountID string) (model.Handle, error) {
	profile, err := r.store.GetProfile(ctx, accountID)
	var notFound *registrystore.NotFoundError
	switch {
	case err == nil:
		if h, ok := profile.AssignedHandle(); ok {
			security.RecordHandleAssignment("existing")
			return h, nil
		}
	case errors.As(err, &notFound):
	default:
		return 0, fmt.Errorf("failed to read profile: %w", err)
	}

	candidate := r.candidate()
	taken, err := r.store.HandleTaken(ctx, candidate)
	if err != nil {
		return 0, fmt.Errorf("failed to check handle %d: %w", candidate, err)
	}
	if taken {
		return 0, errCollision
	}

	profile, err = r.store.AssignHandle(ctx, accountID, candidate)
	if err != nil {
		var conflict *registrystore.ConflictError
		if errors.As(err, &conflict) && conflict.Code == registrystore.ConflictHandleTaken {
			return 0, errCollision
		}
		return 0, fmt.Errorf("failed to assign handle %d: %w", candidate, err)
	}
	h, ok := profile.AssignedHandle()
	if !ok {
		return 0, fmt.Errorf("profile %s has no handle after assignment", accountID)
	}
	if h == candidate {
		security.RecordHandleAssignment("assigned")
		log.Info("Assigned handle", "accountId", accountID, "handle", h)
	} else {
		// A concurrent caller won; its value is the durable one.
		security.RecordHandleAssignment("existing")
	}
	return h, nil
}

func (r *Registry) fail(accountID string, attempts int, err error) error {
	security.RecordHandleAssignment("failed")
	return &RegistryError{AccountID: accountID, Attempts: attempts, Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
