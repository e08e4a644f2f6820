package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/chirino/ulists/internal/model"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/testutil/testsqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(handles ...model.Handle) func() model.Handle {
	var mu sync.Mutex
	i := 0
	return func() model.Handle {
		mu.Lock()
		defer mu.Unlock()
		h := handles[i%len(handles)]
		i++
		return h
	}
}

func TestRandomHandle_InRange(t *testing.T) {
	for i := 0; i < 10000; i++ {
		h := RandomHandle()
		require.True(t, h.Valid(), "handle %d out of range", h)
	}
}

func TestEnsureHandle_AssignsOnceAndReturnsExisting(t *testing.T) {
	store, ctx := testsqlite.NewStore(t)
	r := New(store, WithRetryDelay(0))

	h, err := r.EnsureHandle(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, h.Valid())

	again, err := r.EnsureHandle(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, h, again)
}

func TestEnsureHandle_RetriesOnAdvisoryCollision(t *testing.T) {
	store, ctx := testsqlite.NewStore(t)
	_, err := store.AssignHandle(ctx, "alice", 4321)
	require.NoError(t, err)

	r := New(store, WithRetryDelay(0), WithCandidates(sequence(4321, 4321, 5555)))
	h, err := r.EnsureHandle(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.Handle(5555), h)
}

// blindStore never reports a handle as taken, so collisions surface from the
// unique constraint on assignment.
type blindStore struct {
	registrystore.ListStore
}

func (blindStore) HandleTaken(context.Context, model.Handle) (bool, error) {
	return false, nil
}

func TestEnsureHandle_RetriesOnUniqueViolation(t *testing.T) {
	store, ctx := testsqlite.NewStore(t)
	_, err := store.AssignHandle(ctx, "alice", 4321)
	require.NoError(t, err)

	r := New(blindStore{store}, WithRetryDelay(0), WithCandidates(sequence(4321, 6789)))
	h, err := r.EnsureHandle(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.Handle(6789), h)

	found, err := store.FindProfileByHandle(ctx, 4321)
	require.NoError(t, err)
	assert.Equal(t, "alice", found.ID)
}

func TestEnsureHandle_ExhaustsAttemptsOnCollisions(t *testing.T) {
	store, ctx := testsqlite.NewStore(t)
	_, err := store.AssignHandle(ctx, "alice", 4321)
	require.NoError(t, err)

	r := New(store, WithMaxAttempts(3), WithRetryDelay(0), WithCandidates(sequence(4321)))
	_, err = r.EnsureHandle(ctx, "bob")
	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "bob", regErr.AccountID)
	assert.Equal(t, 3, regErr.Attempts)
}

type failingStore struct {
	registrystore.ListStore
	mu    sync.Mutex
	calls int
	err   error
}

func (f *failingStore) GetProfile(context.Context, string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, f.err
}

func TestEnsureHandle_TransientErrors(t *testing.T) {
	cause := errors.New("connection refused")
	store := &failingStore{err: cause}
	r := New(store, WithMaxAttempts(4), WithRetryDelay(0))

	_, err := r.EnsureHandle(context.Background(), "alice")
	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 4, regErr.Attempts)
	assert.Equal(t, 4, store.calls)
}

func TestEnsureHandle_ContextCancelled(t *testing.T) {
	store := &failingStore{err: errors.New("connection refused")}
	r := New(store, WithMaxAttempts(100))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.EnsureHandle(ctx, "alice")
	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnsureHandle_ConcurrentCallersAgree(t *testing.T) {
	store, ctx := testsqlite.NewStore(t)
	r := New(store, WithRetryDelay(0), WithMaxAttempts(50))

	const callers = 8
	results := make([]model.Handle, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.EnsureHandle(ctx, "alice")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	profile, err := store.GetProfile(ctx, "alice")
	require.NoError(t, err)
	h, _ := profile.AssignedHandle()
	assert.Equal(t, results[0], h)
}

func TestEnsureHandle_ConcurrentAccountsGetDistinctHandles(t *testing.T) {
	for _, tc := range []struct {
		name  string
		store func(registrystore.ListStore) registrystore.ListStore
	}{
		{"advisory check", func(s registrystore.ListStore) registrystore.ListStore { return s }},
		{"unique constraint", func(s registrystore.ListStore) registrystore.ListStore { return blindStore{s} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store, ctx := testsqlite.NewStore(t)

			// A pool barely larger than the number of accounts makes callers
			// race for the same candidates.
			const accounts = 12
			const pool = 16
			narrow := func() model.Handle {
				return model.MinHandle + model.Handle(rand.IntN(pool))
			}
			r := New(tc.store(store), WithRetryDelay(0), WithMaxAttempts(500), WithCandidates(narrow))

			results := make([]model.Handle, accounts)
			errs := make([]error, accounts)
			var wg sync.WaitGroup
			for i := 0; i < accounts; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = r.EnsureHandle(ctx, fmt.Sprintf("account-%d", i))
				}(i)
			}
			wg.Wait()

			seen := map[model.Handle]string{}
			for i := 0; i < accounts; i++ {
				require.NoError(t, errs[i])
				account := fmt.Sprintf("account-%d", i)
				h := results[i]
				require.True(t, h.Valid(), "handle %d out of range", h)
				require.Less(t, int(h), int(model.MinHandle)+pool)
				other, dup := seen[h]
				require.False(t, dup, "handle %d given to %s and %s", h, other, account)
				seen[h] = account

				found, err := store.FindProfileByHandle(ctx, h)
				require.NoError(t, err)
				assert.Equal(t, account, found.ID)
			}
		})
	}
}
