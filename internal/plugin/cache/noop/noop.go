package noop

import (
	"context"
	"time"

	"github.com/chirino/ulists/internal/model"
	"github.com/chirino/ulists/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.HandleCache, error) {
			return &noopHandleCache{}, nil
		},
	})
}

type noopHandleCache struct{}

func (n *noopHandleCache) Available() bool { return false }
func (n *noopHandleCache) Get(_ context.Context, _ model.Handle) (string, bool, error) {
	return "", false, nil
}
func (n *noopHandleCache) Set(_ context.Context, _ model.Handle, _ string, _ time.Duration) error {
	return nil
}

var _ cache.HandleCache = (*noopHandleCache)(nil)
