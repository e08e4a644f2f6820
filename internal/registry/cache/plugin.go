package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/ulists/internal/model"
)

// HandleCache caches handle -> account id lookups. Handles are never
// reassigned, so entries only expire to bound memory.
type HandleCache interface {
	Available() bool
	Get(ctx context.Context, handle model.Handle) (accountID string, ok bool, err error)
	Set(ctx context.Context, handle model.Handle, accountID string, ttl time.Duration) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (HandleCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
