package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
)

// Migrator applies the schema for a single datastore.
type Migrator interface {
	Name() string
	// Datastore is the DatastoreType the migrator applies to.
	Datastore() string
	Migrate(ctx context.Context) error
}

// Plugin represents a migrator with an order for deterministic execution sequence.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// RunAll executes, sorted by Order, the registered migrators for the given datastore.
func RunAll(ctx context.Context, datastore string) error {
	sorted := make([]Plugin, 0, len(plugins))
	for _, p := range plugins {
		if p.Migrator.Datastore() == datastore {
			sorted = append(sorted, p)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for _, p := range sorted {
		log.Info("Running migration", "name", p.Migrator.Name())
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
