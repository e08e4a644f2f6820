// Package route collects the management endpoints (probes and metrics).
// They are mounted on the management server, or on the main server when no
// dedicated management port is configured. The list API is mounted directly
// by the serve command since it needs the store and stream.
package route

import (
	"fmt"
	"slices"

	"github.com/gin-gonic/gin"
)

// RouterLoader initializes routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// Plugin contributes routes. Lower Order mounts first.
type Plugin struct {
	Name   string
	Order  int
	Loader RouterLoader
}

var plugins []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Plugins returns the registered plugins in mount order.
func Plugins() []Plugin {
	out := slices.Clone(plugins)
	slices.SortStableFunc(out, func(a, b Plugin) int { return a.Order - b.Order })
	return out
}

// Mount runs every loader against r.
func Mount(r *gin.Engine) error {
	for _, p := range Plugins() {
		if err := p.Loader(r); err != nil {
			return fmt.Errorf("failed to load %s routes: %w", p.Name, err)
		}
	}
	return nil
}
