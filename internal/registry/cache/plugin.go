package cache

import (
	"context"
	"fmt"
)

// RelatedCache is the advisory cache of related-entry lists kept by the
// compounding engine. It is last-writer-wins and best-effort: correctness
// never depends on it, so Set and Remove do not return errors and a miss is
// always a valid answer. Re-deriving from the record store is authoritative.
type RelatedCache interface {
	Get(ctx context.Context, userID, entryID string) ([]string, bool)
	Set(ctx context.Context, userID, entryID string, related []string)
	Remove(ctx context.Context, userID, entryID string)
}

// Loader creates a RelatedCache from config.
type Loader func(ctx context.Context) (RelatedCache, error)

// Plugin represents a related-entries cache plugin.
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
