package voice

import (
	"context"
	"fmt"

	"github.com/recallstack/memory-infra/internal/model"
)

// ProfileStore maintains the per-user voice profile. The core only reads
// sample_size and confidence; everything else is opaque descriptive data.
type ProfileStore interface {
	// GetProfile returns the profile, or nil when the user has none yet.
	GetProfile(ctx context.Context, userID string) (*model.VoiceProfile, error)
	// UpdateProfile folds new content into the profile, creating it if
	// absent, and returns the updated profile.
	UpdateProfile(ctx context.Context, userID, content string) (*model.VoiceProfile, error)
}

// Loader creates a ProfileStore from config.
type Loader func(ctx context.Context) (ProfileStore, error)

// Plugin represents a voice profile plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a voice profile plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered voice profile plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named voice profile plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown voice profile store %q; valid: %v", name, Names())
}
