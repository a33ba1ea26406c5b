// Package noop disables the related-entries cache; every read is a miss.
package noop

import (
	"context"

	registrycache "github.com/recallstack/memory-infra/internal/registry/cache"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "none",
		Loader: func(_ context.Context) (registrycache.RelatedCache, error) {
			return Cache{}, nil
		},
	})
}

type Cache struct{}

func (Cache) Get(context.Context, string, string) ([]string, bool) { return nil, false }

func (Cache) Set(context.Context, string, string, []string) {}

func (Cache) Remove(context.Context, string, string) {}

var _ registrycache.RelatedCache = Cache{}
