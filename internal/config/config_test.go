package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_RunsWithoutExternalServices(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "sqlite", cfg.DatastoreType)
	require.Equal(t, "memory", cfg.VectorType)
	require.Equal(t, "local", cfg.EmbedType)
	require.Equal(t, 512, cfg.EmbeddingDimension)
}

func TestFromContext_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
}

func TestFromContext_MissingReturnsNil(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))
}
