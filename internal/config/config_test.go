package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvedStreamType_FollowsDatastore(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "postgres", cfg.ResolvedStreamType())

	cfg.DatastoreType = "sqlite"
	require.Equal(t, "local", cfg.ResolvedStreamType())
}

func TestResolvedStreamType_ExplicitKindWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StreamType = "redis"
	require.Equal(t, "redis", cfg.ResolvedStreamType())
}

func TestResolvedStreamType_NilConfig(t *testing.T) {
	var cfg *Config
	require.Equal(t, "local", cfg.ResolvedStreamType())
}

func TestContextRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
	require.Nil(t, FromContext(context.Background()))
}
