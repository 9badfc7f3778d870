package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livelaunch/platform/pkg/common/config"
)

func TestNewAppExcludesConfiguredMedia(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("DEDUP_BACKEND", "local")
	t.Setenv("MEDIA_EXCLUDED_IDS", "nasatv00001")

	a, err := newApp(config.Load())
	require.NoError(t, err)
	defer a.close()

	ctx := context.Background()
	ok, err := a.gate.ShouldAnnounce(ctx, "nasatv00001")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.gate.ShouldAnnounce(ctx, "launch00001")
	require.NoError(t, err)
	assert.True(t, ok)
	a.gate.Release(ctx, "launch00001")
}
