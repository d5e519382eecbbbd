package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreCreationLimiter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	limiter := NewStoreCreationLimiter(h.store, 2, time.Hour)

	allowed, err := limiter.AllowCreate(ctx, "procurement-1")
	require.NoError(t, err)
	require.True(t, allowed)

	h.mint(t, "a@acme.example")
	h.mint(t, "b@acme.example")

	allowed, err = limiter.AllowCreate(ctx, "procurement-1")
	require.NoError(t, err)
	require.False(t, allowed)

	// Other actors are unaffected.
	allowed, err = limiter.AllowCreate(ctx, "procurement-2")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestStoreCreationLimiterDisabled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	limiter := NewStoreCreationLimiter(h.store, 0, time.Hour)
	allowed, err := limiter.AllowCreate(ctx, "anyone")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestBucketCreationLimiter(t *testing.T) {
	ctx := context.Background()

	limiter := NewBucketCreationLimiter(2, time.Hour)

	for i := 0; i < 2; i++ {
		allowed, err := limiter.AllowCreate(ctx, "actor")
		require.NoError(t, err)
		require.True(t, allowed, "call %d", i)
	}

	allowed, err := limiter.AllowCreate(ctx, "actor")
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = limiter.AllowCreate(ctx, "other")
	require.NoError(t, err)
	require.True(t, allowed)
}
