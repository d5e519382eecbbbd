package ratex_test

import (
	"testing"
	"time"

	"github.com/northbridgehq/gatepass/pkg/ratex"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToBurst(t *testing.T) {
	l := ratex.New(ratex.Config{
		RequestsPerWindow: 3,
		Window:            time.Hour,
	})

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("actor-1"), "request %d should pass", i+1)
	}
	require.False(t, l.Allow("actor-1"), "4th request should be limited")
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := ratex.New(ratex.Config{
		RequestsPerWindow: 1,
		Window:            time.Hour,
	})

	require.True(t, l.Allow("actor-1"))
	require.False(t, l.Allow("actor-1"))

	// A different key has a fresh bucket
	require.True(t, l.Allow("actor-2"))
}

func TestLimiterRefills(t *testing.T) {
	// 50 per second so the bucket refills within the test
	l := ratex.New(ratex.Config{
		RequestsPerWindow: 50,
		Window:            time.Second,
		Burst:             1,
	})

	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))

	time.Sleep(40 * time.Millisecond)
	require.True(t, l.Allow("k"))
}
