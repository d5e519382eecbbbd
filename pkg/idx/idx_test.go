package idx_test

import (
	"sort"
	"testing"
	"time"

	"github.com/northbridgehq/gatepass/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNewIsValidAndNonZero(t *testing.T) {
	id := idx.New()

	require.False(t, id.IsZero())
	require.Len(t, id.String(), 26)
}

func TestNewSortsInMintOrder(t *testing.T) {
	// The monotonic entropy source keeps same-millisecond IDs ordered, so a
	// burst of mints is already sorted.
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = idx.New().String()
	}

	require.True(t, sort.StringsAreSorted(ids))

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	require.Len(t, seen, len(ids))
}

func TestTimeExtraction(t *testing.T) {
	before := time.Now().UTC()
	id := idx.New()
	after := time.Now().UTC()

	// ULID timestamps have millisecond resolution.
	got := id.Time()
	require.False(t, got.Before(before.Truncate(time.Millisecond)))
	require.False(t, got.After(after.Add(time.Millisecond)))
}

func TestTimeOfZeroID(t *testing.T) {
	require.True(t, idx.Zero.Time().IsZero())
}
