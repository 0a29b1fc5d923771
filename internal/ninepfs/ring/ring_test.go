package ring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestRing(t *testing.T, capacity int) *Ring {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ring.db")
	r, err := Open(dbPath, capacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRing_PushAndRecent(t *testing.T) {
	r := openTestRing(t, 10)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, r.Push(ctx, Entry{ClientAddr: "a", Cause: "clunk", OpenedAt: now, ClosedAt: now}))
	require.NoError(t, r.Push(ctx, Entry{ClientAddr: "b", Cause: "clunk", OpenedAt: now, ClosedAt: now}))

	recent := r.Recent(10)
	require.Len(t, recent, 2)
	require.Equal(t, "b", recent[0].ClientAddr)
	require.Equal(t, "a", recent[1].ClientAddr)
}

func TestRing_EvictsOldestPastCapacity(t *testing.T) {
	r := openTestRing(t, 2)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, addr := range []string{"a", "b", "c"} {
		require.NoError(t, r.Push(ctx, Entry{ClientAddr: addr, Cause: "clunk", OpenedAt: now, ClosedAt: now}))
	}

	recent := r.Recent(10)
	require.Len(t, recent, 2)
	require.Equal(t, "c", recent[0].ClientAddr)
	require.Equal(t, "b", recent[1].ClientAddr)
}

func TestRing_RecentRespectsLimit(t *testing.T) {
	r := openTestRing(t, 10)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, addr := range []string{"a", "b", "c"} {
		require.NoError(t, r.Push(ctx, Entry{ClientAddr: addr, Cause: "clunk", OpenedAt: now, ClosedAt: now}))
	}

	require.Len(t, r.Recent(1), 1)
	require.Len(t, r.Recent(0), 3)
}

func TestRing_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ring.db")
	now := time.Now().UTC()

	r, err := Open(dbPath, 10)
	require.NoError(t, err)
	require.NoError(t, r.Push(context.Background(), Entry{ClientAddr: "a", Cause: "clunk", OpenedAt: now, ClosedAt: now}))
	require.NoError(t, r.Close())

	reopened, err := Open(dbPath, 10)
	require.NoError(t, err)
	defer reopened.Close()

	recent := reopened.Recent(10)
	require.Len(t, recent, 1)
	require.Equal(t, "a", recent[0].ClientAddr)
}

func TestRing_SurvivesReopenAfterWraparound(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ring.db")
	now := time.Now().UTC()

	r, err := Open(dbPath, 2)
	require.NoError(t, err)
	// Three pushes into a capacity-2 ring wrap the cursor once, so slot 0
	// ends up holding the newest entry ("c") and slot 1 the middle one
	// ("b"): a replay keyed on slot index alone would misorder them.
	for _, addr := range []string{"a", "b", "c"} {
		require.NoError(t, r.Push(context.Background(), Entry{ClientAddr: addr, Cause: "clunk", OpenedAt: now, ClosedAt: now}))
	}
	require.NoError(t, r.Close())

	reopened, err := Open(dbPath, 2)
	require.NoError(t, err)
	defer reopened.Close()

	recent := reopened.Recent(10)
	require.Len(t, recent, 2)
	require.Equal(t, "c", recent[0].ClientAddr)
	require.Equal(t, "b", recent[1].ClientAddr)
}
