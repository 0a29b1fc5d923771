package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_DefaultDriverIsSQLite(t *testing.T) {
	store, err := Open(context.Background(), Config{DSN: ":memory:"})
	require.NoError(t, err)
	defer store.Close()
}

func TestOpen_UnknownDriverErrors(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "whatever"})
	require.Error(t, err)
}

func TestStore_RecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	opened := time.Now().Add(-time.Minute).UTC()
	closed := time.Now().UTC()

	err := store.Record(ctx, Record{
		ClientAddr:   "10.1.2.3:5000",
		AttachName:   "export",
		Cause:        "clunk",
		OpenedAt:     opened,
		ClosedAt:     closed,
		DurationMS:   closed.Sub(opened).Milliseconds(),
		BytesRead:    1024,
		BytesWritten: 512,
	})
	require.NoError(t, err)

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "10.1.2.3:5000", records[0].ClientAddr)
	require.Equal(t, int64(1024), records[0].BytesRead)
}

func TestStore_RecentOrdersNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	for i, addr := range []string{"10.0.0.1:1", "10.0.0.2:2", "10.0.0.3:3"} {
		closed := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Record(ctx, Record{
			ClientAddr: addr,
			AttachName: "export",
			Cause:      "clunk",
			OpenedAt:   closed.Add(-time.Second),
			ClosedAt:   closed,
			DurationMS: 1000,
		}))
	}

	records, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "10.0.0.3:3", records[0].ClientAddr)
	require.Equal(t, "10.0.0.2:2", records[1].ClientAddr)
}
