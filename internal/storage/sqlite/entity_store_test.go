package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scanfleet/internal/scan"
)

func newTestStore(t *testing.T) *EntityStore {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "scanfleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleResult(id string, ts time.Time, species int) scan.ScanResult {
	lure := ts.Add(30 * time.Minute)
	return scan.ScanResult{
		ID:        id,
		Location:  scan.Location{Latitude: 40.7, Longitude: -74.0, Altitude: 12},
		ScannedAt: ts,
		Creatures: []scan.Creature{{ID: "c1", SpeciesID: species, Latitude: 40.7005, Longitude: -74.0005, DisappearsAt: ts.Add(time.Minute)}},
		PointsOfInterest: []scan.PointOfInterest{
			{ID: "p1", Latitude: 40.701, Longitude: -74.0, Enabled: true, LureExpiresAt: &lure},
		},
		Structures: []scan.Structure{{ID: "s1", Latitude: 40.699, Longitude: -74.001, TeamID: 2, Points: 500, Enabled: true}},
	}
}

func TestSQLite_SaveScanIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	result := sampleResult("scan-1", time.Unix(1700000000, 0).UTC(), 25)
	require.NoError(t, st.SaveScan(ctx, result))
	require.NoError(t, st.SaveScan(ctx, result))

	creatures, pois, structures, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, creatures)
	assert.Equal(t, 1, pois)
	assert.Equal(t, 1, structures)

	got, err := st.Creatures(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 40.7005, got[0].Latitude, 1e-9)
	assert.InDelta(t, -74.0005, got[0].Longitude, 1e-9)
	assert.True(t, got[0].DisappearsAt.Equal(result.Creatures[0].DisappearsAt))
}

func TestSQLite_OlderScanDoesNotOverwrite(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveScan(ctx, sampleResult("new", time.Unix(2000, 0), 2)))
	require.NoError(t, st.SaveScan(ctx, sampleResult("old", time.Unix(1000, 0), 1)))

	got, err := st.Creatures(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].SpeciesID)

	require.NoError(t, st.SaveScan(ctx, sampleResult("newer", time.Unix(3000, 0), 3)))
	got, err = st.Creatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got[0].SpeciesID)
}

func TestSQLite_ConcurrentWriters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 6 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := sampleResult("", time.Unix(int64(1000+i), 0), i)
			res.Creatures[0].ID = string(rune('a' + i))
			if err := st.SaveScan(ctx, res); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	creatures, _, _, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, creatures)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Ping(context.Background()))
}
