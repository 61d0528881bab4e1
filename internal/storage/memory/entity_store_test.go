package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scanfleet/internal/scan"
)

func sampleScan(id string, ts time.Time, species int) scan.ScanResult {
	return scan.ScanResult{
		ID:        id,
		ScannedAt: ts,
		Creatures: []scan.Creature{{ID: "c1", SpeciesID: species}},
		PointsOfInterest: []scan.PointOfInterest{
			{ID: "p1", Enabled: true},
		},
		Structures: []scan.Structure{{ID: "s1", TeamID: 1}},
	}
}

func TestEntityStoreRedeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewEntityStore()
	result := sampleScan("scan-1", time.Unix(100, 0), 25)
	require.NoError(t, store.SaveScan(context.Background(), result))
	require.NoError(t, store.SaveScan(context.Background(), result))

	require.Equal(t, Counts{Creatures: 1, PointsOfInterest: 1, Structures: 1}, store.Counts())
	require.Equal(t, 1, store.Scans())
}

func TestEntityStoreKeepsNewest(t *testing.T) {
	t.Parallel()

	store := NewEntityStore()
	require.NoError(t, store.SaveScan(context.Background(), sampleScan("b", time.Unix(200, 0), 2)))
	require.NoError(t, store.SaveScan(context.Background(), sampleScan("a", time.Unix(100, 0), 1)))
	require.Equal(t, 2, store.Creatures()[0].SpeciesID)

	require.NoError(t, store.SaveScan(context.Background(), sampleScan("c", time.Unix(300, 0), 3)))
	require.Equal(t, 3, store.Creatures()[0].SpeciesID)
}

func TestEntityStoreConcurrentWriters(t *testing.T) {
	t.Parallel()

	store := NewEntityStore()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := sampleScan("", time.Unix(int64(i), 0), i)
			res.Creatures[0].ID = string(rune('a' + i))
			if err := store.SaveScan(context.Background(), res); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 8, store.Counts().Creatures)
	require.Len(t, store.PointsOfInterest(), 1)
	require.Len(t, store.Structures(), 1)
}

func TestEntityStoreHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewEntityStore().SaveScan(ctx, sampleScan("x", time.Now(), 1)), context.Canceled)
}
