package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pubmemory "github.com/JakeFAU/scanfleet/internal/publisher/memory"
	"github.com/JakeFAU/scanfleet/internal/scan"
	"github.com/JakeFAU/scanfleet/internal/storage/memory"
)

func sampleResult() scan.ScanResult {
	return scan.ScanResult{
		ID:        "scan-1",
		Location:  scan.Location{Latitude: 40.7, Longitude: -74},
		ScannedAt: time.Date(2024, 7, 6, 12, 0, 0, 0, time.UTC),
		Creatures: []scan.Creature{{ID: "c1", SpeciesID: 25}},
		Structures: []scan.Structure{
			{ID: "s1", TeamID: 1},
		},
	}
}

func TestPipelineStoresArchivesAndPublishes(t *testing.T) {
	t.Parallel()

	store := memory.NewEntityStore()
	blobs := memory.NewBlobStore()
	pub := pubmemory.New()
	p, err := NewPipeline(store, Config{ArchivePrefix: "raw", Topic: "scans"},
		WithArchive(blobs), WithPublisher(pub), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	require.NoError(t, p.Ingest(context.Background(), sampleResult()))

	require.Equal(t, memory.Counts{Creatures: 1, Structures: 1}, store.Counts())

	raw, ok := blobs.Get("raw/2024/07/06/scan-1.json")
	require.True(t, ok)
	var archived scan.ScanResult
	require.NoError(t, json.Unmarshal(raw, &archived))
	require.Equal(t, "scan-1", archived.ID)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "scans", msgs[0].Topic)
	note, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	require.Equal(t, "memory://raw/2024/07/06/scan-1.json", note.ArchiveURI)
	require.Equal(t, 1, note.Creatures)
	require.Equal(t, "40.700000,-74.000000", note.Location)
}

func TestPipelineStoreFailureIsIngestionError(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	p, err := NewPipeline(failingStore{err: errors.New("disk full")}, Config{Topic: "scans"}, WithPublisher(pub))
	require.NoError(t, err)

	err = p.Ingest(context.Background(), sampleResult())
	var ingestErr *scan.IngestionError
	require.ErrorAs(t, err, &ingestErr)
	require.Equal(t, "scan-1", ingestErr.ScanID)
	require.Empty(t, pub.Messages())
}

func TestPipelineSecondaryFailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	pub.FailWith(errors.New("unavailable"))
	p, err := NewPipeline(memory.NewEntityStore(), Config{Topic: "scans"},
		WithArchive(failingBlobs{}), WithPublisher(pub))
	require.NoError(t, err)

	require.NoError(t, p.Ingest(context.Background(), sampleResult()))
}

func TestNewPipelineValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPipeline(nil, Config{})
	require.ErrorIs(t, err, scan.ErrConfiguration)

	_, err = NewPipeline(memory.NewEntityStore(), Config{}, WithPublisher(pubmemory.New()))
	require.ErrorIs(t, err, scan.ErrConfiguration)
}

func TestArchivePath(t *testing.T) {
	t.Parallel()

	res := sampleResult()
	require.Equal(t, "2024/07/06/scan-1.json", ArchivePath("", res))
	require.Equal(t, "a/b/2024/07/06/scan-1.json", ArchivePath("/a/b/", res))

	res.ID = ""
	require.Contains(t, ArchivePath("", res), "2024/07/06/")
}

func TestInstrumentPassesThrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	sink := Instrument(scan.SinkFunc(func(context.Context, scan.ScanResult) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	}))
	require.NoError(t, sink.Ingest(context.Background(), sampleResult()))
	require.ErrorIs(t, sink.Ingest(context.Background(), sampleResult()), boom)
	require.Equal(t, 2, calls)
}

type failingStore struct{ err error }

func (f failingStore) SaveScan(context.Context, scan.ScanResult) error { return f.err }

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket missing")
}
