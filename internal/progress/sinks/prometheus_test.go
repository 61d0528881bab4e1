package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/scanfleet/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms move with worker events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{WorkerID: "worker-0", TS: now, Stage: progress.StageWorkerStart},
		{WorkerID: "worker-0", TS: now, Stage: progress.StageScanDone, Entities: 7, Dur: 200 * time.Millisecond},
		{WorkerID: "worker-0", TS: now, Stage: progress.StageScanError, Class: "transient", Dur: time.Second},
		{WorkerID: "worker-0", TS: now, Stage: progress.StageIngestError},
		{WorkerID: "worker-0", TS: now, Stage: progress.StageWorkerPaused},
		{WorkerID: "worker-0", TS: now, Stage: progress.StageWorkerResume},
		{WorkerID: "worker-0", TS: now, Stage: progress.StageWorkerFailed, Class: "fatal"},
		{WorkerID: "worker-0", TS: now, Stage: progress.StageWorkerStop},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.workerStarts))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.workerStops))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.workerFailures.WithLabelValues("fatal")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.scans.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.scans.WithLabelValues("transient")))
	require.Equal(t, 7.0, testutil.ToFloat64(sink.entities))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.ingestErrors))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pauses.WithLabelValues("pause")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pauses.WithLabelValues("resume")))
	require.Equal(t, 2, testutil.CollectAndCount(sink.scanDuration, "scanfleet_scan_duration_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{
		WorkerID: "worker-3",
		TS:       time.Now(),
		Stage:    progress.StageScanError,
		Class:    "transient",
		Note:     "rate limited",
	}}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "worker-3", fields["worker_id"])
	require.Equal(t, "transient", fields["class"])
	require.NotContains(t, fields, "entities")
}
