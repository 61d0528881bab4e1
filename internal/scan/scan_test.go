package scan

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSummarizeCountsStatuses(t *testing.T) {
	t.Parallel()

	states := []WorkerState{
		{ID: "worker-0", Status: StatusScanning},
		{ID: "worker-1", Status: StatusScanning},
		{ID: "worker-2", Status: StatusFailed, FailureKind: FailureFatal},
	}
	got := Summarize(states, false)

	require.Equal(t, 3, got.Total)
	require.Equal(t, 2, got.ByStatus[StatusScanning])
	require.Equal(t, 1, got.ByStatus[StatusFailed])
	require.Equal(t, 0, got.ByStatus[StatusPaused])
	require.Equal(t, 1, got.FailedFatal)
	require.Zero(t, got.FailedExhausted)
	require.True(t, got.Degraded)
	require.False(t, got.AllFailed)
}

func TestSummarizeAllFailed(t *testing.T) {
	t.Parallel()

	states := []WorkerState{
		{Status: StatusFailed, FailureKind: FailureExhausted},
		{Status: StatusFailed, FailureKind: FailureFatal},
	}
	got := Summarize(states, true)

	require.True(t, got.AllFailed)
	require.True(t, got.Paused)
	require.Equal(t, 1, got.FailedExhausted)
	require.Equal(t, 1, got.FailedFatal)
}

func TestSummarizeBackoffIsDegraded(t *testing.T) {
	t.Parallel()

	got := Summarize([]WorkerState{{Status: StatusScanning, ConsecutiveFailures: 2}}, false)
	require.Equal(t, 1, got.Backoff)
	require.True(t, got.Degraded)
	require.False(t, Summarize(nil, false).AllFailed)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassNone},
		{"fatal", NewFatalScanError(ReasonBanned, nil), ClassFatal},
		{"wrapped fatal", fmt.Errorf("scan: %w", NewFatalScanError(ReasonInvalidCredentials, errors.New("401"))), ClassFatal},
		{"transient", NewTransientScanError(ReasonRateLimited, nil), ClassTransient},
		{"canceled", context.Canceled, ClassCanceled},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"untyped", errors.New("boom"), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestConfigurationErrorMatchesSentinel(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("startup: %w", NewConfigurationError("no locations bound"))
	require.ErrorIs(t, err, ErrConfiguration)
	require.Contains(t, err.Error(), "no locations bound")
}

func TestEntityFilterApply(t *testing.T) {
	t.Parallel()

	res := sampleResult()
	got := EntityFilter{Creatures: true}.Apply(res)
	require.Len(t, got.Creatures, 1)
	require.Nil(t, got.PointsOfInterest)
	require.Nil(t, got.Structures)
	require.Equal(t, 3, AllEntities().Apply(res).Count())
}

func TestValidateDropsBadEntities(t *testing.T) {
	t.Parallel()

	res := sampleResult()
	res.Creatures = append(res.Creatures, Creature{ID: "", Latitude: 1, Longitude: 1})
	res.Structures = append(res.Structures, Structure{ID: "bad", Latitude: 91})

	got, dropped := Validate(res)
	require.Equal(t, 2, dropped)
	require.Equal(t, 3, got.Count())
}

func TestLocationPointAndString(t *testing.T) {
	t.Parallel()

	loc := Location{Latitude: 40.7, Longitude: -74.0, Altitude: 10}
	pt := loc.Point()
	require.Equal(t, SRID, pt.SRID())
	require.InDelta(t, -74.0, pt.X(), 1e-9)
	require.InDelta(t, 40.7, pt.Y(), 1e-9)
	require.Equal(t, "40.700000,-74.000000", loc.String())
	require.True(t, loc.Valid())
}

func TestAccountStringHidesPassword(t *testing.T) {
	t.Parallel()

	acct := Account{Username: "ash", Password: "pikachu", Provider: "ptc"}
	require.Equal(t, "ptc:ash", acct.String())
	require.NotContains(t, fmt.Sprintf("%v", acct.String()), "pikachu")
}

func sampleResult() ScanResult {
	now := time.Unix(1700000000, 0).UTC()
	return ScanResult{
		ID:               "scan-1",
		ScannedAt:        now,
		Creatures:        []Creature{{ID: "c1", SpeciesID: 16, Latitude: 1, Longitude: 1, DisappearsAt: now}},
		PointsOfInterest: []PointOfInterest{{ID: "p1", Latitude: 1, Longitude: 1, LastModified: now}},
		Structures:       []Structure{{ID: "s1", Latitude: 1, Longitude: 1, LastModified: now}},
	}
}
