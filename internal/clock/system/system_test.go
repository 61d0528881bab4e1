package system

import (
	"context"
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	got := New().Now()
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
}

func TestSleepElapses(t *testing.T) {
	t.Parallel()

	if !Sleep(context.Background(), 5*time.Millisecond) {
		t.Fatal("expected sleep to complete")
	}
	if !Sleep(context.Background(), 0) {
		t.Fatal("expected zero sleep to complete")
	}
}

func TestSleepCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if Sleep(ctx, time.Hour) {
		t.Fatal("expected cancelled sleep to report false")
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancelled sleep blocked")
	}
}
