// Package progress carries worker lifecycle events from the scan fleet to
// observability sinks without blocking the workers.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageWorkerStart  Stage = "WORKER_START"
	StageWorkerPaused Stage = "WORKER_PAUSED"
	StageWorkerResume Stage = "WORKER_RESUMED"
	StageScanDone     Stage = "SCAN_DONE"
	StageScanError    Stage = "SCAN_ERROR"
	StageIngestError  Stage = "INGEST_ERROR"
	StageWorkerFailed Stage = "WORKER_FAILED"
	StageWorkerStop   Stage = "WORKER_STOP"
)

// Event captures one step of a worker's life.
type Event struct {
	// WorkerID identifies the emitting worker.
	WorkerID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Location is the worker's "lat,lng" label.
	Location string
	// Entities counts the entities forwarded for SCAN_DONE.
	Entities int64
	// Class is the error class for SCAN_ERROR and the failure kind for
	// WORKER_FAILED.
	Class string
	// Dur is the scan latency.
	Dur time.Duration
	// Note carries low-volume context such as error text. It must never hold
	// credentials.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.WorkerID == "" {
		return errors.New("worker id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageWorkerStart, StageWorkerPaused, StageWorkerResume, StageWorkerStop, StageScanDone, StageIngestError:
	case StageScanError, StageWorkerFailed:
		if e.Class == "" {
			return fmt.Errorf("%s requires class", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
