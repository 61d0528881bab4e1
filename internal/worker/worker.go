// Package worker implements the per-account scan loop.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scanfleet/internal/clock/system"
	"github.com/JakeFAU/scanfleet/internal/metrics"
	"github.com/JakeFAU/scanfleet/internal/pause"
	"github.com/JakeFAU/scanfleet/internal/progress"
	"github.com/JakeFAU/scanfleet/internal/scan"
)

const (
	defaultInterval    = 10 * time.Second
	defaultPausePoll   = time.Second
	defaultMaxFailures = 5
)

// Config controls Worker timing and failure tolerance.
type Config struct {
	// Interval is the pause between successful scans.
	Interval time.Duration
	// Jitter is the upper bound of the random delay added to Interval.
	Jitter time.Duration
	// PausePoll is how often a paused worker re-reads the pause signal.
	PausePoll time.Duration
	// MaxFailures is the number of consecutive transient failures tolerated.
	// The worker fails once the count exceeds it.
	MaxFailures int
	Backoff     Backoff
	// ScanTimeout bounds a single scan call. Zero disables the bound.
	ScanTimeout time.Duration
	Filter      scan.EntityFilter
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.PausePoll <= 0 {
		c.PausePoll = defaultPausePoll
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultMaxFailures
	}
	if c.Filter == (scan.EntityFilter{}) {
		c.Filter = scan.AllEntities()
	}
	return c
}

// Reporter is told once when a worker reaches StatusFailed.
type Reporter func(state scan.WorkerState)

// Option customizes a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(clock scan.Clock) Option {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithIDGenerator assigns IDs to results the scanner left unnamed.
func WithIDGenerator(ids scan.IDGenerator) Option {
	return func(w *Worker) { w.ids = ids }
}

// WithEmitter publishes lifecycle events.
func WithEmitter(emitter progress.Emitter) Option {
	return func(w *Worker) { w.emitter = emitter }
}

// WithReporter registers the failure callback.
func WithReporter(reporter Reporter) Option {
	return func(w *Worker) { w.reporter = reporter }
}

// Worker owns one (Location, Account) pair and scans it until stopped.
// Scans never overlap: scan, filter and ingest finish before the next scan.
type Worker struct {
	assignment scan.Assignment
	scanner    scan.Scanner
	sink       scan.Sink
	signal     *pause.Signal
	cfg        Config

	logger   *zap.Logger
	clock    scan.Clock
	ids      scan.IDGenerator
	emitter  progress.Emitter
	reporter Reporter

	// paused is owned by the Run goroutine.
	paused bool

	mu    sync.Mutex
	state scan.WorkerState
}

// New constructs an idle Worker.
func New(
	assignment scan.Assignment,
	scanner scan.Scanner,
	sink scan.Sink,
	signal *pause.Signal,
	cfg Config,
	opts ...Option,
) *Worker {
	w := &Worker{
		assignment: assignment,
		scanner:    scanner,
		sink:       sink,
		signal:     signal,
		cfg:        cfg.withDefaults(),
		logger:     zap.NewNop(),
		clock:      system.New(),
		state: scan.WorkerState{
			ID:       assignment.WorkerID(),
			Location: assignment.Location,
			Account:  assignment.Account,
			Status:   scan.StatusIdle,
		},
	}
	if w.signal == nil {
		w.signal = pause.New()
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(
		zap.String("worker_id", w.state.ID),
		zap.String("location", assignment.Location.String()),
		zap.String("account", assignment.Account.String()),
	)
	metrics.ObserveWorkerTransition("", string(scan.StatusIdle))
	return w
}

// ID returns the worker identifier.
func (w *Worker) ID() string {
	return w.state.ID
}

// State returns a copy of the worker's current state.
func (w *Worker) State() scan.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Run blocks, scanning until ctx is done or the worker fails.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	w.emit(progress.Event{Stage: progress.StageWorkerStart})
	defer func() {
		if w.setStatus(scan.StatusStopped) {
			w.logger.Info("worker stopped")
		}
		w.emit(progress.Event{Stage: progress.StageWorkerStop})
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		if w.syncPause() {
			if !system.Sleep(ctx, w.cfg.PausePoll) {
				return
			}
			continue
		}

		w.setStatus(scan.StatusScanning)
		wait, done := w.cycle(ctx)
		if done {
			return
		}
		if !w.wait(ctx, wait) {
			return
		}
	}
}

// syncPause applies pause signal transitions and reports whether the worker
// is paused. Only the Run goroutine calls it.
func (w *Worker) syncPause() bool {
	if w.signal.IsSet() {
		if !w.paused {
			w.paused = true
			w.setStatus(scan.StatusPaused)
			w.logger.Info("worker paused")
			w.emit(progress.Event{Stage: progress.StageWorkerPaused})
		}
		return true
	}
	if w.paused {
		w.paused = false
		w.setStatus(scan.StatusScanning)
		w.logger.Info("worker resumed")
		w.emit(progress.Event{Stage: progress.StageWorkerResume})
	}
	return false
}

// wait sleeps for d in PausePoll steps so a pause shows up in the worker
// status while it waits out an interval or backoff. It returns false once
// ctx is done.
func (w *Worker) wait(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		w.syncPause()
		if !system.Sleep(ctx, min(remaining, w.cfg.PausePoll)) {
			return false
		}
	}
}

// cycle performs one scan and returns how long to wait before the next one.
// done is true when the loop must exit.
func (w *Worker) cycle(ctx context.Context) (time.Duration, bool) {
	started := time.Now()
	result, err := w.scan(ctx)
	elapsed := time.Since(started)

	switch scan.Classify(err) {
	case scan.ClassNone:
		metrics.ObserveScan("success")
		forwarded := w.handleResult(ctx, result)
		w.emit(progress.Event{Stage: progress.StageScanDone, Entities: int64(forwarded), Dur: elapsed})
		return w.cfg.Interval + Jitter(w.cfg.Jitter), false

	case scan.ClassFatal:
		metrics.ObserveScan("fatal")
		w.emit(progress.Event{Stage: progress.StageScanError, Class: "fatal", Dur: elapsed, Note: err.Error()})
		w.fail(scan.FailureFatal, err)
		return 0, true
	}

	if ctx.Err() != nil {
		metrics.ObserveScan("canceled")
		return 0, true
	}

	metrics.ObserveScan("transient")
	w.emit(progress.Event{Stage: progress.StageScanError, Class: "transient", Dur: elapsed, Note: err.Error()})
	failures := w.recordFailure(err)
	if failures > w.cfg.MaxFailures {
		w.fail(scan.FailureExhausted, err)
		return 0, true
	}
	delay := w.cfg.Backoff.Delay(failures)
	metrics.ObserveBackoff(delay)
	w.logger.Warn("transient scan failure",
		zap.Error(err),
		zap.Int("consecutive_failures", failures),
		zap.Duration("backoff", delay),
	)
	return delay, false
}

func (w *Worker) scan(ctx context.Context) (scan.ScanResult, error) {
	scanCtx := ctx
	if w.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, w.cfg.ScanTimeout)
		defer cancel()
	}
	return w.scanner.Scan(scanCtx, w.assignment.Location, w.assignment.Account)
}

// handleResult records the success, cleans the result and forwards it to the
// sink. It returns the number of entities forwarded.
func (w *Worker) handleResult(ctx context.Context, result scan.ScanResult) int {
	now := w.clock.Now()
	w.mu.Lock()
	w.state.ConsecutiveFailures = 0
	w.state.LastSuccess = now
	w.state.LastError = ""
	w.mu.Unlock()

	if result.ScannedAt.IsZero() {
		result.ScannedAt = now
	}
	if result.Location == (scan.Location{}) {
		result.Location = w.assignment.Location
	}
	result = w.cfg.Filter.Apply(result)
	result, dropped := scan.Validate(result)
	if dropped > 0 {
		w.logger.Warn("discarded malformed entities", zap.Int("dropped", dropped))
	}
	if result.Empty() {
		w.logger.Debug("scan returned no entities")
		return 0
	}
	if result.ID == "" && w.ids != nil {
		id, err := w.ids.NewID()
		if err != nil {
			w.logger.Warn("generate scan id failed", zap.Error(err))
		} else {
			result.ID = id
		}
	}
	if w.sink == nil {
		return 0
	}
	if err := w.sink.Ingest(ctx, result); err != nil {
		w.logger.Error("ingest scan result failed",
			zap.String("scan_id", result.ID),
			zap.Int("entities", result.Count()),
			zap.Error(err),
		)
		w.emit(progress.Event{Stage: progress.StageIngestError, Note: err.Error()})
		return 0
	}
	w.logger.Debug("scan forwarded",
		zap.String("scan_id", result.ID),
		zap.Int("creatures", len(result.Creatures)),
		zap.Int("points_of_interest", len(result.PointsOfInterest)),
		zap.Int("structures", len(result.Structures)),
	)
	return result.Count()
}

func (w *Worker) recordFailure(err error) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.ConsecutiveFailures++
	w.state.LastError = err.Error()
	return w.state.ConsecutiveFailures
}

func (w *Worker) fail(kind scan.FailureKind, err error) {
	w.mu.Lock()
	prev := w.state.Status
	w.state.Status = scan.StatusFailed
	w.state.FailureKind = kind
	if err != nil {
		w.state.LastError = err.Error()
	}
	state := w.state
	w.mu.Unlock()

	metrics.ObserveWorkerTransition(string(prev), string(scan.StatusFailed))
	metrics.ObserveFailure(string(kind))
	w.logger.Error("worker failed",
		zap.String("failure_kind", string(kind)),
		zap.Int("consecutive_failures", state.ConsecutiveFailures),
		zap.Error(err),
	)
	w.emit(progress.Event{Stage: progress.StageWorkerFailed, Class: string(kind), Note: state.LastError})
	if w.reporter != nil {
		w.reporter(state)
	}
}

// setStatus moves the worker to status unless it already failed. It reports
// whether the status changed.
func (w *Worker) setStatus(status scan.WorkerStatus) bool {
	w.mu.Lock()
	prev := w.state.Status
	if prev == status || prev == scan.StatusFailed {
		w.mu.Unlock()
		return false
	}
	w.state.Status = status
	w.mu.Unlock()
	metrics.ObserveWorkerTransition(string(prev), string(status))
	return true
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	evt.WorkerID = w.state.ID
	evt.TS = w.clock.Now()
	evt.Location = w.assignment.Location.String()
	w.emitter.Emit(evt)
}
