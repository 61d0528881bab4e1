// Package overseer supervises the scan fleet: one worker per bound
// (Location, Account) pair, a shared pause signal, fleet health and bounded
// shutdown.
package overseer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scanfleet/internal/ingest"
	"github.com/JakeFAU/scanfleet/internal/metrics"
	"github.com/JakeFAU/scanfleet/internal/pause"
	"github.com/JakeFAU/scanfleet/internal/progress"
	"github.com/JakeFAU/scanfleet/internal/scan"
	"github.com/JakeFAU/scanfleet/internal/worker"
)

const defaultShutdownTimeout = 10 * time.Second

// ErrAlreadyStarted is returned by a second Start call.
var ErrAlreadyStarted = errors.New("overseer already started")

// ErrShutdownTimeout is returned when workers do not stop in time.
var ErrShutdownTimeout = errors.New("workers did not stop before the shutdown deadline")

// Config controls the fleet.
type Config struct {
	Worker worker.Config
	// ShutdownTimeout bounds Shutdown when the caller's context has no deadline.
	ShutdownTimeout time.Duration
}

// Option customizes an Overseer.
type Option func(*Overseer)

// WithLogger sets the overseer logger. Workers get named children of it.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Overseer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEmitter forwards worker lifecycle events.
func WithEmitter(emitter progress.Emitter) Option {
	return func(o *Overseer) { o.emitter = emitter }
}

// WithIDGenerator names scan results that arrive without an ID.
func WithIDGenerator(ids scan.IDGenerator) Option {
	return func(o *Overseer) { o.ids = ids }
}

// WithClock overrides the clock handed to workers.
func WithClock(clock scan.Clock) Option {
	return func(o *Overseer) { o.clock = clock }
}

// Overseer owns every worker and the shared pause control. It never writes
// to storage itself; results flow from each worker straight to the sink.
type Overseer struct {
	cfg     Config
	signal  *pause.Signal
	workers []*worker.Worker

	logger  *zap.Logger
	emitter progress.Emitter
	ids     scan.IDGenerator
	clock   scan.Clock

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	failed          atomic.Int32
	allFailedLogged atomic.Bool
}

// New builds the fleet. It refuses to build one with zero assignments.
func New(
	cfg Config,
	assignments []scan.Assignment,
	scanner scan.Scanner,
	sink scan.Sink,
	signal *pause.Signal,
	opts ...Option,
) (*Overseer, error) {
	if len(assignments) == 0 {
		return nil, scan.NewConfigurationError("no bound location/account pairs; nothing to scan")
	}
	if scanner == nil {
		return nil, scan.NewConfigurationError("a scanner is required")
	}
	if sink == nil {
		return nil, scan.NewConfigurationError("an ingestion sink is required")
	}
	if signal == nil {
		signal = pause.New()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	o := &Overseer{
		cfg:    cfg,
		signal: signal,
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	routed := ingest.Instrument(sink)
	o.workers = make([]*worker.Worker, 0, len(assignments))
	for _, a := range assignments {
		workerOpts := []worker.Option{
			worker.WithLogger(o.logger.Named("worker")),
			worker.WithReporter(o.report),
		}
		if o.emitter != nil {
			workerOpts = append(workerOpts, worker.WithEmitter(o.emitter))
		}
		if o.ids != nil {
			workerOpts = append(workerOpts, worker.WithIDGenerator(o.ids))
		}
		if o.clock != nil {
			workerOpts = append(workerOpts, worker.WithClock(o.clock))
		}
		o.workers = append(o.workers, worker.New(a, scanner, routed, signal, cfg.Worker, workerOpts...))
	}
	metrics.SetPaused(signal.IsSet())
	return o, nil
}

// Start launches one goroutine per worker and returns immediately.
func (o *Overseer) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return ErrAlreadyStarted
	}
	o.started = true

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	var wg sync.WaitGroup
	for _, w := range o.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(runCtx)
		}(w)
	}
	go func() {
		wg.Wait()
		close(o.done)
	}()

	o.logger.Info("search overseer started",
		zap.Int("workers", len(o.workers)),
		zap.Bool("paused", o.signal.IsSet()),
	)
	return nil
}

// Done is closed once every worker has returned.
func (o *Overseer) Done() <-chan struct{} {
	return o.done
}

// Pause stops every worker from issuing new scans.
func (o *Overseer) Pause() {
	o.signal.Set()
	metrics.SetPaused(true)
	o.logger.Info("search paused")
}

// Resume lets workers scan again.
func (o *Overseer) Resume() {
	o.signal.Clear()
	metrics.SetPaused(false)
	o.logger.Info("search resumed")
}

// Toggle flips the pause signal and returns whether the fleet is now paused.
func (o *Overseer) Toggle() bool {
	paused := o.signal.Toggle()
	metrics.SetPaused(paused)
	o.logger.Info("search pause toggled", zap.Bool("paused", paused))
	return paused
}

// Paused reports the pause signal.
func (o *Overseer) Paused() bool {
	return o.signal.IsSet()
}

// Status returns a read-only health snapshot.
func (o *Overseer) Status() scan.FleetStatus {
	states := make([]scan.WorkerState, 0, len(o.workers))
	for _, w := range o.workers {
		states = append(states, w.State())
	}
	return scan.Summarize(states, o.signal.IsSet())
}

// Shutdown cancels every worker and waits for them to return. The wait is
// bounded by ctx or, when ctx has no deadline, by ShutdownTimeout. Shutdown
// before Start is a no-op.
func (o *Overseer) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	started, cancel := o.started, o.cancel
	o.mu.Unlock()
	if !started {
		return nil
	}
	cancel()

	if _, ok := ctx.Deadline(); !ok {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, o.cfg.ShutdownTimeout)
		defer stop()
	}
	select {
	case <-o.done:
		o.logger.Info("search overseer stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}
}

// report is called by a worker exactly once when it fails.
func (o *Overseer) report(state scan.WorkerState) {
	fields := []zap.Field{
		zap.String("worker_id", state.ID),
		zap.String("location", state.Location.String()),
		zap.String("account", state.Account.String()),
		zap.String("last_error", state.LastError),
	}
	switch state.FailureKind {
	case scan.FailureFatal:
		o.logger.Error("worker lost: credential unusable", fields...)
	default:
		o.logger.Warn("worker gave up after repeated transient failures",
			append(fields, zap.Int("consecutive_failures", state.ConsecutiveFailures))...)
	}

	failed := int(o.failed.Add(1))
	if failed == len(o.workers) && o.allFailedLogged.CompareAndSwap(false, true) {
		o.logger.Error("all workers failed; fleet is degraded", zap.Int("workers", failed))
	}
}
