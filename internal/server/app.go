// Package server builds the scanfleet application from configuration and
// runs it until a signal arrives.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/scanfleet/internal/api"
	"github.com/JakeFAU/scanfleet/internal/binder"
	"github.com/JakeFAU/scanfleet/internal/clock/system"
	"github.com/JakeFAU/scanfleet/internal/config"
	"github.com/JakeFAU/scanfleet/internal/id/uuid"
	"github.com/JakeFAU/scanfleet/internal/ingest"
	"github.com/JakeFAU/scanfleet/internal/logging"
	"github.com/JakeFAU/scanfleet/internal/metrics"
	"github.com/JakeFAU/scanfleet/internal/overseer"
	"github.com/JakeFAU/scanfleet/internal/pause"
	"github.com/JakeFAU/scanfleet/internal/progress"
	progresssinks "github.com/JakeFAU/scanfleet/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/scanfleet/internal/publisher/pubsub"
	"github.com/JakeFAU/scanfleet/internal/scan"
	"github.com/JakeFAU/scanfleet/internal/scanner/mock"
	"github.com/JakeFAU/scanfleet/internal/scanner/remote"
	gcsstorage "github.com/JakeFAU/scanfleet/internal/storage/gcs"
	localstorage "github.com/JakeFAU/scanfleet/internal/storage/local"
	memorystorage "github.com/JakeFAU/scanfleet/internal/storage/memory"
	pgstore "github.com/JakeFAU/scanfleet/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/scanfleet/internal/storage/sqlite"
)

const readHeaderTimeout = 5 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	overseer  *overseer.Overseer

	progressHub     *progress.Hub
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	closeStore      func() error
	inventory       api.Inventory
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger Build would construct from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	type sanitizedConfig struct {
		ServerPort int    `json:"server_port"`
		Sink       string `json:"sink"`
		Archive    string `json:"archive"`
		Mock       bool   `json:"mock"`
	}
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		ServerPort: cfg.Server.Port,
		Sink:       cfg.Sink.Backend,
		Archive:    cfg.Sink.Archive,
		Mock:       cfg.Fleet.Mock,
	}))
	return &App{cfg: cfg, logger: logger}, nil
}

// Overseer returns the search overseer, or nil when no pair could be bound
// in server-only mode.
func (a *App) Overseer() *overseer.Overseer {
	return a.overseer
}

// Handler returns the control surface handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the fleet and the control surface and blocks until ctx is
// canceled or a termination signal arrives. It then stops the HTTP server,
// shuts the fleet down within the configured bound and releases resources.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if a.overseer != nil && !a.cfg.Server.Only {
		if err := a.overseer.Start(gctx); err != nil {
			return fmt.Errorf("start overseer: %w", err)
		}
	} else {
		a.logger.Info("scanning disabled; serving control surface only")
	}

	if !a.cfg.Server.Disabled {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", zap.Error(err))
			}
			return nil
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	runErr := g.Wait()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Fleet.ShutdownTimeout+a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if a.overseer != nil {
		fleetCtx, fleetCancel := context.WithTimeout(shutdownCtx, a.cfg.Fleet.ShutdownTimeout)
		if err := a.overseer.Shutdown(fleetCtx); err != nil {
			a.logger.Error("fleet shutdown incomplete", zap.Error(err))
		}
		fleetCancel()
	}
	if err := a.Close(shutdownCtx); err != nil {
		return err
	}
	return runErr
}

// Close releases infrastructure clients and flushes observability.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			a.logger.Warn("entity store close failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	var built App
	for _, opt := range opts {
		opt(&built)
	}
	logger := built.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()

	app.logger.Info("building application dependencies")
	sink, err := setupSink(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	emitter, err := setupProgress(app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	if err := setupOverseer(app, sink, emitter); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	var fleet api.Fleet
	if app.overseer != nil {
		fleet = app.overseer
	}
	var apiOpts []api.Option
	if app.inventory != nil {
		apiOpts = append(apiOpts, api.WithInventory(app.inventory))
	}
	app.apiServer = api.NewServer(fleet, *cfg, logger.Named("api"), apiOpts...)

	return app, nil
}

func setupSink(ctx context.Context, app *App) (scan.Sink, error) {
	store, err := setupStore(ctx, app)
	if err != nil {
		return nil, err
	}

	var pipelineOpts []ingest.Option
	pipelineOpts = append(pipelineOpts, ingest.WithLogger(app.logger.Named("ingest")))

	archive, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithArchive(archive))
	}

	if err := setupPublisher(ctx, app); err != nil {
		return nil, err
	}
	if app.pubsubPublisher != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithPublisher(app.pubsubPublisher))
	}

	pipeline, err := ingest.NewPipeline(store, ingest.Config{
		ArchivePrefix: app.cfg.Sink.ArchivePrefix,
		Topic:         app.cfg.PubSub.TopicName,
	}, pipelineOpts...)
	if err != nil {
		return nil, fmt.Errorf("ingest pipeline init failed: %w", err)
	}
	return pipeline, nil
}

func setupStore(ctx context.Context, app *App) (ingest.Store, error) {
	switch app.cfg.Sink.Backend {
	case "postgres":
		store, err := pgstore.NewEntityStore(ctx, pgstore.Config{
			DSN: app.cfg.DB.DSN,
			Tables: pgstore.Tables{
				Scans:            app.cfg.DB.ScansTable,
				Creatures:        app.cfg.DB.CreaturesTable,
				PointsOfInterest: app.cfg.DB.PointsTable,
				Structures:       app.cfg.DB.StructuresTable,
			},
			MaxConns:        app.cfg.DB.MaxConns,
			MinConns:        app.cfg.DB.MinConns,
			MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.closeStore = func() error {
			store.Close()
			return nil
		}
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("postgres ping failed: %w", err)
		}
		if app.cfg.DB.MigrateOnStartup {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		app.logger.Info("using postgres entity store", zap.String("creatures_table", app.cfg.DB.CreaturesTable))
		return store, nil

	case "sqlite":
		store, err := sqlitestore.Open(app.cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.closeStore = store.Close
		if app.cfg.SQLite.MigrateOnStartup {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("sqlite migrate failed: %w", err)
			}
		}
		app.inventory = func(ctx context.Context) (any, error) {
			creatures, pois, structures, err := store.Counts(ctx)
			if err != nil {
				return nil, err
			}
			return memorystorage.Counts{
				Creatures:        creatures,
				PointsOfInterest: pois,
				Structures:       structures,
			}, nil
		}
		app.logger.Info("using sqlite entity store", zap.String("path", app.cfg.SQLite.Path))
		return store, nil

	default:
		store := memorystorage.NewEntityStore()
		app.inventory = func(context.Context) (any, error) {
			return store.Counts(), nil
		}
		app.logger.Info("using in-memory entity store")
		return store, nil
	}
}

func setupArchive(ctx context.Context, app *App) (scan.BlobStore, error) {
	switch app.cfg.Sink.Archive {
	case "gcs":
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving scans to GCS", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving scans locally", zap.String("path", app.cfg.Storage.LocalDir))
		return blobs, nil
	case "memory":
		app.logger.Info("archiving scans in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Debug("scan archive disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Debug("no Pub/Sub topic configured, notifications disabled")
		return nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = gcppublisher.New(app.pubsubClient)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

func setupProgress(app *App) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if app.cfg.Progress.PrometheusEnabled {
		promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
		app.logger.Debug("added progress prometheus sink")
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("added progress log sink")
	}
	if len(sinkList) == 0 {
		app.logger.Warn("progress tracking enabled but no sinks configured")
		return nil, nil
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.BatchMaxEvents,
		MaxBatchWait:   app.cfg.Progress.BatchMaxWait,
		SinkTimeout:    app.cfg.Progress.SinkTimeout,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.progressHub, nil
}

func setupScanner(app *App) (scan.Scanner, error) {
	if app.cfg.Fleet.Mock || (app.cfg.Server.Only && app.cfg.Remote.BaseURL == "") {
		app.logger.Info("using mock scan source")
		return mock.New(mock.WithClock(system.New())), nil
	}
	client, err := remote.New(remote.Config{
		BaseURL: app.cfg.Remote.BaseURL,
		Timeout: app.cfg.Remote.Timeout,
		RPS:     app.cfg.Remote.RPS,
		Burst:   app.cfg.Remote.Burst,
	}, remote.WithLogger(app.logger.Named("remote")))
	if err != nil {
		return nil, fmt.Errorf("remote scanner init failed: %w", err)
	}
	app.logger.Info("using remote scan gateway", zap.String("base_url", app.cfg.Remote.BaseURL))
	return client, nil
}

func setupOverseer(app *App, sink scan.Sink, emitter progress.Emitter) error {
	locations, err := app.cfg.Locations()
	if err != nil {
		return err
	}
	accounts, err := app.cfg.Accounts()
	if err != nil {
		return err
	}
	binding, err := binder.Bind(locations, accounts)
	if err != nil {
		if app.cfg.Server.Only {
			app.logger.Warn("no search fleet bound; control surface has nothing to drive", zap.Error(err))
			return nil
		}
		return err
	}
	for _, loc := range binding.Dropped {
		app.logger.Warn("location dropped: no account left to bind", zap.String("location", loc.String()))
	}

	scanner, err := setupScanner(app)
	if err != nil {
		return err
	}

	signal := pause.New()
	if app.cfg.Fleet.StartPaused {
		signal.Set()
	}
	app.overseer, err = overseer.New(
		overseer.Config{Worker: app.cfg.WorkerConfig(), ShutdownTimeout: app.cfg.Fleet.ShutdownTimeout},
		binding.Assignments,
		scanner,
		sink,
		signal,
		overseer.WithLogger(app.logger.Named("overseer")),
		overseer.WithEmitter(emitter),
		overseer.WithIDGenerator(uuid.New()),
	)
	if err != nil {
		return fmt.Errorf("overseer init failed: %w", err)
	}
	app.logger.Info("search fleet bound",
		zap.Int("workers", len(binding.Assignments)),
		zap.Int("dropped_locations", len(binding.Dropped)),
		zap.Int("spare_accounts", len(accounts)-len(binding.Assignments)),
	)
	return nil
}
