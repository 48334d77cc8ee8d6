// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/analysis/aireadiness"
	"github.com/JakeFAU/site-audit/internal/analysis/competitive"
	"github.com/JakeFAU/site-audit/internal/api"
	"github.com/JakeFAU/site-audit/internal/archive"
	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/clock/system"
	"github.com/JakeFAU/site-audit/internal/config"
	"github.com/JakeFAU/site-audit/internal/executor"
	collyfetcher "github.com/JakeFAU/site-audit/internal/fetcher/colly"
	"github.com/JakeFAU/site-audit/internal/fetcher/headless"
	"github.com/JakeFAU/site-audit/internal/fetcher/pagespeed"
	"github.com/JakeFAU/site-audit/internal/fetcher/serp"
	"github.com/JakeFAU/site-audit/internal/gate"
	"github.com/JakeFAU/site-audit/internal/id/uuid"
	"github.com/JakeFAU/site-audit/internal/logging"
	"github.com/JakeFAU/site-audit/internal/metrics"
	"github.com/JakeFAU/site-audit/internal/pipeline"
	memorypublisher "github.com/JakeFAU/site-audit/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/site-audit/internal/publisher/pubsub"
	"github.com/JakeFAU/site-audit/internal/rank"
	"github.com/JakeFAU/site-audit/internal/rollup"
	gcsstorage "github.com/JakeFAU/site-audit/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-audit/internal/storage/local"
	memorystorage "github.com/JakeFAU/site-audit/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-audit/internal/storage/postgres"
	s3storage "github.com/JakeFAU/site-audit/internal/storage/s3"
	sqlitestore "github.com/JakeFAU/site-audit/internal/storage/sqlite"
	"github.com/JakeFAU/site-audit/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	store           audit.Store
	pinger          api.Pinger
	gate            *gate.Gate
	pipeline        *pipeline.Pipeline
	apiServer       *api.Server
	renderer        *headless.Renderer
	redis           *redis.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	pgStore         *pgstore.Store
	sqliteStore     *sqlitestore.Store
	tracerProvider  *sdktrace.TracerProvider
	closeOnce       sync.Once
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Only non-sensitive fields are logged.
	type sanitizedConfig struct {
		ServerPort int    `json:"server_port"`
		Database   string `json:"database"`
		Storage    string `json:"storage"`
		Rank       bool   `json:"rank_enabled"`
	}
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		ServerPort: cfg.Server.Port,
		Database:   cfg.Database.Driver,
		Storage:    cfg.Storage.Backend,
		Rank:       cfg.RankEnabled(),
	}))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Admitter returns the admission gate.
func (a *App) Admitter() api.Admitter { return a.gate }

// Orchestrator returns the scan pipeline.
func (a *App) Orchestrator() api.Orchestrator { return a.pipeline }

// Store returns the scan store.
func (a *App) Store() audit.Store { return a.store }

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives. The caller still owns Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close releases every client the application opened. It is safe to call
// more than once.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
}

func (a *App) closeInfrastructure() {
	if a.renderer != nil {
		a.renderer.Close()
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
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.sqliteStore != nil {
		if err := a.sqliteStore.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stderr/stdout on some platforms; nothing to do about it.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies. Clients opened before a
// failure are closed again.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	defer func() {
		if err != nil {
			app.Close(context.WithoutCancel(ctx))
		}
	}()

	app.tracerProvider, err = telemetry.InitTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app.logger.Info("building application dependencies")
	if err := setupStore(ctx, app); err != nil {
		return nil, err
	}
	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	crawler, err := setupCrawler(app)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	loc := cfg.Location()
	httpClient := &http.Client{}

	app.gate = gate.New(app.store, clock, ids, logger,
		gate.WithLocation(loc),
		gate.WithLockStripes(cfg.Scan.LockStripes),
	)

	deps := pipeline.Deps{
		Store:    app.store,
		Executor: executor.New(app.store, clock, ids, logger),
		Crawler:  crawler,
		Performance: pagespeed.New(pagespeed.Config{
			Endpoint: cfg.Performance.Endpoint,
			APIKey:   cfg.Performance.APIKey,
			Strategy: cfg.Performance.Strategy,
			Timeout:  time.Duration(cfg.Performance.TimeoutSeconds) * time.Second,
		}, httpClient),
		Competitive: competitive.New(),
		AIReadiness: aireadiness.New(),
		Rollups:     rollup.New(app.store, clock, loc, logger),
		Archiver:    archive.New(blobStore, cfg.Storage.Prefix),
		Publisher:   publisher,
		Clock:       clock,
		Tracer:      telemetry.Tracer(),
		Logger:      logger,
	}
	// A nil *rank.Checker must not reach the interface field.
	if checker := setupRank(app, httpClient, clock); checker != nil {
		deps.Ranker = checker
	}

	app.pipeline = pipeline.New(deps, pipeline.Config{
		LightMaxPages:  cfg.Scan.LightMaxPages,
		FullMaxPages:   cfg.Scan.FullMaxPages,
		MaxKeywords:    cfg.Scan.MaxKeywords,
		RankDeadline:   cfg.RankDeadline(),
		RankDelay:      cfg.RankDelay(),
		AIEnabled:      cfg.AI.Enabled,
		ArchiveReports: cfg.Scan.ArchiveReports,
	})

	app.apiServer = api.NewServer(app.gate, app.pipeline, app.store, app.pinger, *cfg, logger)
	return app, nil
}

func setupStore(ctx context.Context, app *App) error {
	cfg := app.cfg.Database
	switch cfg.Driver {
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:      cfg.DSN,
			MaxConns: int32(cfg.MaxOpenConns), //nolint:gosec // validated small positive value
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		if cfg.Migrate {
			if err := store.Migrate(ctx); err != nil {
				store.Close()
				return fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		app.pgStore, app.store, app.pinger = store, store, store
		app.logger.Info("using postgres scan store")
	case "sqlite":
		store, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.sqliteStore, app.store, app.pinger = store, store, store
		app.logger.Info("using sqlite scan store", zap.String("path", cfg.SQLitePath))
	default:
		app.logger.Warn("using in-memory scan store; scans are lost on restart")
		app.store = memorystorage.NewStore()
	}
	return nil
}

func setupStorage(ctx context.Context, app *App) (audit.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case "gcs":
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS report archive", zap.String("bucket", cfg.GCSBucket))
		return blobStore, nil
	case "s3":
		blobStore, err := s3storage.New(ctx, s3storage.Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		app.logger.Info("using S3 report archive", zap.String("bucket", cfg.S3Bucket))
		return blobStore, nil
	case "local":
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local report archive", zap.String("path", cfg.LocalDir))
		return blobStore, nil
	default:
		app.logger.Info("using in-memory report archive")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (audit.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.TopicName == "" || cfg.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(cfg.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupCrawler(app *App) (*collyfetcher.Fetcher, error) {
	cfg := app.cfg
	opts := []collyfetcher.Option{collyfetcher.WithLogger(app.logger.Named("crawl"))}
	if cfg.Headless.Enabled {
		renderer, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawl.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		app.renderer = renderer
		opts = append(opts, collyfetcher.WithRenderer(renderer, headless.NewDetector(cfg.Headless.PromotionThresh)))
		app.logger.Info("headless promotion enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawl.UserAgent,
		IgnoreRobots: cfg.Crawl.IgnoreRobots,
		Timeout:      time.Duration(cfg.Crawl.TimeoutSeconds) * time.Second,
		Parallelism:  cfg.Crawl.Parallelism,
		Delay:        time.Duration(cfg.Crawl.DelayMs) * time.Millisecond,
	}, opts...), nil
}

// setupRank returns nil when no SERP credential is configured, which makes
// the pipeline skip rank checking.
func setupRank(app *App, httpClient *http.Client, clock audit.Clock) *rank.Checker {
	cfg := app.cfg
	if !cfg.RankEnabled() {
		app.logger.Info("rank checking disabled: no SERP credential configured")
		return nil
	}
	var querier audit.RankQueryService = serp.New(serp.Config{
		Endpoint: cfg.Rank.Endpoint,
		APIKey:   cfg.Rank.APIKey,
		Timeout:  time.Duration(cfg.Rank.QueryTimeoutSeconds) * time.Second,
	}, httpClient)
	if cfg.Redis.Addr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		querier = rank.NewCachedQuerier(querier, app.redis,
			time.Duration(cfg.Rank.CacheTTLHours)*time.Hour, clock, app.logger)
		app.logger.Info("SERP cache enabled", zap.String("addr", cfg.Redis.Addr))
	}
	return rank.NewChecker(querier, time.Duration(cfg.Rank.QueryTimeoutSeconds)*time.Second, app.logger)
}
