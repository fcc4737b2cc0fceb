package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/api"
	"github.com/tendant/simple-upload/pkg/simpleupload/commit"
	"github.com/tendant/simple-upload/pkg/simpleupload/metrics"
	"github.com/tendant/simple-upload/pkg/simpleupload/publish"
	"github.com/tendant/simple-upload/pkg/simpleupload/repo/memory"
	repopg "github.com/tendant/simple-upload/pkg/simpleupload/repo/postgres"
	"github.com/tendant/simple-upload/pkg/simpleupload/stage"
	"github.com/tendant/simple-upload/pkg/simpleupload/storage/breaker"
	fsstorage "github.com/tendant/simple-upload/pkg/simpleupload/storage/fs"
	memorystorage "github.com/tendant/simple-upload/pkg/simpleupload/storage/memory"
	miniostorage "github.com/tendant/simple-upload/pkg/simpleupload/storage/minio"
	s3storage "github.com/tendant/simple-upload/pkg/simpleupload/storage/s3"
	"github.com/tendant/simple-upload/pkg/simpleupload/variant"
)

// App holds the components built from a ServerConfig.
type App struct {
	Config     *ServerConfig
	Store      simpleupload.BlobStore
	Repository simpleupload.Repository
	Service    simpleupload.Service
	Engine     *commit.Engine
	Behavior   *commit.Behavior
	Stagers    []*stage.Stager
	Publisher  *publish.Publisher
	Metrics    *metrics.Collector
	Hooks      *simpleupload.Hooks

	gatherer prometheus.Gatherer
	logger   *slog.Logger
	closers  []func()
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	hooks      *simpleupload.Hooks
	eventSink  simpleupload.EventSink
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) BuildOption {
	return func(o *buildOptions) {
		o.logger = l
	}
}

// WithRegistry registers metrics with reg instead of the global registry.
func WithRegistry(reg *prometheus.Registry) BuildOption {
	return func(o *buildOptions) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// WithHooks adds hooks after the built-in ones.
func WithHooks(h *simpleupload.Hooks) BuildOption {
	return func(o *buildOptions) {
		o.hooks = h
	}
}

// WithEventSink sets the sink notified of staged, committed and removed files.
func WithEventSink(s simpleupload.EventSink) BuildOption {
	return func(o *buildOptions) {
		o.eventSink = s
	}
}

// Build wires every component of the server.
func (c *ServerConfig) Build(ctx context.Context, opts ...BuildOption) (*App, error) {
	o := buildOptions{
		logger:     slog.Default(),
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		eventSink:  simpleupload.NewNoopEventSink(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{Config: c, gatherer: o.gatherer, logger: o.logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	hookSets := []*simpleupload.Hooks{}
	if c.Metrics.Enabled {
		collector, err := metrics.New(c.Metrics.Namespace, o.registerer)
		if err != nil {
			return nil, err
		}
		app.Metrics = collector
		hookSets = append(hookSets, collector.Hooks())
	}
	hookSets = append(hookSets, o.hooks)
	app.Hooks = simpleupload.Merge(hookSets...)

	store, sharder, err := c.BuildStore(ctx, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage backend: %w", err)
	}
	app.Store = store

	repo, closeRepo, err := c.BuildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	app.Repository = repo
	if closeRepo != nil {
		app.closers = append(app.closers, closeRepo)
	}

	settings := c.Upload.Settings()
	set, err := variant.Resolve(settings)
	if err != nil {
		return nil, err
	}

	engineOpts := []commit.Option{commit.WithHooks(app.Hooks), commit.WithLogger(o.logger)}
	if sharder != nil {
		engineOpts = append(engineOpts, commit.WithSharder(sharder))
	}
	app.Engine, err = commit.NewEngine(store, settings, set, engineOpts...)
	if err != nil {
		return nil, err
	}

	app.Publisher, err = publish.New(c.Publish.BaseURL, c.Publish.CacheSize)
	if err != nil {
		return nil, err
	}

	app.Behavior, err = commit.NewBehavior(app.Engine, c.Attributes,
		commit.WithURLBuilder(app.Publisher),
		commit.WithEventSink(o.eventSink),
		commit.WithBehaviorLogger(o.logger))
	if err != nil {
		return nil, err
	}

	app.Service, err = simpleupload.New(
		simpleupload.WithRepository(repo),
		simpleupload.WithLifecycle(app.Behavior),
		simpleupload.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	generator := stage.NewGenerator(c.Upload.NameGenerator)
	for _, attr := range c.Attributes {
		stager, err := stage.New(stage.Config{
			TempDir:   settings.TempDir,
			Layout:    settings.Layout,
			Attribute: attr,
			Variants:  set,
			Generator: generator,
			Hooks:     app.Hooks,
			EventSink: o.eventSink,
			Logger:    o.logger,
		})
		if err != nil {
			return nil, err
		}
		app.Stagers = append(app.Stagers, stager)
	}

	ok = true
	return app, nil
}

// BuildStore creates the BlobStore selected by the configuration. The sharder
// is non-nil only for a sharded filesystem store.
func (c *ServerConfig) BuildStore(ctx context.Context, logger *slog.Logger) (simpleupload.BlobStore, commit.Sharder, error) {
	var (
		store   simpleupload.BlobStore
		sharder commit.Sharder
	)
	sc := c.Storage

	switch sc.Type {
	case "memory":
		store = memorystorage.New()

	case "fs":
		backend, err := fsstorage.New(fsstorage.Config{
			BaseDir: sc.BaseDir,
			Shard:   fsstorage.ShardPolicy{MaxFilesPerDir: sc.MaxFilesPerDir},
		})
		if err != nil {
			return nil, nil, err
		}
		store = backend
		if sc.MaxFilesPerDir > 0 {
			sharder = backend
		}

	case "s3":
		backend, err := s3storage.New(s3storage.Config{
			Region:                 sc.Region,
			Bucket:                 sc.Bucket,
			AccessKeyID:            sc.AccessKeyID,
			SecretAccessKey:        sc.SecretAccessKey,
			Endpoint:               sc.Endpoint,
			UsePathStyle:           sc.UsePathStyle,
			Prefix:                 sc.Prefix,
			EnableSSE:              sc.EnableSSE,
			SSEAlgorithm:           sc.SSEAlgorithm,
			SSEKMSKeyID:            sc.SSEKMSKeyID,
			CreateBucketIfNotExist: sc.CreateBucketIfNotExist,
		})
		if err != nil {
			return nil, nil, err
		}
		store = backend

	case "minio":
		backend, err := miniostorage.New(ctx, miniostorage.Config{
			Endpoint:               sc.Endpoint,
			Bucket:                 sc.Bucket,
			Region:                 sc.Region,
			AccessKeyID:            sc.AccessKeyID,
			SecretAccessKey:        sc.SecretAccessKey,
			UseSSL:                 sc.UseSSL,
			Prefix:                 sc.Prefix,
			CreateBucketIfNotExist: sc.CreateBucketIfNotExist,
		})
		if err != nil {
			return nil, nil, err
		}
		store = backend

	default:
		return nil, nil, fmt.Errorf("unsupported storage backend type: %s", sc.Type)
	}

	if sc.Breaker.Enabled {
		store = breaker.New(store, breaker.Config{
			Name:                "storage-" + sc.Type,
			ConsecutiveFailures: sc.Breaker.ConsecutiveFailures,
			Timeout:             sc.Breaker.Timeout,
			Logger:              logger,
		})
	}
	return store, sharder, nil
}

// BuildRepository creates the record Repository. The returned function, when
// non-nil, releases the database pool.
func (c *ServerConfig) BuildRepository(ctx context.Context) (simpleupload.Repository, func(), error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil, nil
	case "postgres":
		if c.DatabaseURL == "" {
			return nil, nil, errors.New("database_url is required for postgres")
		}
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		if schema := c.DBSchema; schema != "" {
			cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
				_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
				return err
			}
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("database ping failed: %w", err)
		}

		repo := repopg.NewWithPool(pool)
		if c.DBMigrate {
			if err := repo.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return repo, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// Sweeper returns the temp sweeper configured by Sweep.TTL.
func (a *App) Sweeper() *stage.Sweeper {
	return stage.NewSweeper(a.Config.Upload.TempDir, a.Config.Sweep.TTL, stage.WithSweepLogger(a.logger))
}

// Router returns the HTTP surface of the app.
func (a *App) Router() http.Handler {
	cfg := api.RouterConfig{
		Uploads: api.NewUploadHandler(a.Stagers,
			api.WithFieldName(a.Config.Upload.FieldName),
			api.WithUploadLogger(a.logger)),
		Records:         api.NewRecordsHandler(a.Service, a.Behavior),
		MaxRequestBytes: a.Config.Upload.MaxRequestBytes,
		Logger:          a.logger,
	}
	if a.Config.Publish.ServeFiles {
		cfg.Files = api.NewFilesHandler(a.Store)
	}
	if a.Metrics != nil {
		cfg.Metrics = promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})
	}
	return api.NewRouter(cfg)
}

// Close releases the resources held by the app.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
