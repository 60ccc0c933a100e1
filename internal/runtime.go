package internal

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/starford/helmsman/internal/cache"
	"github.com/starford/helmsman/internal/contentservice"
	"github.com/starford/helmsman/internal/fetcher"
	"github.com/starford/helmsman/internal/index"
	"github.com/starford/helmsman/internal/metrics"
	"github.com/starford/helmsman/internal/ratelimit"
	"github.com/starford/helmsman/internal/retry"
	"github.com/starford/helmsman/internal/sse"
)

// runtime holds the wired components shared by every command.
type runtime struct {
	cfg     *Config
	logger  *slog.Logger
	cache   *cache.Cache
	db      *index.DB
	tracker *ratelimit.Tracker
	metrics *metrics.Collector
	broker  *sse.Broker
	svc     *contentservice.Service
}

// newRuntime builds the component graph from the application options.
func newRuntime(app *application) (*runtime, error) {
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("repository", cfg.Remote.Owner+"/"+cfg.Remote.Repo+"@"+cfg.Remote.Branch),
		slog.String("cache_dir", cfg.Cache.Dir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	api, err := url.Parse(cfg.Remote.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("api base url: %w", err)
	}

	c, err := cache.New(cfg.Cache.Dir, cache.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	m := metrics.NewCollector(cfg.App.MetricsNamespace)
	broker := sse.NewBroker(2 * time.Second)
	quotaEvents := broker.QuotaHook()

	tracker := ratelimit.NewTracker(api.Host,
		ratelimit.WithLogger(logger),
		ratelimit.WithOnChange(func(st ratelimit.Status) {
			m.SetQuotaRemaining(st.Remaining)
			quotaEvents(st)
		}))

	rs := retry.New(cfg.Retry.Policy(),
		retry.WithLogger(logger),
		retry.WithObserver(func(int, time.Duration, error) { m.ObserveRetry() }))

	f, err := fetcher.New(cfg.FetcherConfig(), c, tracker, rs,
		fetcher.WithLogger(logger),
		fetcher.WithMetrics(m))
	if err != nil {
		broker.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	svc := contentservice.NewService(f, c, db,
		contentservice.WithPublisher(broker),
		contentservice.WithMetrics(m),
		contentservice.WithLogger(logger),
		contentservice.WithMaxAge(cfg.Cache.MaxAge.Std()))

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		cache:   c,
		db:      db,
		tracker: tracker,
		metrics: m,
		broker:  broker,
		svc:     svc,
	}, nil
}

func (rt *runtime) Close() error {
	rt.broker.Close()
	return rt.db.Close()
}
