package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	qxcfg "quantx/internal/config"
	"quantx/internal/feed"
	"quantx/internal/gateway"
	"quantx/internal/heartbeat"
	"quantx/internal/license"
	"quantx/internal/logger"
	"quantx/internal/market"
	"quantx/internal/ratelimit"
	"quantx/internal/signal"
	"quantx/internal/store/gormstore"
	storemodel "quantx/internal/store/model"
	"quantx/internal/strategy"
	"quantx/internal/telemetry"
	qxhttp "quantx/internal/transport/http"
)

// AppBuilder 把各子系统的构造函数聚合在一处，便于测试替换。
type AppBuilder struct {
	cfg *qxcfg.Config

	storeFn   func(path string) (*gormstore.Store, error)
	catalogFn func(path string) (*market.Catalog, error)
	feedFn    func(cfg *qxcfg.Config, catalog *market.Catalog) *feed.Router
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *qxcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		storeFn:   gormstore.NewStore,
		catalogFn: market.NewCatalog,
		feedFn:    buildFeedRouter,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildFeedRouter(cfg *qxcfg.Config, catalog *market.Catalog) *feed.Router {
	return feed.NewRouter(gateway.NewSourceFactory(cfg), feed.Options{
		Primary:         cfg.Feed.PrimarySource,
		Order:           cfg.Feed.EnabledSourceNames(),
		ConnectWait:     time.Duration(cfg.Feed.ConnectWaitSeconds) * time.Second,
		ConnectRetries:  cfg.Feed.ConnectRetries,
		BreakerFailures: cfg.Feed.BreakerFailures,
		BreakerCooldown: time.Duration(cfg.Feed.BreakerCooldownSecs) * time.Second,
		IsOTC:           catalog.IsOTC,
	})
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	store, err := b.storeFn(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("init store failed: %w", err)
	}
	logger.Infof("✓ sqlite store ready at %s", cfg.Database.Path)

	catalog, err := b.catalogFn(cfg.Markets.CatalogPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init market catalog failed: %w", err)
	}

	licenses := license.NewService(store,
		time.Duration(cfg.Auth.CacheTTLSeconds)*time.Second,
		cfg.Auth.IsOwnerCategory)
	limiter := ratelimit.NewLimiter(
		time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
		cfg.RateLimit.MaxRequests)
	sink := telemetry.NewSink(store, cfg.Telemetry.QueueSizeHint)

	feedRouter := b.feedFn(cfg, catalog)

	pattern := strategy.NewPatternEngine()
	scorer := strategy.NewCompositeScorer(pattern, strategy.NewInstitutionalEngine())

	synchronizer := signal.NewSynchronizer(store, feedRouter, scorer,
		cfg.Signal.BucketSeconds, cfg.Signal.CandleCount)
	synchronizer.SetIssueHook(func(issue storemodel.SignalIssue) {
		sink.Submit(telemetry.IssueJob{Issue: issue})
	})

	hasAlphaKey := false
	if src, ok := cfg.Feed.ResolveSource("alphavantage"); ok {
		hasAlphaKey = strings.TrimSpace(src.APIKey) != ""
	}
	hb := heartbeat.NewTask(sink, feedRouter, hasAlphaKey, cfg.Heartbeat.IntervalDuration())

	apiRouter := qxhttp.NewRouter(licenses, limiter, synchronizer, sink, scorer, store, catalog, feedRouter)
	server, err := qxhttp.NewServer(cfg.App.HTTPAddr, apiRouter)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		store:     store,
		server:    server,
		sink:      sink,
		heartbeat: hb,
		feed:      feedRouter,
	}, nil
}
