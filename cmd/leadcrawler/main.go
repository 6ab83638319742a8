// Package main wires together the lead crawler service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/crashlens/leadcrawler/internal/antibot"
	"github.com/crashlens/leadcrawler/internal/api"
	"github.com/crashlens/leadcrawler/internal/browser"
	"github.com/crashlens/leadcrawler/internal/clock/system"
	"github.com/crashlens/leadcrawler/internal/config"
	"github.com/crashlens/leadcrawler/internal/crawl"
	"github.com/crashlens/leadcrawler/internal/dispatcher"
	"github.com/crashlens/leadcrawler/internal/enrich"
	"github.com/crashlens/leadcrawler/internal/id/uuid"
	"github.com/crashlens/leadcrawler/internal/leads"
	"github.com/crashlens/leadcrawler/internal/logging"
	"github.com/crashlens/leadcrawler/internal/metrics"
	"github.com/crashlens/leadcrawler/internal/parser"
	memorypublisher "github.com/crashlens/leadcrawler/internal/publisher/memory"
	pubsubpublisher "github.com/crashlens/leadcrawler/internal/publisher/pubsub"
	queuememory "github.com/crashlens/leadcrawler/internal/queue/memory"
	"github.com/crashlens/leadcrawler/internal/ratelimit"
	"github.com/crashlens/leadcrawler/internal/rotation"
	memorystorage "github.com/crashlens/leadcrawler/internal/storage/memory"
	"github.com/crashlens/leadcrawler/internal/storage/postgres"
	"github.com/crashlens/leadcrawler/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskStore := memorystorage.NewTaskStore()
	businessStore, closeStore, err := buildBusinessStore(ctx, cfg)
	if err != nil {
		logger.Fatal("business store init failed", zap.Error(err))
	}
	defer closeStore()

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closePublisher()

	queue := queuememory.NewQueue(cfg.Crawler.QueueDepth)
	clock := system.New()
	idGen := uuid.NewUUIDGenerator()
	detector := antibot.New()
	pageParser := parser.New(parser.Config{BaseURL: cfg.Crawler.SearchBaseURL})

	pool := buildRotationPool(cfg)
	minDelay, maxDelay := cfg.DelayWindow()

	workerCfg := worker.Config{
		SessionBudget:     cfg.SessionBudget(),
		MaxSessionRetries: cfg.Crawler.SessionMaxRetries,
	}
	if cfg.PubSub.Enabled {
		workerCfg.Topic = cfg.PubSub.TopicName
	}

	var (
		workers  []*worker.Worker
		browsers []*browser.Session
	)
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		userAgent := pool.NextUserAgent()
		browserSession, err := browser.New(browser.Config{
			Headless:        cfg.Browser.Headless,
			Proxy:           pool.NextProxy(),
			UserAgent:       userAgent,
			NavTimeout:      cfg.NavTimeout(),
			SearchBaseURL:   cfg.Crawler.SearchBaseURL,
			WindowWidth:     cfg.Browser.WindowWidth,
			WindowHeight:    cfg.Browser.WindowHeight,
			ScrollPause:     time.Duration(cfg.Browser.ScrollPauseMs) * time.Millisecond,
			DisableGPU:      cfg.Browser.DisableGPU,
			NoSandbox:       cfg.Browser.NoSandbox,
			SuppressImages:  cfg.Browser.SuppressImages,
			MaxNavPerSecond: cfg.Browser.MaxNavPerSecond,
		})
		if err != nil {
			logger.Fatal("browser launch failed", zap.Int("index", i), zap.Error(err))
		}
		browsers = append(browsers, browserSession)

		limiter := ratelimit.New(minDelay, maxDelay, cfg.BackoffBase())
		enricher := enrich.New(enrich.Config{
			Browser:    browserSession,
			Parser:     pageParser,
			Detector:   detector,
			Limiter:    limiter,
			Rotator:    pool,
			Store:      businessStore,
			Logger:     logging.Component(logger, "enrich"),
			MaxRetries: cfg.Crawler.DetailMaxRetries,
			UserAgent:  userAgent,
		})
		session := crawl.New(crawl.Config{
			Browser:         browserSession,
			Parser:          pageParser,
			Detector:        detector,
			Store:           businessStore,
			Enricher:        enricher,
			Limiter:         limiter,
			Logger:          logging.Component(logger, "crawl"),
			MaxScrollRounds: cfg.Crawler.ScrollMaxRounds,
		})
		workers = append(workers, worker.New(
			queue,
			taskStore,
			publisher,
			clock,
			session,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	defer func() {
		for _, b := range browsers {
			b.Close()
		}
	}()

	dispatch := dispatcher.New(queue, workers)
	apiServer := api.NewServer(taskStore, businessStore, dispatch, idGen, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}

func buildBusinessStore(ctx context.Context, cfg config.Config) (leads.Store, func(), error) {
	if cfg.DB.Driver == "postgres" {
		store, err := postgres.NewBusinessStore(ctx, postgres.BusinessStoreConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        int32(cfg.DB.MaxOpenConns),
			MinConns:        int32(cfg.DB.MinOpenConns),
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeSec) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return memorystorage.NewBusinessStore(), func() {}, nil
}

func buildPublisher(ctx context.Context, cfg config.Config) (leads.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return memorypublisher.New(), func() {}, nil
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := pub.Close(); err != nil {
			zap.L().Warn("pubsub close failed", zap.Error(err))
		}
	}
	return pub, closer, nil
}

func buildRotationPool(cfg config.Config) *rotation.Pool {
	proxies := cfg.Rotation.Proxies
	if len(proxies) == 0 && cfg.Rotation.ProxiesFile != "" {
		proxies = rotation.LoadLines(cfg.Rotation.ProxiesFile)
	}
	userAgents := cfg.Rotation.UserAgents
	if len(userAgents) == 0 && cfg.Rotation.UserAgentsFile != "" {
		userAgents = rotation.LoadLines(cfg.Rotation.UserAgentsFile)
	}
	return rotation.NewPool(proxies, userAgents)
}
