// Package main wires together the shelfwatch service binary.
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

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/shelfwatch/shelfwatch/internal/alert"
	"github.com/shelfwatch/shelfwatch/internal/api"
	"github.com/shelfwatch/shelfwatch/internal/clock/system"
	"github.com/shelfwatch/shelfwatch/internal/config"
	"github.com/shelfwatch/shelfwatch/internal/connector"
	"github.com/shelfwatch/shelfwatch/internal/dispatcher"
	"github.com/shelfwatch/shelfwatch/internal/executor"
	collyfetcher "github.com/shelfwatch/shelfwatch/internal/fetcher/colly"
	headlessfetcher "github.com/shelfwatch/shelfwatch/internal/fetcher/headless"
	"github.com/shelfwatch/shelfwatch/internal/hash/sha256"
	"github.com/shelfwatch/shelfwatch/internal/id/uuid"
	"github.com/shelfwatch/shelfwatch/internal/logging"
	"github.com/shelfwatch/shelfwatch/internal/orchestrator"
	pubsubpublisher "github.com/shelfwatch/shelfwatch/internal/publisher/pubsub"
	queuememory "github.com/shelfwatch/shelfwatch/internal/queue/memory"
	"github.com/shelfwatch/shelfwatch/internal/ratelimit"
	"github.com/shelfwatch/shelfwatch/internal/snapshot"
	"github.com/shelfwatch/shelfwatch/internal/storage/gcs"
	"github.com/shelfwatch/shelfwatch/internal/storage/local"
	memorystorage "github.com/shelfwatch/shelfwatch/internal/storage/memory"
	"github.com/shelfwatch/shelfwatch/internal/storage/postgres"
	"github.com/shelfwatch/shelfwatch/internal/tracker"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	alerts, closeAlerts, err := buildAlertSink(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("alert sink init failed", zap.Error(err))
	}
	defer closeAlerts()

	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.New()

	var htmlFetcher connector.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	var renderFetcher connector.Fetcher = headlessfetcher.NewNoop()
	if cfg.Headless.Enabled {
		chromeFetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			renderFetcher = chromeFetcher
			// Static storefronts occasionally serve an SPA shell instead of
			// full HTML; promote those fetches to the browser.
			htmlFetcher = headlessfetcher.NewPromoting(htmlFetcher, chromeFetcher, nil, logger.Named("promote"))
		}
	}

	registry := connector.NewRegistry(
		connector.NewOzon(renderFetcher),
		connector.NewWildberries(htmlFetcher),
		connector.NewVkusVill(htmlFetcher),
		connector.NewPerekrestok(htmlFetcher),
		connector.NewLavka(renderFetcher),
	)

	limiter := ratelimit.New(ratelimitConfig(cfg))
	queue := queuememory.NewQueue(cfg.Scraper.QueueDepth)
	policy := tracker.NewRetryPolicy(tracker.RetryConfig{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseDelay:         time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		ParseTransientFor: cfg.Retry.ParseTransientFor,
	})

	snapshots := snapshot.New(store, hasher, clock, idGen, blobs, alerts, snapshot.Config{
		BlobPrefix:  cfg.Storage.Prefix,
		ContentType: cfg.Storage.ContentType,
	}, logger.Named("snapshot"))

	exec := executor.New(store, registry, limiter, snapshots, policy, queue, executor.Config{
		AcquireTimeout: cfg.AcquireTimeout(),
		FetchTimeout:   cfg.FetchTimeout(),
	}, logger.Named("executor"))

	orch := orchestrator.New(store, registry, queue, clock, idGen, orchestrator.Config{
		MaxURLs: cfg.Scraper.MaxURLsPerRun,
	}, logger.Named("orchestrator"))

	dispatch := dispatcher.New(queue, exec.Execute, orch.ItemFinished, cfg.Scraper.Concurrency, logger.Named("dispatcher"))

	apiServer := api.NewServer(orch, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Scraper.Concurrency))
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
}

func buildStore(ctx context.Context, cfg config.Config) (tracker.Store, func(), error) {
	if cfg.DB.DSN == "" {
		return memorystorage.NewTrackerStore(), func() {}, nil
	}
	store, err := postgres.NewTrackerStore(ctx, postgres.TrackerStoreConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMinute) * time.Minute,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (tracker.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "":
		return nil, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildAlertSink(ctx context.Context, cfg config.Config, logger *zap.Logger) (tracker.AlertSink, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return alert.NewLogSink(logger.Named("alerts")), func() {}, nil
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if closeErr := pub.Close(); closeErr != nil {
			logger.Warn("pubsub publisher close failed", zap.Error(closeErr))
		}
	}
	return alert.NewPublisherSink(pub, logger.Named("alerts")), closeFn, nil
}

func ratelimitConfig(cfg config.Config) ratelimit.Config {
	out := ratelimit.Config{
		Default: ratelimit.BucketConfig{
			RPS:   cfg.RateLimit.Default.RPS,
			Burst: cfg.RateLimit.Default.Burst,
		},
		Retailers: make(map[string]ratelimit.BucketConfig, len(cfg.RateLimit.Retailers)),
	}
	for code, bucket := range cfg.RateLimit.Retailers {
		out.Retailers[code] = ratelimit.BucketConfig{RPS: bucket.RPS, Burst: bucket.Burst}
	}
	return out
}
