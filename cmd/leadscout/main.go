// Package main wires together the leadscout service binary.
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

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/leadscout/leadscout/internal/api"
	"github.com/leadscout/leadscout/internal/browser"
	"github.com/leadscout/leadscout/internal/clock/system"
	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/engine"
	"github.com/leadscout/leadscout/internal/enrich"
	"github.com/leadscout/leadscout/internal/hub"
	iduuid "github.com/leadscout/leadscout/internal/id/uuid"
	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/lifecycle"
	"github.com/leadscout/leadscout/internal/logging"
	"github.com/leadscout/leadscout/internal/metrics"
	"github.com/leadscout/leadscout/internal/publisher"
	pubsubpublisher "github.com/leadscout/leadscout/internal/publisher/pubsub"
	"github.com/leadscout/leadscout/internal/scheduler"
	"github.com/leadscout/leadscout/internal/sites"
	gcsblob "github.com/leadscout/leadscout/internal/storage/gcs"
	localblob "github.com/leadscout/leadscout/internal/storage/local"
	memoryblob "github.com/leadscout/leadscout/internal/storage/memory"
	"github.com/leadscout/leadscout/internal/store"
	"github.com/leadscout/leadscout/internal/store/memory"
	"github.com/leadscout/leadscout/internal/store/postgres"
	"github.com/leadscout/leadscout/internal/worker"
)

const shutdownGrace = 15 * time.Second

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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.Init()

	clk := system.New()
	ids := iduuid.New()

	baseStore, closeStore, err := newResultStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build result store: %w", err)
	}
	defer closeStore()

	h := hub.New(baseStore, hub.Config{
		BufferSize:       cfg.Hub.BufferSize,
		SubscriberBuffer: cfg.Hub.SubscriberBuffer,
		CountTimeout:     cfg.Hub.CountTimeout(),
		Heartbeat:        cfg.Hub.Heartbeat(),
		Logger:           logger,
	})

	var emitter leads.Emitter = h
	if cfg.PubSub.ProjectID != "" {
		client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		defer pub.Close()
		emitter = publisher.NewMirror(h, pub, cfg.PubSub.Topic, logger)
	}

	resultStore := store.WithNotifications(baseStore, emitter, clk)

	snapshots, err := newSnapshotStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build snapshot store: %w", err)
	}

	eng := engine.New(engine.Config{
		ScrollDelta: cfg.Crawl.ScrollDelta,
		MaxScrolls:  cfg.Crawl.MaxScrolls,
		SettleMin:   cfg.Crawl.SettleMin(),
		SettleMax:   cfg.Crawl.SettleMax(),
		NavTimeout:  cfg.Browser.NavTimeout(),
		MaxPages:    cfg.Crawl.MaxPages,
	}, snapshots, logger)

	fetcher := enrich.NewCollyFetcher(enrich.FetcherConfig{
		UserAgent: cfg.Browser.UserAgent,
		Timeout:   cfg.Enrichment.ProbeTimeout(),
	})
	fanout := enrich.New(fetcher, resultStore, enrich.Config{
		Concurrency:    cfg.Enrichment.Concurrency,
		SecondaryPaths: cfg.Enrichment.SecondaryPaths,
	}, logger)

	factory := browser.NewFactory(browser.Config{
		UserAgent:  cfg.Browser.UserAgent,
		NavTimeout: cfg.Browser.NavTimeout(),
		Headful:    cfg.Browser.Headful,
	})
	defer factory.Close()

	runner := worker.New(resultStore, factory, eng, fanout, func(p leads.Project) []engine.SiteConfig {
		return sites.ForProject(p, clk)
	}, logger)

	tracker := lifecycle.NewTracker(resultStore, emitter, clk,
		lifecycle.CancelPartialPolicy(cfg.Scheduler.CancelPartial), logger)
	registry := lifecycle.NewRegistry()
	policy := scheduler.NewRetryPolicy(cfg.Scheduler.MaxAttempts, cfg.Scheduler.BackoffBase(), cfg.Scheduler.BackoffMax())
	sched := scheduler.New(resultStore, tracker, registry, runner, policy, ids, clk, logger)

	srv := api.NewServer(resultStore, sched, h, ids, clk, cfg, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	logger.Info("leadscout listening", zap.Int("port", cfg.Server.Port))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	// Drain in-flight runs before the hub stops accepting their events.
	sched.Shutdown()
	if err := h.Close(shutdownCtx); err != nil {
		logger.Warn("hub close incomplete", zap.Error(err))
	}
	return nil
}

// newResultStore selects Postgres when a DSN is configured and the in-memory
// store otherwise.
func newResultStore(ctx context.Context, cfg config.Config) (leads.ResultStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memory.New(), func() {}, nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
		MinConns: int32(cfg.DB.MinConns),
	})
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func newSnapshotStore(ctx context.Context, cfg config.Config) (leads.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsblob.New(client, gcsblob.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return localblob.New(localblob.Config{BaseDir: cfg.Storage.LocalDir})
	default:
		return memoryblob.NewBlobStore(), nil
	}
}
