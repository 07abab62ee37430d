// Package main wires together the news link processing service.
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

	gcstorage "cloud.google.com/go/storage"
	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/api"
	archivegcs "github.com/trendradar/newsflow/internal/archive/gcs"
	archivelocal "github.com/trendradar/newsflow/internal/archive/local"
	archivememory "github.com/trendradar/newsflow/internal/archive/memory"
	"github.com/trendradar/newsflow/internal/clock/system"
	"github.com/trendradar/newsflow/internal/config"
	"github.com/trendradar/newsflow/internal/dispatcher"
	"github.com/trendradar/newsflow/internal/enricher/noop"
	"github.com/trendradar/newsflow/internal/enricher/openai"
	"github.com/trendradar/newsflow/internal/extractor"
	"github.com/trendradar/newsflow/internal/extractor/direct"
	"github.com/trendradar/newsflow/internal/extractor/headless"
	"github.com/trendradar/newsflow/internal/extractor/reader"
	"github.com/trendradar/newsflow/internal/hash/sha256"
	"github.com/trendradar/newsflow/internal/id/uuid"
	"github.com/trendradar/newsflow/internal/ingest"
	"github.com/trendradar/newsflow/internal/logging"
	"github.com/trendradar/newsflow/internal/metrics"
	"github.com/trendradar/newsflow/internal/pipeline"
	publishermemory "github.com/trendradar/newsflow/internal/publisher/memory"
	publisherpubsub "github.com/trendradar/newsflow/internal/publisher/pubsub"
	queuememory "github.com/trendradar/newsflow/internal/queue/memory"
	"github.com/trendradar/newsflow/internal/recovery"
	"github.com/trendradar/newsflow/internal/scheduler"
	storagememory "github.com/trendradar/newsflow/internal/storage/memory"
	storagepostgres "github.com/trendradar/newsflow/internal/storage/postgres"
	"github.com/trendradar/newsflow/internal/worker"
)

// detectorMinContentBytes is the first-pass content length below which a
// page is considered an unrendered shell.
const detectorMinContentBytes = 200

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

	clock := system.New()

	var (
		links     pipeline.LinkStore
		results   pipeline.ResultStore
		blacklist pipeline.BlacklistStore
	)
	if cfg.DB.DSN != "" {
		pgStore, err := storagepostgres.NewLinkStore(ctx, storagepostgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Second,
		}, clock)
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pgStore.Close()
		links = pgStore
		results = pgStore
		blacklist = pgStore.Blacklist()
		logger.Info("using postgres store")
	} else {
		memStore := storagememory.NewLinkStore(clock)
		links = memStore
		results = memStore
		blacklist = storagememory.NewBlacklistStore(clock)
		logger.Warn("no db.dsn configured, using in-memory stores")
	}

	archive := buildArchive(ctx, cfg, logger)
	publisher, closePublisher := buildPublisher(ctx, cfg, logger)
	defer closePublisher()

	extract := buildExtractor(cfg, logger)
	headlessEx, detector := buildHeadless(cfg, logger)
	if headlessEx != nil {
		defer headlessEx.Close()
	}
	enricher := buildEnricher(cfg, logger)

	hasher := sha256.New()
	idGen := uuid.New()
	registrar := ingest.New(links, hasher, idGen, clock, logger.Named("ingest"))

	sched := scheduler.New(links, blacklist, clock, scheduler.Config{
		MaxConcurrentDomains: cfg.Pipeline.MaxConcurrentDomains,
		SameDomainDelay:      cfg.SameDomainDelay(),
		BatchLimit:           cfg.Pipeline.BatchLimit,
	}, logger.Named("scheduler"))
	if err := sched.Reconcile(ctx); err != nil {
		logger.Error("cooldown reconcile failed", zap.Error(err))
	}

	queue := queuememory.NewQueue(cfg.Pipeline.QueueDepth)
	dispatch := dispatcher.New(sched, queue, clock, cfg.PollInterval(), logger.Named("dispatcher"))

	workerCfg := worker.Config{
		RequestTimeout:    cfg.RequestTimeout(),
		ProcessingTimeout: cfg.ProcessingTimeout(),
		SnapshotPrefix:    cfg.Archive.Prefix,
		Topic:             cfg.PubSub.TopicName,
	}
	var headlessExtractor pipeline.Extractor
	if headlessEx != nil {
		headlessExtractor = headlessEx
	}
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		w := worker.New(
			queue, links, blacklist,
			extract, headlessExtractor, detector,
			enricher, archive, publisher,
			clock, sched.Release, workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		)
		go w.Run(ctx)
	}

	sweeper := recovery.New(links, cfg.StaleProcessingThreshold(), cfg.SweepInterval(),
		dispatch.Kick, logger.Named("recovery"))
	go sweeper.Run(ctx)
	go dispatch.Run(ctx)

	apiServer := api.NewServer(registrar, links, results, blacklist,
		dispatch, sweeper, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
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

func buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) pipeline.ArchiveStore {
	switch cfg.Archive.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			logger.Warn("gcs client init failed, snapshots disabled", zap.Error(err))
			return nil
		}
		store, err := archivegcs.New(client, archivegcs.Config{
			Bucket: cfg.Archive.GCSBucket,
			Prefix: cfg.Archive.Prefix,
		})
		if err != nil {
			logger.Warn("gcs archive init failed, snapshots disabled", zap.Error(err))
			return nil
		}
		return store
	case "local":
		store, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			logger.Warn("local archive init failed, snapshots disabled", zap.Error(err))
			return nil
		}
		return store
	case "memory":
		return archivememory.New()
	default:
		return nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Publisher, func()) {
	if cfg.PubSub.TopicName == "" {
		return nil, func() {}
	}
	if cfg.PubSub.ProjectID == "" {
		logger.Info("no pubsub project configured, using memory publisher")
		return publishermemory.New(), func() {}
	}
	client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Warn("pubsub client init failed, events disabled", zap.Error(err))
		return nil, func() {}
	}
	pub, err := publisherpubsub.New(client)
	if err != nil {
		logger.Warn("pubsub publisher init failed, events disabled", zap.Error(err))
		return nil, func() {}
	}
	return pub, pub.Close
}

func buildExtractor(cfg config.Config, logger *zap.Logger) pipeline.Extractor {
	if cfg.Extractor.ReaderBaseURL != "" {
		readerEx := reader.New(reader.Config{
			BaseURL:          cfg.Extractor.ReaderBaseURL,
			APIKey:           cfg.Extractor.ReaderAPIKey,
			MaxContentLength: cfg.Extractor.MaxContentLength,
			Timeout:          cfg.RequestTimeout(),
		}, logger.Named("reader"))
		if !cfg.Extractor.DirectFallback {
			return readerEx
		}
		directEx, err := newDirect(cfg, logger)
		if err != nil {
			logger.Warn("direct fallback init failed, reader only", zap.Error(err))
			return readerEx
		}
		return extractor.NewFallback(readerEx, directEx, logger.Named("extractor"))
	}
	ex, err := newDirect(cfg, logger)
	if err != nil {
		logger.Fatal("direct extractor init failed", zap.Error(err))
	}
	return ex
}

func newDirect(cfg config.Config, logger *zap.Logger) (*direct.Extractor, error) {
	return direct.New(direct.Config{
		UserAgent:        cfg.Extractor.UserAgent,
		RequestTimeout:   cfg.RequestTimeout(),
		MaxContentLength: cfg.Extractor.MaxContentLength,
	}, logger.Named("direct"))
}

func buildHeadless(cfg config.Config, logger *zap.Logger) (*headless.Extractor, pipeline.PromotionDetector) {
	if !cfg.Extractor.HeadlessEnabled {
		return nil, nil
	}
	ex, err := headless.New(headless.Config{
		MaxConcurrency:   cfg.Extractor.HeadlessMaxParallel,
		RenderTimeout:    time.Duration(cfg.Extractor.HeadlessNavTimeout) * time.Second,
		UserAgent:        cfg.Extractor.UserAgent,
		MaxContentLength: cfg.Extractor.MaxContentLength,
	}, logger.Named("headless"))
	if err != nil {
		logger.Warn("headless extractor init failed", zap.Error(err))
		return nil, nil
	}
	return ex, headless.NewDetector(detectorMinContentBytes, nil, nil)
}

func buildEnricher(cfg config.Config, logger *zap.Logger) pipeline.Enricher {
	if cfg.Enricher.APIURL == "" {
		logger.Warn("no enricher configured, using passthrough")
		return noop.New()
	}
	e, err := openai.New(openai.Config{
		Endpoint:  cfg.Enricher.APIURL,
		Model:     cfg.Enricher.Model,
		APIKey:    cfg.Enricher.APIKey,
		Languages: cfg.Enricher.Languages,
		Timeout:   cfg.ProcessingTimeout(),
	}, logger.Named("enricher"))
	if err != nil {
		logger.Warn("enricher init failed, using passthrough", zap.Error(err))
		return noop.New()
	}
	return e
}
