// Package main wires together the browser capture service binary.
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

	"github.com/kawishanedirisinghe/Remote-browser/internal/api"
	"github.com/kawishanedirisinghe/Remote-browser/internal/browser"
	"github.com/kawishanedirisinghe/Remote-browser/internal/capture"
	"github.com/kawishanedirisinghe/Remote-browser/internal/clock/system"
	"github.com/kawishanedirisinghe/Remote-browser/internal/config"
	"github.com/kawishanedirisinghe/Remote-browser/internal/dispatcher"
	"github.com/kawishanedirisinghe/Remote-browser/internal/fetcher/static"
	"github.com/kawishanedirisinghe/Remote-browser/internal/hash/sha256"
	"github.com/kawishanedirisinghe/Remote-browser/internal/id/uuid"
	"github.com/kawishanedirisinghe/Remote-browser/internal/logging"
	memorypublisher "github.com/kawishanedirisinghe/Remote-browser/internal/publisher/memory"
	pubsubpublisher "github.com/kawishanedirisinghe/Remote-browser/internal/publisher/pubsub"
	queueMemory "github.com/kawishanedirisinghe/Remote-browser/internal/queue/memory"
	gcsStorage "github.com/kawishanedirisinghe/Remote-browser/internal/storage/gcs"
	localStorage "github.com/kawishanedirisinghe/Remote-browser/internal/storage/local"
	memoryStorage "github.com/kawishanedirisinghe/Remote-browser/internal/storage/memory"
	"github.com/kawishanedirisinghe/Remote-browser/internal/storage/postgres"
	"github.com/kawishanedirisinghe/Remote-browser/internal/worker"
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

	jobStore := memoryStorage.NewJobStore()
	queue := queueMemory.NewQueue(cfg.Capture.QueueDepth)
	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.New()

	blobStore, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}
	if closer, ok := blobStore.(interface{ Close() error }); ok {
		defer func() {
			if closeErr := closer.Close(); closeErr != nil {
				logger.Error("blob store close failed", zap.Error(closeErr))
			}
		}()
	}

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	if closer, ok := publisher.(interface{ Close() error }); ok {
		defer func() {
			if closeErr := closer.Close(); closeErr != nil {
				logger.Error("publisher close failed", zap.Error(closeErr))
			}
		}()
	}

	var sink capture.ArtifactSink
	if cfg.DB.DSN != "" {
		artifactStore, err := postgres.NewArtifactStore(ctx, postgres.ArtifactStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			logger.Fatal("artifact store init failed", zap.Error(err))
		}
		defer artifactStore.Close()
		sink = artifactStore
	}

	engine, err := browser.New(browser.Config{
		MaxParallel:       cfg.Browser.MaxParallel,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
		NoSandbox:         cfg.Browser.NoSandbox,
		DomainQPS:         cfg.Browser.DomainQPS,
	}, logging.Component(logger, "browser"))
	if err != nil {
		logger.Fatal("browser engine init failed", zap.Error(err))
	}
	defer engine.Close()

	fetcher := static.New(static.Config{
		UserAgent: cfg.Browser.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})

	workerCfg := worker.Config{
		BlobPrefix:  cfg.Storage.Prefix,
		Topic:       cfg.PubSub.TopicName,
		MaxAttempts: cfg.Capture.MaxAttempts,
	}

	var workers []*worker.Worker
	for i := 0; i < cfg.Capture.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			blobStore,
			sink,
			publisher,
			hasher,
			clock,
			idGen,
			engine,
			workerCfg,
			logging.Component(logger, "worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(engine, fetcher, jobStore, dispatch, idGen, clock, cfg, logging.Component(logger, "api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started")
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

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (capture.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "memory":
		return memoryStorage.NewBlobStore(), nil
	case "local":
		return localStorage.New(localStorage.Config{BaseDir: cfg.Storage.LocalDir})
	case "gcs":
		return gcsStorage.New(ctx, gcsStorage.Config{Bucket: cfg.Storage.GCSBucket}, logging.Component(logger, "gcs"))
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (capture.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return memorypublisher.New(), nil
	}
	return pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
}
