/**
 * Document Analysis Worker - Main Entry Point
 *
 * Queue-driven worker that analyzes scientific-paper page images:
 * - classification gate (remote API or local heuristic, Redis cached)
 * - layout detection (remote layout service or Tesseract)
 * - paragraph clustering, word statistics, compliance report
 * - PostgreSQL persistence with Qdrant vocabulary vectors
 *
 * Jobs arrive on a Redis list (QUEUE_BACKEND=redis) or through asynq
 * (QUEUE_BACKEND=asynq).
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docanalysis-worker/internal/cache"
	"github.com/adverant/nexus/docanalysis-worker/internal/clients"
	"github.com/adverant/nexus/docanalysis-worker/internal/compliance"
	"github.com/adverant/nexus/docanalysis-worker/internal/config"
	"github.com/adverant/nexus/docanalysis-worker/internal/health"
	"github.com/adverant/nexus/docanalysis-worker/internal/imaging"
	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/ocr"
	"github.com/adverant/nexus/docanalysis-worker/internal/processor"
	"github.com/adverant/nexus/docanalysis-worker/internal/queue"
	"github.com/adverant/nexus/docanalysis-worker/internal/storage"
)

// consumer is the part of either queue backend that main drives
type consumer interface {
	Start() error
	Stop() error
	GetStats(ctx context.Context) (map[string]int64, error)
}

func main() {
	logger := logging.NewLogger("Main")

	if err := godotenv.Load(".env.docanalysis"); err != nil {
		logger.Warn(".env.docanalysis not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Document analysis worker starting",
		"queue_backend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"classifier", cfg.ClassifierMode,
		"layout", cfg.LayoutMode,
		"qdrant_enabled", cfg.QdrantURL != "")

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	storageManager, err := storage.NewStorageManager(ctx, cfg.DatabaseURL, cfg.QdrantURL, cfg.QdrantCollection)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to initialize storage manager: %w", err)
	}
	defer func() {
		if err := storageManager.Close(); err != nil {
			logger.Error("Error closing storage manager", "error", err)
		}
	}()

	if err := storageManager.Migrate(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	logger.Info("Storage ready")

	var redisClient *redis.Client
	if cfg.EnableCache {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient = redis.NewClient(opt)
		defer redisClient.Close()
	}

	classifier, err := newClassifier(cfg, redisClient)
	if err != nil {
		return err
	}

	layoutProvider, err := newLayoutProvider(cfg)
	if err != nil {
		return err
	}

	orchestratorConfig := processor.OrchestratorConfig{
		Classifier:     classifier,
		Layout:         layoutProvider,
		Evaluator:      compliance.NewEvaluator(compliance.Rules{MinWords: cfg.MinWords, ExpectedParagraphs: cfg.ExpectedParagraphs}, cfg.ReportTemplatePath),
		TargetCategory: cfg.TargetCategory,
		DefaultTopN:    cfg.TopNWords,
	}
	if cfg.EnablePreprocessing {
		orchestratorConfig.Preprocessor = imaging.NewOrientationCorrector(cfg.TempDir)
	}

	orchestrator, err := processor.NewOrchestrator(orchestratorConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Orchestrator:     orchestrator,
		Store:            storageManager,
		TempDir:          cfg.TempDir,
		MaxFileSize:      cfg.MaxFileSize,
		DownloadTimeout:  cfg.ClientTimeoutDuration(),
		DownloadAttempts: uint(cfg.ClientMaxRetries) + 1,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize document processor: %w", err)
	}

	jobs, err := newConsumer(cfg, proc)
	if err != nil {
		return fmt.Errorf("failed to initialize queue consumer: %w", err)
	}
	if err := jobs.Start(); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}

	healthServer := health.NewServer(cfg.HealthAddr, storageManager, jobs)
	healthServer.Start()

	logger.Info("Worker ready, waiting for jobs", "health_addr", cfg.HealthAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal, shutting down", "signal", sig.String())

	if err := healthServer.Shutdown(context.Background()); err != nil {
		logger.Error("Error stopping health server", "error", err)
	}
	if err := jobs.Stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

func newClassifier(cfg *config.Config, redisClient *redis.Client) (processor.Classifier, error) {
	var classifier processor.Classifier

	switch cfg.ClassifierMode {
	case config.ClassifierModeRemote:
		client, err := clients.NewClassificationClient(clients.Options{
			BaseURL:    cfg.ClassificationAPIURL,
			APIKey:     cfg.ClassificationAPIKey,
			Timeout:    cfg.ClientTimeoutDuration(),
			MaxRetries: uint(cfg.ClientMaxRetries),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize classification client: %w", err)
		}
		classifier = client
	default:
		classifier = imaging.NewHeuristicClassifier()
	}

	if redisClient != nil {
		classifier = cache.NewClassificationCache(classifier, cache.NewRedisStore(redisClient), cfg.CacheTTL())
	}

	return classifier, nil
}

func newLayoutProvider(cfg *config.Config) (processor.LayoutProvider, error) {
	if cfg.LayoutMode == config.LayoutModeTesseract {
		provider, err := ocr.NewTesseractLayout(cfg.OCRLanguage)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Tesseract layout: %w", err)
		}
		return provider, nil
	}

	client, err := clients.NewLayoutClient(clients.Options{
		BaseURL:    cfg.LayoutAPIURL,
		Timeout:    cfg.ClientTimeoutDuration(),
		MaxRetries: uint(cfg.ClientMaxRetries),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize layout client: %w", err)
	}
	return client, nil
}

func newConsumer(cfg *config.Config, proc processor.DocumentProcessorInterface) (consumer, error) {
	if cfg.QueueBackend == config.QueueBackendAsynq {
		return queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.ProcessingTimeoutDuration(),
		})
	}

	return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		MaxRetries:        cfg.MaxRetries,
		Processor:         proc,
		ProcessingTimeout: cfg.ProcessingTimeoutDuration(),
	})
}
