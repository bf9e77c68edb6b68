package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knoguchi/ingestcore/internal/cache"
	"github.com/knoguchi/ingestcore/internal/chunker"
	"github.com/knoguchi/ingestcore/internal/cleaner"
	"github.com/knoguchi/ingestcore/internal/config"
	"github.com/knoguchi/ingestcore/internal/embedder"
	"github.com/knoguchi/ingestcore/internal/enricher"
	"github.com/knoguchi/ingestcore/internal/extractor"
	"github.com/knoguchi/ingestcore/internal/llm"
	"github.com/knoguchi/ingestcore/internal/matcher"
	"github.com/knoguchi/ingestcore/internal/pipeline"
	"github.com/knoguchi/ingestcore/internal/repository"
	"github.com/knoguchi/ingestcore/internal/repository/postgres"
	"github.com/knoguchi/ingestcore/internal/server"
	"github.com/knoguchi/ingestcore/internal/stage"
	"github.com/knoguchi/ingestcore/internal/stitcher"
	"github.com/knoguchi/ingestcore/internal/storage"
	"github.com/knoguchi/ingestcore/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	slog.Info("starting ingestion core",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	ownerRepo := postgres.NewOwnerRepo(db)
	documentRepo := postgres.NewDocumentRepo(db)
	chunkRepo := postgres.NewChunkRepo(db)
	stageRepo := postgres.NewStageRepo(db)

	fileStorage := storage.NewFileStorage(cfg.StorageRoot)

	rawCache, err := cache.NewRawChunkCache(cfg.RawChunkCacheBytes)
	if err != nil {
		return fmt.Errorf("failed to create raw chunk cache: %w", err)
	}

	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})
	slog.Info("initialized Ollama embedder", "model", cfg.OllamaEmbeddingModel)

	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	)
	slog.Info("initialized Ollama LLM", "model", cfg.OllamaLLMModel)

	var vecStore vectorstore.VectorStore
	if cfg.QdrantEnabled {
		qdrant, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL)
		if err != nil {
			return fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		defer qdrant.Close()
		vecStore = qdrant
		slog.Info("connected to Qdrant")
	}

	registry := pipeline.BuildRegistry(pipeline.Config{
		Extractor: extractor.Config{
			PagesPerBatch:     cfg.PagesPerBatch,
			OverlapPages:      cfg.OverlapPages,
			Workers:           cfg.ExtractorWorkers,
			ContentFloorBytes: cfg.ContentFloorBytes,
			PageTimeout:       cfg.PageTimeout,
		},
		Stitcher: stitcher.Config{
			MaxOverlapChars:   cfg.MaxOverlapChars,
			MaxOverlapPercent: cfg.MaxOverlapPercent,
			MinOverlapChars:   cfg.MinOverlapChars,
			FuzzyThreshold:    cfg.FuzzyThreshold,
		},
		Cleaner: cleaner.Config{
			MaxPartChars: cfg.CleanerMaxPartChars,
		},
		Chunker: chunker.Config{
			TargetTokens:  cfg.ChunkTargetTokens,
			MaxTokens:     cfg.ChunkMaxTokens,
			OverlapTokens: cfg.ChunkOverlapTokens,
		},
		Matcher: matcher.Config{
			Workers:           cfg.MatcherWorkers,
			ExactSimThreshold: cfg.ExactSimThreshold,
			SimHi:             cfg.SimHi,
			SimLo:             cfg.SimLo,
		},
		Enricher: enricher.Config{
			Workers: cfg.EnricherWorkers,
		},
		EmbedBatchSize: cfg.EmbedBatchSize,
	}, pipeline.Deps{
		Storage:     fileStorage,
		Chunks:      chunkRepo,
		Stages:      stageRepo,
		RawCache:    rawCache,
		Embedder:    embed,
		LLM:         llmClient,
		VectorStore: vecStore,
		PageReader:  extractor.NewFormFeedPageReader(),
		Logger:      logger,
	})

	machine := stage.New(documentRepo, stageRepo, registry, stage.Config{
		MaxRetries: cfg.MaxRetries,
		Backoff: stage.BackoffConfig{
			Base:   cfg.BackoffBase,
			Max:    cfg.BackoffCap,
			Jitter: stage.DefaultBackoff.Jitter,
		},
		Logger: logger,
	})

	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         logger,
		AllowedOrigins: []string{"*"},
		AdminAPIKey:    cfg.AdminAPIKey,
		Docs:           documentRepo,
		Chunks:         chunkRepo,
		Owners:         ownerRepo,
		Machine:        machine,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("stopped")
	return nil
}

// Ensure interfaces are satisfied at compile time, matching the
// teacher's main.go idiom of asserting its concrete wiring against the
// interfaces it depends on.
var (
	_ repository.OwnerRepository    = (*postgres.OwnerRepo)(nil)
	_ repository.DocumentRepository = (*postgres.DocumentRepo)(nil)
	_ repository.ChunkRepository    = (*postgres.ChunkRepo)(nil)
	_ repository.StageRepository    = (*postgres.StageRepo)(nil)
	_ vectorstore.VectorStore       = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder             = (*embedder.OllamaEmbedder)(nil)
	_ llm.LLM                       = (*llm.OllamaClient)(nil)
)
