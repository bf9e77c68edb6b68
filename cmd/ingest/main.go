// Package main provides the ingest CLI: a one-shot driver that submits a
// single source file to the Stage Machine and waits for it to reach a
// terminal or review state, translating that state into a process exit
// code (spec.md §6: 0 completed, 2 failed, 3 paused for review).
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

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
	"github.com/knoguchi/ingestcore/internal/stage"
	"github.com/knoguchi/ingestcore/internal/stitcher"
	"github.com/knoguchi/ingestcore/internal/storage"
)

const (
	exitCompleted = 0
	exitUsage     = 1
	exitFailed    = 2
	exitReview    = 3
)

var (
	chunkerFlag string
	noClean     bool
	resume      bool
	owner       string
)

func main() {
	root := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Submit a document to the ingestion core and wait for it to settle",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
	root.Flags().StringVar(&chunkerFlag, "chunker", string(repository.ChunkerRecursive),
		"chunking strategy: recursive|semantic|token|sentence|late|code|hybrid")
	root.Flags().BoolVar(&noClean, "no-clean", false, "reset the Cleaner's part budget to its 6000-character default; the LLM pass still runs, with rule-based cleanup only on model failure")
	root.Flags().BoolVar(&resume, "resume", false, "resume an existing document instead of creating a new one")
	root.Flags().StringVar(&owner, "owner", "", "owning principal for this document (required)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	if owner == "" {
		return fmt.Errorf("--owner is required")
	}
	kind, err := sourceKindForPath(path)
	if err != nil {
		return err
	}
	if !isValidChunkerKind(chunkerFlag) {
		return fmt.Errorf("unknown --chunker %q", chunkerFlag)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if noClean {
		cfg.CleanerMaxPartChars = 0 // cleaner.New replaces a zero budget with its 6000-character default; the LLM pass is not skipped.
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	documentRepo := postgres.NewDocumentRepo(db)
	chunkRepo := postgres.NewChunkRepo(db)
	stageRepo := postgres.NewStageRepo(db)
	fileStorage := storage.NewFileStorage(cfg.StorageRoot)

	rawCache, err := cache.NewRawChunkCache(cfg.RawChunkCacheBytes)
	if err != nil {
		return fmt.Errorf("failed to create raw chunk cache: %w", err)
	}

	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{BaseURL: cfg.OllamaURL, Model: cfg.OllamaEmbeddingModel})
	llmClient := llm.NewOllamaClient(llm.WithBaseURL(cfg.OllamaURL), llm.WithModel(cfg.OllamaLLMModel))

	registry := pipeline.BuildRegistry(pipeline.Config{
		Extractor: extractor.Config{
			PagesPerBatch: cfg.PagesPerBatch, OverlapPages: cfg.OverlapPages,
			Workers: cfg.ExtractorWorkers, ContentFloorBytes: cfg.ContentFloorBytes, PageTimeout: cfg.PageTimeout,
		},
		Stitcher: stitcher.Config{
			MaxOverlapChars: cfg.MaxOverlapChars, MaxOverlapPercent: cfg.MaxOverlapPercent,
			MinOverlapChars: cfg.MinOverlapChars, FuzzyThreshold: cfg.FuzzyThreshold,
		},
		Cleaner: cleaner.Config{MaxPartChars: cfg.CleanerMaxPartChars},
		Chunker: chunker.Config{TargetTokens: cfg.ChunkTargetTokens, MaxTokens: cfg.ChunkMaxTokens, OverlapTokens: cfg.ChunkOverlapTokens},
		Matcher: matcher.Config{
			Workers: cfg.MatcherWorkers, ExactSimThreshold: cfg.ExactSimThreshold, SimHi: cfg.SimHi, SimLo: cfg.SimLo,
		},
		Enricher:       enricher.Config{Workers: cfg.EnricherWorkers},
		EmbedBatchSize: cfg.EmbedBatchSize,
	}, pipeline.Deps{
		Storage:    fileStorage,
		Chunks:     chunkRepo,
		Stages:     stageRepo,
		RawCache:   rawCache,
		Embedder:   embed,
		LLM:        llmClient,
		PageReader: extractor.NewFormFeedPageReader(),
	})

	machine := stage.New(documentRepo, stageRepo, registry, stage.Config{
		MaxRetries: cfg.MaxRetries,
		Backoff:    stage.BackoffConfig{Base: cfg.BackoffBase, Max: cfg.BackoffCap, Jitter: stage.DefaultBackoff.Jitter},
	})

	doc, err := resolveDocument(ctx, documentRepo, fileStorage, path, kind)
	if err != nil {
		return err
	}

	events, err := machine.Subscribe(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to document events: %w", err)
	}
	if err := machine.Enqueue(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to enqueue document: %w", err)
	}

	for ev := range events {
		switch ev.Status {
		case stage.EventPaused:
			fmt.Fprintf(os.Stdout, "paused for review at stage %s\n", ev.Stage)
			os.Exit(exitReview)
		case stage.EventFailed:
			fmt.Fprintf(os.Stderr, "ingestion failed at stage %s: %s\n", ev.Stage, ev.Error)
			os.Exit(exitFailed)
		}
		if ev.Stage == repository.StageCompleted {
			fmt.Fprintln(os.Stdout, "completed")
			os.Exit(exitCompleted)
		}
	}

	final, err := documentRepo.GetByID(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to load final document state: %w", err)
	}
	switch final.ProcessingStage {
	case repository.StageCompleted:
		os.Exit(exitCompleted)
	case repository.StageFailed:
		os.Exit(exitFailed)
	default:
		os.Exit(exitReview)
	}
	return nil
}

func resolveDocument(ctx context.Context, docs repository.DocumentRepository, store storage.Storage, path string, kind repository.SourceKind) (*repository.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	sourceHash := hex.EncodeToString(sum[:])

	if resume {
		existing, err := docs.GetBySourceHash(ctx, owner, sourceHash)
		if err == nil {
			return existing, nil
		}
	}

	now := time.Now()
	doc := &repository.Document{
		ID:              uuid.New(),
		Owner:           owner,
		SourceKind:      kind,
		SourcePath:      path,
		ChunkerKind:     repository.ChunkerKind(chunkerFlag),
		ProcessingStage: repository.StageQueued,
		RawExtra:        map[string]any{"source_sha256": sourceHash},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("creating document record: %w", err)
	}

	paths := storage.DocumentPaths{Owner: owner, DocumentID: doc.ID.String()}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if err := store.Upload(ctx, paths.Source(ext), data); err != nil {
		return nil, fmt.Errorf("uploading source artifact: %w", err)
	}

	return doc, nil
}

func sourceKindForPath(path string) (repository.SourceKind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return repository.SourceKindPDF, nil
	case ".epub":
		return repository.SourceKindEPUB, nil
	case ".md", ".markdown":
		return repository.SourceKindMarkdown, nil
	case ".txt", "":
		return repository.SourceKindText, nil
	default:
		return "", fmt.Errorf("unrecognized source extension %q", filepath.Ext(path))
	}
}

func isValidChunkerKind(v string) bool {
	switch repository.ChunkerKind(v) {
	case repository.ChunkerRecursive, repository.ChunkerSemantic, repository.ChunkerToken,
		repository.ChunkerSentence, repository.ChunkerLate, repository.ChunkerCode, repository.ChunkerHybrid:
		return true
	default:
		return false
	}
}
