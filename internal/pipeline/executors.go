// Package pipeline wires the Batch Extractor, Stitcher, Cleaner,
// Chunker, Bulletproof Matcher, Metadata Transfer, and Enricher into
// Stage Machine Executors. This is the glue the teacher's main()
// provided inline for its gRPC services; here it is split out since the
// registry spans every domain package rather than three services.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/ingestcore/internal/cache"
	"github.com/knoguchi/ingestcore/internal/chunker"
	"github.com/knoguchi/ingestcore/internal/cleaner"
	"github.com/knoguchi/ingestcore/internal/embedder"
	"github.com/knoguchi/ingestcore/internal/enricher"
	"github.com/knoguchi/ingestcore/internal/extractor"
	"github.com/knoguchi/ingestcore/internal/ingesterr"
	"github.com/knoguchi/ingestcore/internal/llm"
	"github.com/knoguchi/ingestcore/internal/matcher"
	"github.com/knoguchi/ingestcore/internal/metadata"
	"github.com/knoguchi/ingestcore/internal/repository"
	"github.com/knoguchi/ingestcore/internal/stage"
	"github.com/knoguchi/ingestcore/internal/stitcher"
	"github.com/knoguchi/ingestcore/internal/storage"
	"github.com/knoguchi/ingestcore/internal/vectorstore"
)

// Config bundles every tunable the registry's Executors need, mirroring
// the relevant sections of config.Config without importing it directly
// (keeps pipeline free of a dependency on the env-parsing layer).
type Config struct {
	Extractor extractor.Config
	Stitcher  stitcher.Config
	Cleaner   cleaner.Config
	Chunker   chunker.Config
	Matcher   matcher.Config
	Enricher  enricher.Config

	EmbedBatchSize int
}

// Deps bundles the collaborators the registry's Executors call into.
type Deps struct {
	Storage     storage.Storage
	Chunks      repository.ChunkRepository
	Stages      repository.StageRepository
	RawCache    *cache.RawChunkCache
	Embedder    embedder.Embedder
	LLM         llm.LLM
	VectorStore vectorstore.VectorStore
	PageReader  extractor.PageReader
	Logger      *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// intermediatePaths names the non-durable-contract artifacts the
// pipeline persists between running stages, alongside the fixed set
// storage.DocumentPaths exposes for the five durable artifacts spec.md
// §6 requires (content.md, chunks.json, cached_chunks.json,
// metadata.json, manifest.json).
type intermediatePaths struct{ storage.DocumentPaths }

func (p intermediatePaths) ExtractedMD() string { return p.Owner + "/" + p.DocumentID + "/extracted.md" }

func sourceExt(kind repository.SourceKind) string {
	switch kind {
	case repository.SourceKindPDF:
		return "pdf"
	case repository.SourceKindEPUB:
		return "epub"
	case repository.SourceKindMarkdown:
		return "md"
	default:
		return "txt"
	}
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// BuildRegistry constructs the map[stage.State]stage.Executor the Stage
// Machine dispatches to, one Executor per running state (spec §4.8).
func BuildRegistry(cfg Config, deps Deps) map[stage.State]stage.Executor {
	return map[stage.State]stage.Executor{
		repository.StageExtracting: extractingExecutor(cfg, deps),
		repository.StageCleaning:   cleaningExecutor(cfg, deps),
		repository.StageChunking:   chunkingExecutor(cfg, deps),
		repository.StageMatching:   matchingExecutor(cfg, deps),
		repository.StageEnriching:  enrichingExecutor(cfg, deps),
		repository.StageEmbedding:  embeddingExecutor(cfg, deps),
	}
}

func paths(doc *repository.Document) intermediatePaths {
	return intermediatePaths{storage.DocumentPaths{Owner: doc.Owner, DocumentID: doc.ID.String()}}
}

// extractingExecutor runs the Batch Extractor over the source artifact
// and immediately stitches the resulting batches, since nothing else in
// the DAG consumes unstitched batches individually.
func extractingExecutor(cfg Config, deps Deps) stage.Executor {
	ex := extractor.NewTextExtractor(deps.PageReader)

	return func(ctx context.Context, doc *repository.Document, rep *stage.Reporter) (string, error) {
		p := paths(doc)
		source, err := deps.Storage.Download(ctx, p.Source(sourceExt(doc.SourceKind)))
		if err != nil {
			return "", fmt.Errorf("pipeline: download source: %w", err)
		}

		hash := hashBytes(source)
		if skip, err := rep.Checkpoint(ctx, hash); err != nil {
			return "", err
		} else if skip {
			return hash, nil
		}

		results, err := ex.Extract(ctx, string(source), cfg.Extractor)
		if err != nil {
			return "", fmt.Errorf("pipeline: extract: %w", err)
		}

		// Per spec.md §4.1/§7: a failed batch is recorded and skipped, it
		// never aborts the document. Only a source that yields zero usable
		// batches is stage-fatal.
		ordered := extractor.Collect(results)
		var batches []string
		var raw []*repository.RawChunk
		var failed []error
		for i, r := range ordered {
			if !r.OK {
				failed = append(failed, r.Err)
				deps.logger().Warn("extract batch failed, continuing with remaining batches",
					"document_id", doc.ID, "batch_index", r.BatchIndex, "error", r.Err)
				continue
			}
			batches = append(batches, r.Markdown)
			raw = append(raw, r.RawChunks...)
			rep.Progress(float64(i+1) / float64(len(ordered)))
		}
		if len(batches) == 0 {
			return "", fmt.Errorf("pipeline: all %d batches failed: %w", len(ordered), errors.Join(failed...))
		}

		stitched := stitcher.Stitch(batches, cfg.Stitcher)

		if err := deps.Storage.Upload(ctx, p.ExtractedMD(), []byte(stitched.Markdown)); err != nil {
			return "", fmt.Errorf("pipeline: upload extracted markdown: %w", err)
		}
		rawJSON, err := json.Marshal(raw)
		if err != nil {
			return "", fmt.Errorf("pipeline: marshal raw chunks: %w", err)
		}
		if err := deps.Storage.Upload(ctx, p.CachedChunksJSON(), rawJSON); err != nil {
			return "", fmt.Errorf("pipeline: upload cached chunks: %w", err)
		}
		if deps.RawCache != nil {
			deps.RawCache.Put(doc.ID, raw)
		}

		// Surface the per-batch failures at stage completion (spec §7),
		// visible on the persisted document rather than only in logs.
		if len(failed) > 0 {
			if doc.RawExtra == nil {
				doc.RawExtra = map[string]any{}
			}
			msgs := make([]string, len(failed))
			for i, e := range failed {
				msgs[i] = e.Error()
			}
			doc.RawExtra["extract_batch_failures"] = msgs
		}

		return hash, nil
	}
}

// cleaningExecutor invokes the Cleaner over the stitched extracted
// markdown and persists the result as the document's authoritative
// offset-bearing text (spec §3, §4.3).
func cleaningExecutor(cfg Config, deps Deps) stage.Executor {
	c := cleaner.New(deps.LLM, cfg.Cleaner)

	return func(ctx context.Context, doc *repository.Document, rep *stage.Reporter) (string, error) {
		p := paths(doc)
		extracted, err := deps.Storage.Download(ctx, p.ExtractedMD())
		if err != nil {
			return "", fmt.Errorf("pipeline: download extracted markdown: %w", err)
		}

		hash := hashBytes(extracted)
		if skip, err := rep.Checkpoint(ctx, hash); err != nil {
			return "", err
		} else if skip {
			return hash, nil
		}

		cleaned, err := c.Clean(ctx, string(extracted))
		if err != nil {
			return "", fmt.Errorf("pipeline: clean: %w", err)
		}
		rep.Progress(1)

		if err := deps.Storage.Upload(ctx, p.ContentMD(), []byte(cleaned.Text)); err != nil {
			return "", fmt.Errorf("pipeline: upload cleaned markdown: %w", err)
		}

		doc.MarkdownPath = p.ContentMD()
		doc.WordCount = wordCount(cleaned.Text)

		return hash, nil
	}
}

// chunkingExecutor splits the cleaned markdown into the document's
// initial chunk set under its configured strategy (spec §4.4). Matching
// and metadata transfer happen afterward, in StageMatching.
func chunkingExecutor(cfg Config, deps Deps) stage.Executor {
	return func(ctx context.Context, doc *repository.Document, rep *stage.Reporter) (string, error) {
		p := paths(doc)
		cleaned, err := deps.Storage.Download(ctx, p.ContentMD())
		if err != nil {
			return "", fmt.Errorf("pipeline: download cleaned markdown: %w", err)
		}

		hash := hashBytes(cleaned)
		if skip, err := rep.Checkpoint(ctx, hash); err != nil {
			return "", err
		} else if skip {
			return hash, nil
		}

		ccfg := cfg.Chunker
		ccfg.Strategy = doc.ChunkerKind
		ccfg.Embedder = deps.Embedder
		ch := chunker.New(ccfg)

		chunks, err := ch.Chunk(ctx, doc.ID, string(cleaned))
		if err != nil {
			return "", fmt.Errorf("pipeline: chunk: %w", err)
		}
		rep.Progress(1)

		if err := deps.Chunks.ReplaceCurrent(ctx, doc.ID, chunks); err != nil {
			return "", fmt.Errorf("pipeline: store chunks: %w", err)
		}
		chunksJSON, err := storage.MarshalCanonical(chunks)
		if err != nil {
			return "", fmt.Errorf("pipeline: marshal chunks: %w", err)
		}
		if err := deps.Storage.Upload(ctx, p.ChunksJSON(), chunksJSON); err != nil {
			return "", fmt.Errorf("pipeline: upload chunks: %w", err)
		}

		return hash, nil
	}
}

// matchingExecutor runs the Bulletproof Matcher to recover each chunk's
// provenance (page span, bounding boxes, heading path) from the raw
// extractor chunks, then transfers it onto the chunk set (spec §4.5,
// §4.6).
func matchingExecutor(cfg Config, deps Deps) stage.Executor {
	m := matcher.New(cfg.Matcher, deps.Embedder, deps.LLM)

	return func(ctx context.Context, doc *repository.Document, rep *stage.Reporter) (string, error) {
		p := paths(doc)
		cleanedBytes, err := deps.Storage.Download(ctx, p.ContentMD())
		if err != nil {
			return "", fmt.Errorf("pipeline: download cleaned markdown: %w", err)
		}
		rawJSON, err := deps.Storage.Download(ctx, p.CachedChunksJSON())
		if err != nil {
			return "", fmt.Errorf("pipeline: download cached chunks: %w", err)
		}

		hash := hashBytes(append(append([]byte{}, cleanedBytes...), rawJSON...))
		if skip, err := rep.Checkpoint(ctx, hash); err != nil {
			return "", err
		} else if skip {
			return hash, nil
		}

		var raw []*repository.RawChunk
		if err := json.Unmarshal(rawJSON, &raw); err != nil {
			return "", fmt.Errorf("pipeline: unmarshal raw chunks: %w", err)
		}

		matched, err := m.Match(ctx, string(cleanedBytes), raw, len(cleanedBytes))
		if err != nil {
			return "", fmt.Errorf("pipeline: match: %w", err)
		}
		rep.Progress(0.5)

		chunks, err := deps.Chunks.GetCurrent(ctx, doc.ID)
		if err != nil {
			return "", fmt.Errorf("pipeline: load chunks: %w", err)
		}
		chunks = metadata.Transfer(chunks, matched)
		if doc.SourceKind == repository.SourceKindEPUB {
			metadata.SetEPUBDefaults(chunks)
		}
		rep.Progress(1)

		if err := deps.Chunks.ReplaceCurrent(ctx, doc.ID, chunks); err != nil {
			return "", fmt.Errorf("pipeline: store matched chunks: %w", err)
		}

		return hash, nil
	}
}

// enrichingExecutor runs the Enricher over the current chunk set,
// attaching themes, concepts, importance, summary, emotional read, and
// domain classification (spec §4.7).
func enrichingExecutor(cfg Config, deps Deps) stage.Executor {
	e := enricher.New(deps.LLM, cfg.Enricher, nil)

	return func(ctx context.Context, doc *repository.Document, rep *stage.Reporter) (string, error) {
		chunks, err := deps.Chunks.GetCurrent(ctx, doc.ID)
		if err != nil {
			return "", fmt.Errorf("pipeline: load chunks: %w", err)
		}

		hash, err := storage.MarshalCanonical(chunks)
		if err != nil {
			return "", fmt.Errorf("pipeline: hash chunks: %w", err)
		}
		checksum := hashBytes(hash)
		if skip, err := rep.Checkpoint(ctx, checksum); err != nil {
			return "", err
		} else if skip {
			return checksum, nil
		}

		if err := e.EnrichAll(ctx, chunks); err != nil {
			return "", fmt.Errorf("pipeline: enrich: %w", err)
		}
		rep.Progress(1)

		if err := deps.Chunks.ReplaceCurrent(ctx, doc.ID, chunks); err != nil {
			return "", fmt.Errorf("pipeline: store enriched chunks: %w", err)
		}

		return checksum, nil
	}
}

// embeddingExecutor computes embeddings in batches of cfg.EmbedBatchSize
// and, when a vector store is configured, upserts them as the optional
// embedding sink (spec §5: "embeddings are computed in batches of
// B_emb"; vectorstore itself is out of this repo's retrieval scope).
// As the final running state, it also emits the two remaining
// durable artifacts spec.md §6 requires per document:
// metadata.json and manifest.json.
func embeddingExecutor(cfg Config, deps Deps) stage.Executor {
	return func(ctx context.Context, doc *repository.Document, rep *stage.Reporter) (string, error) {
		p := paths(doc)

		chunks, err := deps.Chunks.GetCurrent(ctx, doc.ID)
		if err != nil {
			return "", fmt.Errorf("pipeline: load chunks: %w", err)
		}

		raw, err := storage.MarshalCanonical(chunks)
		if err != nil {
			return "", fmt.Errorf("pipeline: hash chunks: %w", err)
		}
		checksum := hashBytes(raw)
		if skip, err := rep.Checkpoint(ctx, checksum); err != nil {
			return "", err
		} else if skip {
			if err := checkExistingManifest(ctx, deps, p); err != nil {
				return "", err
			}
			return checksum, nil
		}

		if deps.Embedder == nil {
			return "", ingesterr.ErrNoEmbedder
		}

		batchSize := cfg.EmbedBatchSize
		if batchSize <= 0 {
			batchSize = 32
		}
		for start := 0; start < len(chunks); start += batchSize {
			end := start + batchSize
			if end > len(chunks) {
				end = len(chunks)
			}
			batch := chunks[start:end]
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}
			vecs, err := deps.Embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return "", fmt.Errorf("pipeline: embed batch [%d:%d]: %w", start, end, err)
			}
			for i, c := range batch {
				c.Embedding = vecs[i]
			}
			rep.Progress(float64(end) / float64(len(chunks)))
		}

		if err := deps.Chunks.ReplaceCurrent(ctx, doc.ID, chunks); err != nil {
			return "", fmt.Errorf("pipeline: store embedded chunks: %w", err)
		}

		if err := writeMetadataAndManifest(ctx, deps, doc, p, chunks); err != nil {
			return "", err
		}

		if deps.VectorStore != nil && len(chunks) > 0 {
			vsChunks := make([]vectorstore.Chunk, 0, len(chunks))
			for _, c := range chunks {
				vsChunks = append(vsChunks, vectorstore.Chunk{
					ID:         fmt.Sprintf("%s:%d", doc.ID, c.ChunkIndex),
					DocumentID: doc.ID.String(),
					OwnerID:    doc.Owner,
					Content:    c.Content,
					Vector:     c.Embedding,
				})
			}
			exists, err := deps.VectorStore.CollectionExists(ctx, doc.Owner)
			if err != nil {
				return "", fmt.Errorf("pipeline: check collection: %w", err)
			}
			if !exists {
				if err := deps.VectorStore.CreateCollection(ctx, doc.Owner, len(chunks[0].Embedding)); err != nil {
					return "", fmt.Errorf("pipeline: create collection: %w", err)
				}
			}
			if err := deps.VectorStore.Upsert(ctx, doc.Owner, vsChunks); err != nil {
				return "", fmt.Errorf("pipeline: upsert embeddings: %w", err)
			}
		}

		return checksum, nil
	}
}

// documentMetadata is the document-level summary written to
// metadata.json (spec.md §6).
type documentMetadata struct {
	DocumentID  string                 `json:"document_id"`
	Owner       string                 `json:"owner"`
	SourceKind  repository.SourceKind  `json:"source_kind"`
	ChunkerKind repository.ChunkerKind `json:"chunker_kind"`
	WordCount   int                    `json:"word_count"`
	ChunkCount  int                    `json:"chunk_count"`
	CreatedAt   time.Time              `json:"created_at"`
}

// writeMetadataAndManifest emits the last two of spec.md §6's five
// durable per-document artifacts once the chunk set has reached its
// final, embedded form: metadata.json (document-level summary) and
// manifest.json (file inventory plus per-stage processing times).
func writeMetadataAndManifest(ctx context.Context, deps Deps, doc *repository.Document, p intermediatePaths, chunks []*repository.Chunk) error {
	meta := documentMetadata{
		DocumentID:  doc.ID.String(),
		Owner:       doc.Owner,
		SourceKind:  doc.SourceKind,
		ChunkerKind: doc.ChunkerKind,
		WordCount:   doc.WordCount,
		ChunkCount:  len(chunks),
		CreatedAt:   doc.CreatedAt,
	}
	metaJSON, err := storage.MarshalCanonical(meta)
	if err != nil {
		return fmt.Errorf("pipeline: marshal metadata: %w", err)
	}
	if err := deps.Storage.Upload(ctx, p.MetadataJSON(), metaJSON); err != nil {
		return fmt.Errorf("pipeline: upload metadata: %w", err)
	}

	manifest := &storage.Manifest{
		Version:    fmt.Sprintf("%d.0", storage.ManifestMajorVersion),
		DocumentID: doc.ID.String(),
		Files: []string{
			p.Source(sourceExt(doc.SourceKind)),
			p.ContentMD(),
			p.ChunksJSON(),
			p.CachedChunksJSON(),
			p.MetadataJSON(),
		},
		ProcessingTimes: processingTimes(ctx, deps, doc.ID),
	}
	manifestJSON, err := storage.MarshalCanonical(manifest)
	if err != nil {
		return fmt.Errorf("pipeline: marshal manifest: %w", err)
	}
	if err := deps.Storage.Upload(ctx, p.ManifestJSON(), manifestJSON); err != nil {
		return fmt.Errorf("pipeline: upload manifest: %w", err)
	}
	return nil
}

// processingTimes sums each stage's completed attempts into a
// per-stage millisecond total for manifest.json. A nil Stages
// dependency (or a lookup failure) degrades to an empty map rather
// than failing the stage — the manifest's file inventory is the part
// of the contract spec.md treats as load-bearing, not this summary.
func processingTimes(ctx context.Context, deps Deps, documentID uuid.UUID) map[string]int {
	times := map[string]int{}
	if deps.Stages == nil {
		return times
	}
	history, err := deps.Stages.History(ctx, documentID)
	if err != nil {
		return times
	}
	for _, rec := range history {
		if rec.CompletedAt == nil {
			continue
		}
		times[string(rec.Stage)] += int(rec.CompletedAt.Sub(rec.StartedAt).Milliseconds())
	}
	return times
}

// checkExistingManifest loads a previously written manifest.json (if
// any) and refuses an unknown major version before letting the
// Embedding stage skip on a checkpoint match — spec.md's "importers
// MUST refuse unknown majors" guard, exercised on the resume path
// rather than only in its own unit test.
func checkExistingManifest(ctx context.Context, deps Deps, p intermediatePaths) error {
	data, err := deps.Storage.Download(ctx, p.ManifestJSON())
	if err != nil {
		// No manifest yet (e.g. first run never reached this point before
		// a crash) — nothing to validate.
		return nil
	}
	var m storage.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("pipeline: unmarshal manifest: %w", err)
	}
	if err := storage.CheckManifestVersion(&m); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

func wordCount(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if isSpace {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}
