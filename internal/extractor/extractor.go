// Package extractor implements the Batch Extractor (spec §4.1): it
// splits a large source into overlapping page windows and emits
// provisional markdown plus provenance per batch. The worker-pool /
// channel / ordering pattern is grounded on the retrieval pack's PDF
// batch extractor (other_examples/..._batch_extract.go): a bounded pool
// of goroutines processes batches concurrently, a collector re-sorts by
// batch_index, matching spec §5's ordering guarantee.
package extractor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/knoguchi/ingestcore/internal/ingesterr"
	"github.com/knoguchi/ingestcore/internal/repository"
)

// BatchResult is the per-batch outcome of extraction (spec §4.1).
type BatchResult struct {
	BatchIndex    int
	PageStart     int
	PageEnd       int
	Markdown      string
	RawChunks     []*repository.RawChunk
	ExtractionMS  int64
	OK            bool
	Err           error
}

// Config configures an extraction run.
type Config struct {
	PagesPerBatch     int
	OverlapPages      int
	Workers           int
	ContentFloorBytes int
	PageTimeout       time.Duration
}

// PageReader decodes a source artifact's pages into plain markdown-ish
// text for a page range. The Batch Extractor never commits to a specific
// decoding library (spec §1 non-goal); any PageReader implementation is
// pluggable. TextExtractor below ships a trivial PageReader for
// source_kind md|text; pdf/epub decoding is supplied by the caller.
type PageReader interface {
	// ProbePageCount returns the total page count of the source. Its
	// result MUST be a strictly positive integer (spec §4.1).
	ProbePageCount(ctx context.Context, source string) (int, error)

	// ReadPages returns markdown-ish text for pages [start, end]
	// (1-indexed, inclusive) plus any bounding boxes discovered for that
	// range. Responses wrapped in triple-backtick fences are unwrapped by
	// the caller, not the PageReader.
	ReadPages(ctx context.Context, source string, start, end int) (string, []repository.BBox, error)
}

// Extractor is the Batch Extractor contract (spec §4.1):
// extract(source, config) -> Stream<BatchResult>.
type Extractor interface {
	Extract(ctx context.Context, source string, cfg Config) (<-chan BatchResult, error)
}

// TextExtractor implements Extractor over any PageReader, dispatching
// batches to a bounded worker pool.
type TextExtractor struct {
	reader PageReader
}

// NewTextExtractor creates an Extractor backed by the given PageReader.
func NewTextExtractor(reader PageReader) *TextExtractor {
	return &TextExtractor{reader: reader}
}

// Extract implements Extractor.
func (e *TextExtractor) Extract(ctx context.Context, source string, cfg Config) (<-chan BatchResult, error) {
	if cfg.PagesPerBatch <= 0 {
		cfg.PagesPerBatch = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ContentFloorBytes <= 0 {
		cfg.ContentFloorBytes = 20
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 60 * time.Second
	}

	total, err := e.reader.ProbePageCount(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("probing page count: %w", err)
	}
	if total <= 0 {
		return nil, ingesterr.ErrPageCountInvalid
	}

	ranges := CalculateBatchRanges(total, cfg.PagesPerBatch, cfg.OverlapPages)

	out := make(chan BatchResult, len(ranges))

	go func() {
		defer close(out)

		results := make([]BatchResult, len(ranges))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Workers)

		for _, br := range ranges {
			br := br
			g.Go(func() error {
				results[br.BatchIndex] = e.extractOne(gctx, source, br, cfg)
				return nil
			})
		}
		// Batch failures are recorded, not propagated: the pool never
		// returns an error from Wait, so a single failed batch never
		// aborts its siblings (spec §4.1: "the pipeline continues with
		// remaining batches").
		_ = g.Wait()

		for _, r := range results {
			select {
			case <-ctx.Done():
				return
			case out <- r:
			}
		}
	}()

	return out, nil
}

func (e *TextExtractor) extractOne(ctx context.Context, source string, br repository.BatchRange, cfg Config) BatchResult {
	start := time.Now()

	pctx, cancel := context.WithTimeout(ctx, cfg.PageTimeout)
	defer cancel()

	md, bboxes, err := e.reader.ReadPages(pctx, source, br.PageStart, br.PageEnd)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return BatchResult{
			BatchIndex:   br.BatchIndex,
			PageStart:    br.PageStart,
			PageEnd:      br.PageEnd,
			ExtractionMS: elapsed,
			OK:           false,
			Err:          &ingesterr.BatchFailed{BatchIndex: br.BatchIndex, Err: err},
		}
	}

	md = unwrapFences(md)

	if len(md) < cfg.ContentFloorBytes {
		return BatchResult{
			BatchIndex:   br.BatchIndex,
			PageStart:    br.PageStart,
			PageEnd:      br.PageEnd,
			ExtractionMS: elapsed,
			OK:           false,
			Err:          &ingesterr.BatchFailed{BatchIndex: br.BatchIndex, Err: ingesterr.ErrInsufficientContent},
		}
	}

	raw := &repository.RawChunk{
		Index:     br.BatchIndex,
		Content:   md,
		PageStart: br.PageStart,
		PageEnd:   br.PageEnd,
		BBoxes:    bboxes,
		CharSpan:  repository.CharSpan{Start: 0, End: len(md)},
	}

	return BatchResult{
		BatchIndex:   br.BatchIndex,
		PageStart:    br.PageStart,
		PageEnd:      br.PageEnd,
		Markdown:     md,
		RawChunks:    []*repository.RawChunk{raw},
		ExtractionMS: elapsed,
		OK:           true,
	}
}

// Collect drains a BatchResult stream into a slice ordered by
// batch_index, as required before the Stitcher may consume it (spec §5).
func Collect(ch <-chan BatchResult) []BatchResult {
	var results []BatchResult
	for r := range ch {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].BatchIndex < results[j].BatchIndex })
	return results
}

// AssignDocumentIDs stamps every raw chunk across a batch result set with
// the owning document's ID, establishing the RawChunk.DocumentID field
// the cache and repository layers key on.
func AssignDocumentIDs(results []BatchResult, documentID uuid.UUID) {
	for _, r := range results {
		for _, rc := range r.RawChunks {
			rc.DocumentID = documentID
		}
	}
}

// unwrapFences strips a single enclosing triple-backtick fence, as
// emitted by many LLM-backed extractors (spec §4.1: "Responses wrapped
// in triple-backtick fences must be unwrapped").
func unwrapFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 6 || !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") {
		return s
	}
	inner := trimmed[3 : len(trimmed)-3]
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 && nl < 20 {
		inner = inner[nl+1:]
	}
	return strings.TrimSpace(inner)
}
