// Package chunker implements the Chunker (spec §4.4): splits cleaned
// markdown into Chunks under a chosen strategy, each satisfying
// content.trim() == cleaned_markdown[start:end].trim(), start < end, and
// ascending non-overlapping offset order.
package chunker

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/knoguchi/ingestcore/internal/embedder"
	"github.com/knoguchi/ingestcore/internal/ingesterr"
	"github.com/knoguchi/ingestcore/internal/repository"
)

// Config configures a Chunker for one document.
type Config struct {
	Strategy      repository.ChunkerKind
	TargetTokens  int
	MaxTokens     int
	OverlapTokens int

	// TokenizerName names the tiktoken-go encoding; if empty it is
	// derived from Embedder.TokenizerName() or falls back to
	// embedder.DefaultTokenizer.
	TokenizerName string

	// Embedder is required for the semantic and late strategies.
	Embedder embedder.Embedder
}

// Chunker splits cleaned markdown into Chunks per Config.Strategy.
type Chunker struct {
	cfg     Config
	counter *tokenCounter
}

// New constructs a Chunker, applying defaults and resolving the
// tokenizer used by token-budget strategies.
func New(cfg Config) *Chunker {
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = 400
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	if cfg.OverlapTokens >= cfg.TargetTokens {
		cfg.OverlapTokens = cfg.TargetTokens / 4
	}
	if cfg.TokenizerName == "" {
		if cfg.Embedder != nil {
			cfg.TokenizerName = cfg.Embedder.TokenizerName()
		} else {
			cfg.TokenizerName = embedder.DefaultTokenizer
		}
	}
	if cfg.Strategy == "" {
		cfg.Strategy = repository.ChunkerRecursive
	}
	return &Chunker{cfg: cfg, counter: newTokenCounter(cfg.TokenizerName)}
}

// Chunk splits cleaned markdown for documentID according to the
// configured strategy.
func (c *Chunker) Chunk(ctx context.Context, documentID uuid.UUID, cleaned string) ([]*repository.Chunk, error) {
	if strings.TrimSpace(cleaned) == "" {
		return nil, nil
	}

	var chunks []*repository.Chunk
	var err error

	switch c.cfg.Strategy {
	case repository.ChunkerRecursive:
		chunks = c.chunkRecursive(cleaned, false)
	case repository.ChunkerCode:
		chunks = c.chunkRecursive(cleaned, true)
	case repository.ChunkerHybrid:
		chunks = c.chunkHybrid(cleaned)
	case repository.ChunkerSentence:
		chunks = c.chunkSentence(cleaned)
	case repository.ChunkerToken:
		chunks = c.chunkToken(cleaned)
	case repository.ChunkerSemantic:
		chunks, err = c.chunkSemantic(ctx, cleaned)
	case repository.ChunkerLate:
		chunks, err = c.chunkLate(ctx, cleaned)
	default:
		chunks = c.chunkRecursive(cleaned, false)
	}
	if err != nil {
		return nil, err
	}

	for i, ch := range chunks {
		ch.DocumentID = documentID
		ch.ChunkIndex = i
		ch.ChunkerType = c.cfg.Strategy
		if ch.StartOffset >= ch.EndOffset {
			return nil, &ingesterr.ChunkInvariantViolated{ChunkIndex: i, Reason: "start >= end"}
		}
		if strings.TrimSpace(ch.Content) != strings.TrimSpace(cleaned[ch.StartOffset:ch.EndOffset]) {
			return nil, &ingesterr.ChunkInvariantViolated{ChunkIndex: i, Reason: "content does not match cleaned_markdown[start:end]"}
		}
		if i > 0 && ch.StartOffset < chunks[i-1].EndOffset {
			return nil, &ingesterr.ChunkInvariantViolated{ChunkIndex: i, Reason: "chunk overlaps previous chunk"}
		}
	}
	return chunks, nil
}

func (c *Chunker) makeChunk(cleaned string, start, end int, headingPath []string) *repository.Chunk {
	content := strings.TrimSpace(cleaned[start:end])
	return &repository.Chunk{
		Content:     content,
		StartOffset: start,
		EndOffset:   end,
		TokenCount:  c.counter.Count(content),
		HeadingPath: headingPath,
	}
}
