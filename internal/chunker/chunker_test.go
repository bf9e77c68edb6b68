package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/knoguchi/ingestcore/internal/repository"
)

const sampleMarkdown = `# Introduction

This document explains the ingestion pipeline in detail. It extracts text from pages and stitches the batches together. Then it cleans the markdown and splits it into chunks.

## Background

The system was designed to process very large documents without exceeding memory budgets. Each stage checkpoints its progress so a failed run can resume.

` + "```go\nfunc main() {\n\tfmt.Println(\"hello\")\n}\n```" + `

## Conclusion

This concludes the overview of the system.
`

func assertInvariants(t *testing.T, cleaned string, chunks []*repository.Chunk) {
	t.Helper()
	for i, ch := range chunks {
		if ch.StartOffset >= ch.EndOffset {
			t.Fatalf("chunk %d: start %d >= end %d", i, ch.StartOffset, ch.EndOffset)
		}
		got := strings.TrimSpace(cleaned[ch.StartOffset:ch.EndOffset])
		if got != strings.TrimSpace(ch.Content) {
			t.Fatalf("chunk %d: content mismatch: chunk.Content=%q slice=%q", i, ch.Content, got)
		}
		if i > 0 && ch.StartOffset < chunks[i-1].EndOffset {
			t.Fatalf("chunk %d overlaps chunk %d", i, i-1)
		}
		if ch.ChunkIndex != i {
			t.Fatalf("chunk %d has ChunkIndex %d", i, ch.ChunkIndex)
		}
	}
}

func TestChunkRecursiveSatisfiesInvariants(t *testing.T) {
	c := New(Config{Strategy: repository.ChunkerRecursive, TargetTokens: 40, MaxTokens: 80})
	chunks, err := c.Chunk(context.Background(), uuid.New(), sampleMarkdown)
	if err != nil {
		t.Fatalf("Chunk returned error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	assertInvariants(t, sampleMarkdown, chunks)
}

func TestChunkCodeStrategyKeepsFenceAtomic(t *testing.T) {
	c := New(Config{Strategy: repository.ChunkerCode, TargetTokens: 5, MaxTokens: 10})
	chunks, err := c.Chunk(context.Background(), uuid.New(), sampleMarkdown)
	if err != nil {
		t.Fatalf("Chunk returned error: %v", err)
	}
	assertInvariants(t, sampleMarkdown, chunks)

	found := false
	for _, ch := range chunks {
		if strings.Contains(ch.Content, "```go") {
			found = true
			if !strings.Contains(ch.Content, "```\n") && !strings.HasSuffix(strings.TrimSpace(ch.Content), "```") {
				t.Errorf("fenced code block split across chunks: %q", ch.Content)
			}
		}
	}
	if !found {
		t.Fatal("expected a chunk containing the fenced code block")
	}
}

func TestChunkSentenceSatisfiesInvariants(t *testing.T) {
	c := New(Config{Strategy: repository.ChunkerSentence, TargetTokens: 15, MaxTokens: 30})
	chunks, err := c.Chunk(context.Background(), uuid.New(), sampleMarkdown)
	if err != nil {
		t.Fatalf("Chunk returned error: %v", err)
	}
	assertInvariants(t, sampleMarkdown, chunks)
}

func TestChunkTokenSatisfiesInvariants(t *testing.T) {
	c := New(Config{Strategy: repository.ChunkerToken, TargetTokens: 10, MaxTokens: 20})
	chunks, err := c.Chunk(context.Background(), uuid.New(), sampleMarkdown)
	if err != nil {
		t.Fatalf("Chunk returned error: %v", err)
	}
	assertInvariants(t, sampleMarkdown, chunks)
}

func TestChunkHybridSatisfiesInvariants(t *testing.T) {
	c := New(Config{Strategy: repository.ChunkerHybrid, TargetTokens: 20, MaxTokens: 80, OverlapTokens: 5})
	chunks, err := c.Chunk(context.Background(), uuid.New(), sampleMarkdown)
	if err != nil {
		t.Fatalf("Chunk returned error: %v", err)
	}
	assertInvariants(t, sampleMarkdown, chunks)
}

func TestChunkEmptyInputReturnsNoChunks(t *testing.T) {
	c := New(Config{Strategy: repository.ChunkerRecursive})
	chunks, err := c.Chunk(context.Background(), uuid.New(), "   \n\n  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks != nil {
		t.Errorf("expected nil chunks for blank input, got %+v", chunks)
	}
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		// Alternate vectors so some adjacent pairs dissimilar, exercising boundary detection.
		if i%2 == 0 {
			vecs[i] = []float32{1, 0, 0}
		} else {
			vecs[i] = []float32{0, 1, 0}
		}
	}
	return vecs, nil
}

func (stubEmbedder) Dimension() int        { return 3 }
func (stubEmbedder) ModelName() string     { return "stub" }
func (stubEmbedder) TokenizerName() string { return "cl100k_base" }

func TestChunkSemanticSatisfiesInvariants(t *testing.T) {
	c := New(Config{Strategy: repository.ChunkerSemantic, TargetTokens: 30, MaxTokens: 60, Embedder: stubEmbedder{}})
	chunks, err := c.Chunk(context.Background(), uuid.New(), sampleMarkdown)
	if err != nil {
		t.Fatalf("Chunk returned error: %v", err)
	}
	assertInvariants(t, sampleMarkdown, chunks)
}

func TestChunkLateAttachesDocumentEmbedding(t *testing.T) {
	c := New(Config{Strategy: repository.ChunkerLate, TargetTokens: 30, MaxTokens: 60, Embedder: stubEmbedder{}})
	chunks, err := c.Chunk(context.Background(), uuid.New(), sampleMarkdown)
	if err != nil {
		t.Fatalf("Chunk returned error: %v", err)
	}
	assertInvariants(t, sampleMarkdown, chunks)
	for _, ch := range chunks {
		if _, ok := ch.RawExtra["document_embedding"]; !ok {
			t.Errorf("expected document_embedding in RawExtra for chunk %d", ch.ChunkIndex)
		}
	}
}
