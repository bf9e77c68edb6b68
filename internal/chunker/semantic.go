package chunker

import (
	"context"
	"fmt"
	"math"

	"github.com/knoguchi/ingestcore/internal/repository"
)

// chunkSemantic embeds each sentence and cuts wherever the cosine
// similarity between consecutive sentences falls below
// semanticBoundaryThreshold, so a chunk boundary falls where the topic
// shifts rather than at a fixed size. Sentences are still accumulated
// under MaxTokens so no chunk can grow unbounded even across a long run
// of similar sentences.
func (c *Chunker) chunkSemantic(ctx context.Context, cleaned string) ([]*repository.Chunk, error) {
	if c.cfg.Embedder == nil {
		return nil, fmt.Errorf("chunker: semantic strategy requires an Embedder")
	}
	sentences := sentenceSpans(cleaned, 0, len(cleaned))
	if len(sentences) == 0 {
		return c.chunkParagraphFallback(cleaned), nil
	}
	if len(sentences) == 1 {
		s := sentences[0]
		return []*repository.Chunk{c.makeChunk(cleaned, s.start, s.end, nil)}, nil
	}

	texts := make([]string, len(sentences))
	for i, s := range sentences {
		texts[i] = cleaned[s.start:s.end]
	}
	vecs, err := c.cfg.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("chunker: embedding sentences for semantic strategy: %w", err)
	}

	var chunks []*repository.Chunk
	start := sentences[0].start
	end := sentences[0].end
	tokens := c.counter.Count(texts[0])

	for i := 1; i < len(sentences); i++ {
		sim := cosineSimilarity(vecs[i-1], vecs[i])
		segTokens := c.counter.Count(texts[i])

		boundary := sim < semanticBoundaryThreshold || tokens+segTokens > c.cfg.MaxTokens
		if boundary && tokens > 0 {
			chunks = append(chunks, c.makeChunk(cleaned, start, end, nil))
			start = sentences[i].start
			tokens = 0
		}
		end = sentences[i].end
		tokens += segTokens
	}
	chunks = append(chunks, c.makeChunk(cleaned, start, end, nil))
	return chunks, nil
}

// semanticBoundaryThreshold is the cosine-similarity floor below which
// two adjacent sentences are considered topically disjoint.
const semanticBoundaryThreshold = 0.55

// chunkLate approximates late chunking: embed the whole cleaned stream
// once (establishing document-level context), then chunk with a larger
// target window than the recursive default, attaching the whole-document
// embedding to every resulting chunk's RawExtra so a downstream consumer
// can pool it, per the late-chunking idea of embedding in full context
// before splitting. No cross-encoder/late-interaction library exists in
// the pack, so pooling beyond this attachment is left to the caller.
func (c *Chunker) chunkLate(ctx context.Context, cleaned string) ([]*repository.Chunk, error) {
	if c.cfg.Embedder == nil {
		return nil, fmt.Errorf("chunker: late strategy requires an Embedder")
	}
	docVec, err := c.cfg.Embedder.Embed(ctx, cleaned)
	if err != nil {
		return nil, fmt.Errorf("chunker: embedding full document for late strategy: %w", err)
	}

	widened := *c
	widened.cfg.TargetTokens = c.cfg.TargetTokens * 2
	widened.cfg.MaxTokens = c.cfg.MaxTokens * 2
	chunks := widened.chunkRecursive(cleaned, false)

	for _, ch := range chunks {
		if ch.RawExtra == nil {
			ch.RawExtra = map[string]any{}
		}
		ch.RawExtra["document_embedding"] = docVec
	}
	return chunks, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
