package chunker

import (
	"strings"

	"github.com/knoguchi/ingestcore/internal/repository"
)

// chunkRecursive groups consecutive blocks into token-budgeted chunks.
// Headings attach to the chunk that follows them rather than standing
// alone. Fenced code and tables are atomic: one that fits within
// MaxTokens is never split. codeAtomic (the code strategy's rule)
// additionally keeps an atomic block whole even when it alone exceeds
// MaxTokens; under the plain recursive strategy such an oversized block
// is split at sentence boundaries like any other oversized block.
func (c *Chunker) chunkRecursive(cleaned string, codeAtomic bool) []*repository.Chunk {
	blocks := parseBlocks([]byte(cleaned))
	if len(blocks) == 0 {
		return c.chunkParagraphFallback(cleaned)
	}

	var chunks []*repository.Chunk
	groupStart := -1
	groupEnd := -1
	var groupHeading []string
	groupTokens := 0

	flush := func() {
		if groupStart < 0 {
			return
		}
		chunks = append(chunks, c.makeChunk(cleaned, groupStart, groupEnd, groupHeading))
		groupStart, groupEnd, groupTokens = -1, -1, 0
	}

	for _, b := range blocks {
		if b.kind == "heading" {
			// A heading with nothing accumulated yet starts the next
			// group; otherwise it closes the current group so the new
			// section starts its own chunk.
			if groupTokens > 0 {
				flush()
			}
			if groupStart < 0 {
				groupStart = b.start
			}
			groupEnd = b.end
			groupHeading = b.headingPath
			continue
		}

		text := cleaned[b.start:b.end]
		tokens := c.counter.Count(text)
		isAtomic := b.kind == "code" || b.kind == "table"

		if groupTokens > 0 && groupTokens+tokens > c.cfg.TargetTokens {
			flush()
		}
		if groupStart < 0 {
			groupStart = b.start
		}
		if isAtomic && (codeAtomic || tokens <= c.cfg.MaxTokens) {
			// keep whole regardless of remaining budget
		} else if tokens > c.cfg.MaxTokens {
			// oversized non-atomic block: flush what we have, then split
			// this block on its own by sentence boundaries.
			if groupTokens > 0 {
				flush()
				groupStart = b.start
			}
			sub := c.splitOversizedBlock(cleaned, b)
			if groupStart >= 0 && groupStart < b.start && len(sub) > 0 {
				// A pending heading joins the first piece of the split block.
				sub[0] = c.makeChunk(cleaned, groupStart, sub[0].EndOffset, sub[0].HeadingPath)
			}
			chunks = append(chunks, sub...)
			groupStart, groupEnd, groupTokens = -1, -1, 0
			continue
		}
		groupEnd = b.end
		groupTokens += tokens
		groupHeading = b.headingPath
	}
	flush()

	if len(chunks) == 0 {
		return c.chunkParagraphFallback(cleaned)
	}
	return chunks
}

// splitOversizedBlock splits a single block (too large to fit in one
// chunk on its own) at sentence boundaries within its span.
func (c *Chunker) splitOversizedBlock(cleaned string, b block) []*repository.Chunk {
	sentences := sentenceSpans(cleaned, b.start, b.end)
	if len(sentences) == 0 {
		return []*repository.Chunk{c.makeChunk(cleaned, b.start, b.end, b.headingPath)}
	}

	var out []*repository.Chunk
	start := sentences[0].start
	end := sentences[0].end
	tokens := c.counter.Count(cleaned[start:end])

	for _, s := range sentences[1:] {
		segTokens := c.counter.Count(cleaned[s.start:s.end])
		if tokens+segTokens > c.cfg.TargetTokens {
			out = append(out, c.makeChunk(cleaned, start, end, b.headingPath))
			start = s.start
			tokens = 0
		}
		end = s.end
		tokens += segTokens
	}
	out = append(out, c.makeChunk(cleaned, start, end, b.headingPath))
	return out
}

// chunkParagraphFallback handles content goldmark parses as having no
// blocks at all (e.g. a single run of plain text).
func (c *Chunker) chunkParagraphFallback(cleaned string) []*repository.Chunk {
	trimmed := strings.TrimSpace(cleaned)
	if trimmed == "" {
		return nil
	}
	start := strings.Index(cleaned, trimmed)
	if start < 0 {
		start = 0
	}
	return []*repository.Chunk{c.makeChunk(cleaned, start, start+len(trimmed), nil)}
}

// chunkHybrid runs chunkRecursive then merges small adjacent
// non-atomic chunks whose combined token count still fits within
// TargetTokens+OverlapTokens, following the adaptive merge heuristic
// observed in the pack's content-type-aware chunk processor.
func (c *Chunker) chunkHybrid(cleaned string) []*repository.Chunk {
	base := c.chunkRecursive(cleaned, false)
	if len(base) < 2 {
		return base
	}

	merged := []*repository.Chunk{base[0]}
	for _, next := range base[1:] {
		last := merged[len(merged)-1]
		if isAtomicContent(last.Content) || isAtomicContent(next.Content) {
			merged = append(merged, next)
			continue
		}
		combinedTokens := last.TokenCount + next.TokenCount
		if combinedTokens <= c.cfg.TargetTokens+c.cfg.OverlapTokens && next.StartOffset == last.EndOffset {
			last.EndOffset = next.EndOffset
			last.Content = strings.TrimSpace(cleaned[last.StartOffset:last.EndOffset])
			last.TokenCount = combinedTokens
			if len(next.HeadingPath) > len(last.HeadingPath) {
				last.HeadingPath = next.HeadingPath
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

func isAtomicContent(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "```")
}
