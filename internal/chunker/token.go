package chunker

import (
	"unicode"

	"github.com/knoguchi/ingestcore/internal/repository"
)

// chunkToken splits on whitespace-delimited word boundaries and flushes
// once the accumulated text's tiktoken-go token count reaches
// TargetTokens, so chunk sizes line up with what the embedding model's
// tokenizer actually consumes rather than a word or byte proxy.
func (c *Chunker) chunkToken(cleaned string) []*repository.Chunk {
	words := wordSpans(cleaned)
	if len(words) == 0 {
		return c.chunkParagraphFallback(cleaned)
	}

	var chunks []*repository.Chunk
	start := words[0].start
	end := words[0].end

	for i := 1; i < len(words); i++ {
		candidateEnd := words[i].end
		tokens := c.counter.Count(cleaned[start:candidateEnd])
		if tokens > c.cfg.TargetTokens {
			chunks = append(chunks, c.makeChunk(cleaned, start, end, nil))
			start = words[i].start
		}
		end = candidateEnd
	}
	chunks = append(chunks, c.makeChunk(cleaned, start, end, nil))
	return chunks
}

// wordSpans finds whitespace-delimited word spans as byte offsets.
func wordSpans(s string) []span {
	var spans []span
	inWord := false
	wordStart := 0
	runes := []rune(s)
	byteOffsets := make([]int, len(runes)+1)
	off := 0
	for i, r := range runes {
		byteOffsets[i] = off
		off += len(string(r))
	}
	byteOffsets[len(runes)] = off

	for i, r := range runes {
		if unicode.IsSpace(r) {
			if inWord {
				spans = append(spans, span{start: byteOffsets[wordStart], end: byteOffsets[i]})
				inWord = false
			}
			continue
		}
		if !inWord {
			wordStart = i
			inWord = true
		}
	}
	if inWord {
		spans = append(spans, span{start: byteOffsets[wordStart], end: byteOffsets[len(runes)]})
	}
	return spans
}
