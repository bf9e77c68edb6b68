package chunker

import (
	"strings"
	"unicode"

	"github.com/knoguchi/ingestcore/internal/repository"
)

type span struct{ start, end int }

var abbreviations = map[string]bool{
	"mr.": true, "mrs.": true, "ms.": true, "dr.": true, "prof.": true,
	"inc.": true, "ltd.": true, "corp.": true,
	"etc.": true, "e.g.": true, "i.e.": true,
	"vs.": true, "v.": true,
	"st.": true, "ave.": true, "blvd.": true,
	"no.": true, "vol.": true, "pg.": true,
}

// sentenceSpans finds sentence boundaries within text[from:to], returning
// byte spans relative to the full text so callers can slice directly.
func sentenceSpans(text string, from, to int) []span {
	sub := text[from:to]
	runes := []rune(sub)

	var spans []span
	start := 0
	lastNonSpace := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !unicode.IsSpace(r) {
			lastNonSpace = i + 1
		}
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				candidate := strings.TrimSpace(string(runes[start : i+1]))
				if candidate != "" && !endsWithAbbreviation(candidate) {
					byteStart := from + len(string(runes[:start]))
					byteEnd := from + len(string(runes[:i+1]))
					spans = append(spans, span{start: byteStart, end: byteEnd})
					start = i + 1
				}
			}
		}
	}
	if start < lastNonSpace {
		byteStart := from + len(string(runes[:start]))
		byteEnd := from + len(string(runes[:lastNonSpace]))
		spans = append(spans, span{start: byteStart, end: byteEnd})
	}
	return spans
}

func endsWithAbbreviation(s string) bool {
	lower := strings.ToLower(s)
	for abbr := range abbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}

// chunkSentence groups sentences until TargetTokens is reached, never
// splitting a sentence across chunks. A sentence that alone exceeds
// MaxTokens is emitted whole as a chunk of its own.
func (c *Chunker) chunkSentence(cleaned string) []*repository.Chunk {
	sentences := sentenceSpans(cleaned, 0, len(cleaned))
	if len(sentences) == 0 {
		return c.chunkParagraphFallback(cleaned)
	}

	var chunks []*repository.Chunk
	start, end, tokens := -1, -1, 0

	flush := func() {
		if start < 0 {
			return
		}
		chunks = append(chunks, c.makeChunk(cleaned, start, end, nil))
	}

	if first := sentences[0]; c.counter.Count(cleaned[first.start:first.end]) > c.cfg.MaxTokens {
		chunks = append(chunks, c.makeChunk(cleaned, first.start, first.end, nil))
	} else {
		start, end, tokens = first.start, first.end, c.counter.Count(cleaned[first.start:first.end])
	}

	for _, s := range sentences[1:] {
		segText := cleaned[s.start:s.end]
		segTokens := c.counter.Count(segText)

		if segTokens > c.cfg.MaxTokens {
			flush()
			chunks = append(chunks, c.makeChunk(cleaned, s.start, s.end, nil))
			start, end, tokens = -1, -1, 0
			continue
		}

		if start < 0 {
			start = s.start
			end = s.end
			tokens = segTokens
			continue
		}

		if tokens+segTokens > c.cfg.TargetTokens {
			flush()
			start = s.start
			end = s.end
			tokens = segTokens
			continue
		}
		end = s.end
		tokens += segTokens
	}
	if start >= 0 {
		flush()
	}
	return chunks
}
