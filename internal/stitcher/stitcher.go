// Package stitcher implements the Stitcher (spec §4.2): concatenates
// ordered batches by locating per-pair overlaps (exact -> fuzzy ->
// separator fallback), producing one canonical markdown stream with a
// monotone offset space. Normalization is shared with the Bulletproof
// Matcher's layer 1 via internal/textnorm (spec §9 Open Question
// resolution).
package stitcher

import (
	"math"
	"strings"

	"github.com/knoguchi/ingestcore/internal/ingesterr"
	"github.com/knoguchi/ingestcore/internal/textnorm"
)

// Separator joins adjacent batches when no overlap is found.
const Separator = "\n\n---\n\n"

// Config configures the overlap search.
type Config struct {
	MaxOverlapChars   int
	MaxOverlapPercent float64
	MinOverlapChars   int
	FuzzyThreshold    float64
}

// PairResult records how one adjacent pair of batches was stitched,
// useful for diagnostics and for the manifest.
type PairResult struct {
	Method     string // "exact" | "fuzzy" | "none"
	Confidence float64
}

// Result is the outcome of stitching an ordered batch list.
type Result struct {
	Markdown string
	Pairs    []PairResult
	// Warnings collects informational ErrStitchNoOverlap occurrences,
	// one per pair that fell back to the separator.
	Warnings []error
}

// Stitch concatenates ordered batch markdowns, eliminating the shared
// tail/head region without duplication (spec §4.2 contract:
// stitch(ordered_batches) -> String). Batches MUST already be ordered by
// batch_index; the Stitcher imposes no reordering of its own.
func Stitch(batches []string, cfg Config) Result {
	if cfg.MaxOverlapChars <= 0 {
		cfg.MaxOverlapChars = 4000
	}
	if cfg.MaxOverlapPercent <= 0 {
		cfg.MaxOverlapPercent = 0.5
	}
	if cfg.MinOverlapChars <= 0 {
		cfg.MinOverlapChars = 20
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = 0.80
	}

	if len(batches) == 0 {
		return Result{}
	}
	if len(batches) == 1 {
		return Result{Markdown: batches[0]}
	}

	var sb strings.Builder
	sb.WriteString(batches[0])
	result := Result{}

	for i := 1; i < len(batches); i++ {
		a, b := batches[i-1], batches[i]
		pair, consumed := stitchPair(a, b, cfg)
		result.Pairs = append(result.Pairs, pair)
		if pair.Method == "none" {
			sb.WriteString(Separator)
			result.Warnings = append(result.Warnings, ingesterr.ErrStitchNoOverlap)
			sb.WriteString(b)
			continue
		}
		// consumed is the byte length of b's overlapping prefix; write
		// only the non-overlapping remainder so the overlap region
		// appears exactly once in the output.
		sb.WriteString(b[consumed:])
	}

	result.Markdown = sb.String()
	return result
}

// stitchPair finds the overlap between the tail of a and the head of b,
// returning how much of b's prefix is already present at the tail of a
// (and therefore should be skipped when appending b).
func stitchPair(a, b string, cfg Config) (PairResult, int) {
	window := windowSize(len(a), len(b), cfg)
	if window < cfg.MinOverlapChars {
		return PairResult{Method: "none"}, 0
	}

	aTail := lastN(a, window)
	bHead := firstN(b, window)

	normA := textnorm.Normalize(aTail)
	normB := textnorm.Normalize(bHead)

	// Exact pass: longest suffix of normA that equals a prefix of normB,
	// length >= MinOverlapChars.
	if n, ok := longestSuffixPrefixMatch(normA, normB, cfg.MinOverlapChars); ok {
		// Map the normalized-match length back to raw bHead length. Since
		// Normalize never lengthens runs of meaningful characters (only
		// collapses whitespace), the raw prefix of b that corresponds to
		// the matched normalized prefix is at least n runes; we
		// conservatively consume the raw bHead bytes that produced the
		// first n runes of normB.
		consumed := rawPrefixLenForNormalizedLen(bHead, n)
		return PairResult{Method: "exact", Confidence: 1.0}, consumed
	}

	// Fuzzy pass: try the few top candidate window sizes around
	// MinOverlapChars..window, accept the highest-scoring slice with
	// ratio >= FuzzyThreshold.
	bestRatio := 0.0
	bestLen := 0
	for length := cfg.MinOverlapChars; length <= window; length += candidateStep(window) {
		suffix := lastN(normA, length)
		prefix := firstN(normB, length)
		ratio := textnorm.SimilarityRatio(suffix, prefix)
		if ratio > bestRatio {
			bestRatio = ratio
			bestLen = length
		}
	}
	if bestRatio >= cfg.FuzzyThreshold {
		consumed := rawPrefixLenForNormalizedLen(bHead, bestLen)
		return PairResult{Method: "fuzzy", Confidence: bestRatio}, consumed
	}

	return PairResult{Method: "none"}, 0
}

func windowSize(lenA, lenB int, cfg Config) int {
	minLen := lenA
	if lenB < minLen {
		minLen = lenB
	}
	byPercent := int(math.Floor(cfg.MaxOverlapPercent * float64(minLen)))
	w := cfg.MaxOverlapChars
	if byPercent < w {
		w = byPercent
	}
	return w
}

func lastN(s string, n int) string {
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

func firstN(s string, n int) string {
	if n >= len(s) {
		return s
	}
	return s[:n]
}

// longestSuffixPrefixMatch finds the longest k such that the last k runes
// of a equal the first k runes of b, with k >= minLen.
func longestSuffixPrefixMatch(a, b string, minLen int) (int, bool) {
	ra, rb := []rune(a), []rune(b)
	maxK := len(ra)
	if len(rb) < maxK {
		maxK = len(rb)
	}
	for k := maxK; k >= minLen; k-- {
		if string(ra[len(ra)-k:]) == string(rb[:k]) {
			return k, true
		}
	}
	return 0, false
}

// rawPrefixLenForNormalizedLen maps a count of normalized runes back to
// a byte length in the raw (un-normalized) string by walking runes and
// tracking how normalization would have collapsed whitespace. Since
// Normalize is a strict whitespace collapse, walking the raw string and
// counting "normalized-equivalent" runes produced is sufficient.
func rawPrefixLenForNormalizedLen(raw string, normCount int) int {
	if normCount <= 0 {
		return 0
	}
	normalized := textnorm.Normalize(raw)
	nr := []rune(normalized)
	if normCount >= len(nr) {
		return len(raw)
	}
	// Binary search over raw byte prefixes for the shortest prefix whose
	// normalized form has at least normCount runes.
	lo, hi := 0, len(raw)
	for lo < hi {
		mid := (lo + hi) / 2
		if len([]rune(textnorm.Normalize(raw[:mid]))) >= normCount {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

func candidateStep(window int) int {
	// Sample about 20 candidate lengths rather than every length, bounding
	// the fuzzy pass to O(1) comparisons of O(window^2) cost each,
	// consistent with spec §4.2's O(batches * window^2) worst case.
	step := window / 20
	if step < 1 {
		step = 1
	}
	return step
}
